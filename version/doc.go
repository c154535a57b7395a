// Package version carries the build identity of rediskit binaries.
//
// Values are stamped at link time:
//
//	go build -ldflags "-X github.com/kbukum/rediskit/version.Version=1.2.0" ./cmd/redis-report
//
// Anything left unset is filled from the module build info.
package version
