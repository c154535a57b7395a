// Package component defines the lifecycle contract shared by rediskit
// services and a registry that starts them in order and stops them in
// reverse.
//
//	reg := component.NewRegistry(log)
//	_ = reg.Register(manager)
//	if err := reg.StartAll(ctx); err != nil { ... }
//	defer reg.StopAll(ctx)
package component
