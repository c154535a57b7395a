// Package util provides small helpers shared by rediskit packages: memory
// size parsing and formatting for health reports, and ordered map keys.
package util
