// Package storage persists the operator audit trail.
//
// Drivers: "file" (JSON Lines) and "sqlite" (modernc.org/sqlite, pure Go).
// Job definitions and run history are never stored here; they live in memory.
package storage
