// Package cron schedules recurring chat messages.
//
// The package is split into small components:
//   - validate.go: schedule expression checks (5-field, UTC only)
//   - registry.go: the in-memory job table (source of truth)
//   - timers.go: one robfig/cron runner with per-job ARMED/DISARMED timers
//   - executor.go: a fire reads the registry, sends through the gateway and records the run
//   - scheduler.go: the facade that keeps registry and timers in step
package cron
