package cron

import (
	"time"

	"moltby/internal/eventbus"
)

// Event types published on the bus.
const (
	EventJobCreated   = "cron.job.created"
	EventJobDeleted   = "cron.job.deleted"
	EventJobToggled   = "cron.job.toggled"
	EventDispatchOK   = "cron.dispatch.success"
	EventDispatchErr  = "cron.dispatch.failure"
	EventDispatchSkip = "cron.dispatch.skipped"
)

// DispatchEvent is the Data of cron.dispatch.* events.
type DispatchEvent struct {
	JobID    string        `json:"jobId"`
	Target   string        `json:"target"`
	Manual   bool          `json:"manual"`
	Duration time.Duration `json:"duration"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// JobEvent is the Data of cron.job.* events.
type JobEvent struct {
	JobID   string `json:"jobId"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func publish(bus eventbus.Bus, typ string, data any) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
