package cron

import (
	"time"
)

// HistoryLimit caps RunHistory per job.
const HistoryLimit = 10

const (
	DefaultAgentID     = "default"
	DefaultWakeMode    = "Next heartbeat"
	DefaultPayloadType = "System event"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// RunRecord is one dispatch attempt.
type RunRecord struct {
	At      time.Time `json:"at"`
	Outcome Outcome   `json:"outcome"`
	Error   string    `json:"error,omitempty"`
}

// Job is a registered recurring message.
//
// Only Enabled, LastRun and RunHistory change after creation.
type Job struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	AgentID     string      `json:"agentId"`
	Schedule    string      `json:"schedule"`
	Target      string      `json:"chatId"`
	Message     string      `json:"message"`
	Enabled     bool        `json:"enabled"`
	WakeMode    string      `json:"wakeMode"`
	PayloadType string      `json:"payloadType"`
	LastRun     *time.Time  `json:"lastRun"`
	RunHistory  []RunRecord `json:"runHistory"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (j Job) clone() Job {
	cp := j
	if j.LastRun != nil {
		t := *j.LastRun
		cp.LastRun = &t
	}
	cp.RunHistory = append(make([]RunRecord, 0, len(j.RunHistory)), j.RunHistory...)
	return cp
}

// JobDef is the caller-supplied part of a job.
// Enabled is a pointer so "omitted" can default to true.
type JobDef struct {
	Name        string
	Description string
	AgentID     string
	Schedule    string
	Target      string
	Message     string
	Enabled     *bool
	WakeMode    string
	PayloadType string
}

// TimerState is the per-job timer lifecycle state.
type TimerState int

const (
	TimerAbsent TimerState = iota
	TimerArmed
	TimerDisarmed
)

func (s TimerState) String() string {
	switch s {
	case TimerArmed:
		return "armed"
	case TimerDisarmed:
		return "disarmed"
	default:
		return "absent"
	}
}

// JobInfo is a job plus its timer view, used by listings.
type JobInfo struct {
	Job
	Timer   string     `json:"timer"`
	NextRun *time.Time `json:"nextRun"`
}

type Snapshot struct {
	Running  bool
	Timezone string
	Jobs     []JobInfo
	Armed    int
	Disarmed int
}
