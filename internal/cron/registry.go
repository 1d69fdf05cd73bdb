package cron

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Registry is the in-memory job table. It is the source of truth for job
// definitions and run history; timers follow it.
//
// All methods are safe for concurrent use. Returned jobs are copies.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[string]*Job{}}
}

// newJob validates def and builds a job with a fresh id.
// The job is not registered yet.
func newJob(def JobDef, now time.Time) (Job, error) {
	name := strings.TrimSpace(def.Name)
	sched := strings.TrimSpace(def.Schedule)
	target := strings.TrimSpace(def.Target)
	switch {
	case name == "":
		return Job{}, missingField("name")
	case sched == "":
		return Job{}, missingField("schedule")
	case target == "":
		return Job{}, missingField("target")
	case def.Message == "":
		return Job{}, missingField("message")
	}
	if err := ValidateSchedule(sched); err != nil {
		return Job{}, err
	}

	enabled := true
	if def.Enabled != nil {
		enabled = *def.Enabled
	}
	return Job{
		ID:          xid.NewWithTime(now).String(),
		Name:        name,
		Description: def.Description,
		AgentID:     orDefault(def.AgentID, DefaultAgentID),
		Schedule:    sched,
		Target:      target,
		Message:     def.Message,
		Enabled:     enabled,
		WakeMode:    orDefault(def.WakeMode, DefaultWakeMode),
		PayloadType: orDefault(def.PayloadType, DefaultPayloadType),
		RunHistory:  []RunRecord{},
		CreatedAt:   now.UTC(),
	}, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

// Create validates def and registers a new job.
func (r *Registry) Create(def JobDef) (Job, error) {
	job, err := newJob(def, time.Now())
	if err != nil {
		return Job{}, err
	}
	r.Insert(job)
	return job.clone(), nil
}

// Insert registers an already built job. An existing id is replaced.
func (r *Registry) Insert(job Job) {
	cp := job.clone()
	r.mu.Lock()
	r.jobs[job.ID] = &cp
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j.clone(), nil
}

// List returns all jobs ordered by creation time, then id.
func (r *Registry) List() []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

func (r *Registry) SetEnabled(id string, enabled bool) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	j.Enabled = enabled
	return j.clone(), nil
}

// RecordRun prepends a run record and trims history to HistoryLimit.
// LastRun is set to at for every outcome.
func (r *Registry) RecordRun(id string, at time.Time, outcome Outcome, runErr error) (Job, error) {
	rec := RunRecord{At: at.UTC(), Outcome: outcome}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	hist := make([]RunRecord, 0, min(len(j.RunHistory)+1, HistoryLimit))
	hist = append(hist, rec)
	for _, h := range j.RunHistory {
		if len(hist) == HistoryLimit {
			break
		}
		hist = append(hist, h)
	}
	j.RunHistory = hist
	last := rec.At
	j.LastRun = &last
	return j.clone(), nil
}
