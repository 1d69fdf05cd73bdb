package cron

import (
	"context"
	"sync"
	"time"

	"moltby/internal/eventbus"
	logx "moltby/pkg/logx"
)

// Config controls the scheduler. Schedules always run in UTC.
type Config struct {
	DispatchTimeout time.Duration
}

// Scheduler keeps the registry and the timers in step.
//
// Mutations are serialized by one mutex. Side effects are ordered so the
// registry changes last; if it cannot, the timer transition is rolled back.
type Scheduler struct {
	mu sync.Mutex

	log    logx.Logger
	bus    eventbus.Bus
	reg    *Registry
	timers *Timers
	exec   *Executor
	now    func() time.Time
}

func New(cfg Config, gw Gateway, bus eventbus.Bus, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	reg := NewRegistry()
	exec := NewExecutor(reg, gw, bus, log.With(logx.String("comp", "cron.executor")))
	exec.SetTimeout(cfg.DispatchTimeout)
	return &Scheduler{
		log:    log,
		bus:    bus,
		reg:    reg,
		timers: NewTimers(exec.Fire, log.With(logx.String("comp", "cron.timers"))),
		exec:   exec,
		now:    time.Now,
	}
}

// Apply updates runtime-tunable settings.
func (s *Scheduler) Apply(cfg Config) {
	s.exec.SetTimeout(cfg.DispatchTimeout)
}

// Start repairs any registry/timer divergence and starts firing.
// Dispatches run under ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.reconcileLocked()
	s.mu.Unlock()
	s.timers.Start(ctx)
	s.log.Info("scheduler started", logx.String("tz", time.UTC.String()), logx.Int("jobs", s.reg.Len()))
}

// Stop stops firing and waits for in-flight dispatches until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	s.timers.Stop(ctx)
}

// CreateJob validates def, arms a timer when enabled and registers the job.
// Nothing happens on a validation error.
func (s *Scheduler) CreateJob(def JobDef) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := newJob(def, s.now())
	if err != nil {
		return Job{}, err
	}
	if job.Enabled {
		if err := s.timers.Arm(job.ID, job.Schedule); err != nil {
			return Job{}, err
		}
	}
	s.reg.Insert(job)

	s.log.Info("job created",
		logx.String("job_id", job.ID),
		logx.String("name", job.Name),
		logx.String("schedule", job.Schedule),
		logx.Bool("enabled", job.Enabled),
	)
	publish(s.bus, EventJobCreated, JobEvent{JobID: job.ID, Name: job.Name, Enabled: job.Enabled})
	return job, nil
}

// DeleteJob cancels the job's timer and removes it. Deletion is final.
func (s *Scheduler) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	s.timers.Destroy(id)
	if err := s.reg.Delete(id); err != nil {
		return err
	}

	s.log.Info("job deleted", logx.String("job_id", id), logx.String("name", job.Name))
	publish(s.bus, EventJobDeleted, JobEvent{JobID: id, Name: job.Name, Enabled: false})
	return nil
}

// ToggleJob flips the enabled flag and arms or disarms the timer to match.
func (s *Scheduler) ToggleJob(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.reg.Get(id)
	if err != nil {
		return Job{}, err
	}
	return s.setEnabledLocked(job, !job.Enabled)
}

// SetEnabled forces the enabled flag. Setting the current value is a no-op
// apart from repairing a missing timer.
func (s *Scheduler) SetEnabled(id string, enabled bool) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.reg.Get(id)
	if err != nil {
		return Job{}, err
	}
	return s.setEnabledLocked(job, enabled)
}

func (s *Scheduler) setEnabledLocked(job Job, enabled bool) (Job, error) {
	prev := s.timers.State(job.ID)
	if enabled {
		if err := s.timers.Arm(job.ID, job.Schedule); err != nil {
			return Job{}, err
		}
	} else {
		s.timers.Disarm(job.ID)
	}

	updated, err := s.reg.SetEnabled(job.ID, enabled)
	if err != nil {
		s.restoreTimerLocked(job, prev)
		return Job{}, err
	}

	if job.Enabled != enabled {
		s.log.Info("job toggled", logx.String("job_id", job.ID), logx.String("name", job.Name), logx.Bool("enabled", enabled))
		publish(s.bus, EventJobToggled, JobEvent{JobID: job.ID, Name: job.Name, Enabled: enabled})
	}
	return updated, nil
}

func (s *Scheduler) restoreTimerLocked(job Job, st TimerState) {
	switch st {
	case TimerArmed:
		_ = s.timers.Arm(job.ID, job.Schedule)
	case TimerDisarmed:
		s.timers.Disarm(job.ID)
	default:
		s.timers.Destroy(job.ID)
	}
}

// reconcileLocked makes timers follow the registry: enabled jobs get a timer,
// disabled jobs lose theirs, orphans are destroyed.
func (s *Scheduler) reconcileLocked() {
	jobs := s.reg.List()
	known := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		known[j.ID] = struct{}{}
		st := s.timers.State(j.ID)
		switch {
		case j.Enabled && st != TimerArmed:
			if err := s.timers.Arm(j.ID, j.Schedule); err != nil {
				s.log.Warn("timer repair failed", logx.String("job_id", j.ID), logx.Err(err))
				continue
			}
			s.log.Info("timer repaired", logx.String("job_id", j.ID), logx.String("was", st.String()))
		case !j.Enabled && st == TimerArmed:
			s.timers.Disarm(j.ID)
		}
	}
	for _, id := range s.timers.IDs() {
		if _, ok := known[id]; !ok {
			s.timers.Destroy(id)
		}
	}
}

// ListJobs returns all jobs, oldest first.
func (s *Scheduler) ListJobs() []Job {
	return s.reg.List()
}

func (s *Scheduler) GetJob(id string) (Job, error) {
	return s.reg.Get(id)
}

// Describe returns a job with its timer state and next fire time.
func (s *Scheduler) Describe(id string) (JobInfo, error) {
	j, err := s.reg.Get(id)
	if err != nil {
		return JobInfo{}, err
	}
	return s.info(j), nil
}

// RunJob dispatches the job once right now, ignoring its enabled flag.
func (s *Scheduler) RunJob(ctx context.Context, id string) (Job, error) {
	return s.exec.Run(ctx, id)
}

func (s *Scheduler) Snapshot() Snapshot {
	jobs := s.reg.List()
	out := Snapshot{
		Running:  s.timers.Running(),
		Timezone: time.UTC.String(),
		Jobs:     make([]JobInfo, 0, len(jobs)),
	}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, s.info(j))
	}
	out.Armed, out.Disarmed = s.timers.Counts()
	return out
}

func (s *Scheduler) info(j Job) JobInfo {
	ji := JobInfo{Job: j, Timer: s.timers.State(j.ID).String()}
	if next, ok := s.timers.Next(j.ID); ok {
		n := next.UTC()
		ji.NextRun = &n
	}
	return ji
}
