package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"

	logx "moltby/pkg/logx"
)

// FireFunc is invoked on every timer tick, each call on its own goroutine.
type FireFunc func(ctx context.Context, jobID string)

type timer struct {
	jobID string
	sched robfig.Schedule
	// wrapped carries the Recover + SkipIfStillRunning chain. It is built once so
	// the skip state survives disarm/re-arm.
	wrapped robfig.Job
	entry   robfig.EntryID
	armed   bool
}

// Timers owns one robfig runner (UTC) and at most one timer per job.
//
// Per-job states: ABSENT -> ARMED <-> DISARMED -> ABSENT.
// Disarmed timers keep their parsed schedule so re-arming does not reparse.
type Timers struct {
	mu     sync.Mutex
	log    logx.Logger
	c      *robfig.Cron
	chain  robfig.Chain
	fire   FireFunc
	timers map[string]*timer

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewTimers(fire FireFunc, log logx.Logger) *Timers {
	if log.IsZero() {
		log = logx.Nop()
	}
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Timers{
		log:    log,
		c:      robfig.New(robfig.WithLocation(time.UTC), robfig.WithLogger(cl)),
		chain:  robfig.NewChain(robfig.Recover(cl), robfig.SkipIfStillRunning(cl)),
		fire:   fire,
		timers: map[string]*timer{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Arm makes sure the job has exactly one live timer.
// ABSENT creates, DISARMED restarts, ARMED is a no-op.
func (t *Timers) Arm(jobID, expr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tm, ok := t.timers[jobID]
	if ok {
		if !tm.armed {
			tm.entry = t.c.Schedule(tm.sched, tm.wrapped)
			tm.armed = true
		}
		return nil
	}

	sched, err := parseSchedule(expr)
	if err != nil {
		return err
	}
	tm = &timer{jobID: jobID, sched: sched}
	tm.wrapped = t.chain.Then(robfig.FuncJob(func() { t.tick(jobID) }))
	tm.entry = t.c.Schedule(tm.sched, tm.wrapped)
	tm.armed = true
	t.timers[jobID] = tm
	return nil
}

// Disarm stops the timer but keeps it for a later Arm.
// ABSENT and DISARMED are no-ops.
func (t *Timers) Disarm(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[jobID]; ok && tm.armed {
		t.c.Remove(tm.entry)
		tm.armed = false
		tm.entry = 0
	}
}

// Destroy removes any timer for the job.
func (t *Timers) Destroy(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.timers[jobID]
	if !ok {
		return
	}
	if tm.armed {
		t.c.Remove(tm.entry)
	}
	delete(t.timers, jobID)
}

func (t *Timers) State(jobID string) TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.timers[jobID]
	switch {
	case !ok:
		return TimerAbsent
	case tm.armed:
		return TimerArmed
	default:
		return TimerDisarmed
	}
}

// Next returns the next fire time of an armed timer. A schedule that can
// never match (e.g. "0 0 31 2 *") has no next run.
func (t *Timers) Next(jobID string) (time.Time, bool) {
	t.mu.Lock()
	tm, ok := t.timers[jobID]
	if !ok || !tm.armed {
		t.mu.Unlock()
		return time.Time{}, false
	}
	entry, running, sched := tm.entry, t.running, tm.sched
	t.mu.Unlock()

	if running {
		if e := t.c.Entry(entry); e.Valid() && !e.Next.IsZero() {
			return e.Next, true
		}
	}
	next := sched.Next(time.Now().UTC())
	return next, !next.IsZero()
}

// Counts returns the number of armed and disarmed timers.
func (t *Timers) Counts() (armed, disarmed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tm := range t.timers {
		if tm.armed {
			armed++
		} else {
			disarmed++
		}
	}
	return armed, disarmed
}

// IDs lists the jobs that currently own a timer.
func (t *Timers) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.timers))
	for id := range t.timers {
		out = append(out, id)
	}
	return out
}

// Start starts the runner. Fires get a context derived from parent, so
// cancelling parent cancels in-flight dispatches.
func (t *Timers) Start(parent context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.cancel()
	t.ctx, t.cancel = context.WithCancel(parent)
	t.c.Start()
	t.running = true
	t.log.Info("timers started", logx.Int("timers", len(t.timers)))
}

// Stop halts the runner and waits for in-flight fires until ctx ends.
// Fires still running after that see a cancelled context.
func (t *Timers) Stop(ctx context.Context) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	start := time.Now()
	select {
	case <-t.c.Stop().Done():
	case <-ctx.Done():
	}
	cancel()
	t.log.Info("timers stopped", logx.Duration("took", time.Since(start)))
}

func (t *Timers) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timers) tick(jobID string) {
	if t.fire == nil {
		return
	}
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	t.fire(ctx, jobID)
}

// cronLogger routes robfig's logr-style calls into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	// robfig logs every wake/run at info; keep those below debug.
	switch msg {
	case "skip":
		l.log.Info("fire skipped: previous dispatch still running", kvFields(kv)...)
	case "wake", "run":
		l.log.Trace("cron: "+msg, kvFields(kv)...)
	default:
		l.log.Debug("cron: "+msg, kvFields(kv)...)
	}
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
