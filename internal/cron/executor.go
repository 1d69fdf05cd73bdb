package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"moltby/internal/eventbus"
	"moltby/internal/gateway"
	logx "moltby/pkg/logx"
)

// Gateway is the outbound transport boundary used by dispatch.
type Gateway interface {
	IsAttached() bool
	SendMessage(ctx context.Context, target, text string) error
}

// ErrTransportUnavailable is returned by manual runs when no transport is attached.
var ErrTransportUnavailable = gateway.ErrTransportUnavailable

// ErrDisabled is returned by a timer fire for a job that was disabled in the meantime.
var ErrDisabled = errors.New("job disabled")

const DefaultDispatchTimeout = 30 * time.Second

// Executor runs one dispatch per timer fire.
//
// It never retries and never disables a job; failures end up in the run
// history and the log.
type Executor struct {
	reg *Registry
	gw  Gateway
	bus eventbus.Bus
	log logx.Logger
	now func() time.Time

	timeout atomic.Int64 // time.Duration
}

func NewExecutor(reg *Registry, gw Gateway, bus eventbus.Bus, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{reg: reg, gw: gw, bus: bus, log: log, now: time.Now}
	e.timeout.Store(int64(DefaultDispatchTimeout))
	return e
}

// SetTimeout bounds each send. Non-positive values restore the default.
func (e *Executor) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultDispatchTimeout
	}
	e.timeout.Store(int64(d))
}

func (e *Executor) Timeout() time.Duration { return time.Duration(e.timeout.Load()) }

// Fire is the timer callback. Missing or disabled jobs are ignored.
func (e *Executor) Fire(ctx context.Context, jobID string) {
	_ = e.dispatch(ctx, jobID, false)
}

// Run dispatches once regardless of the enabled flag.
// Unlike Fire it reports the outcome to the caller, along with the job as it
// is after the attempt.
func (e *Executor) Run(ctx context.Context, jobID string) (Job, error) {
	runErr := e.dispatch(ctx, jobID, true)
	job, err := e.reg.Get(jobID)
	if err != nil {
		if runErr != nil {
			return Job{}, runErr
		}
		return Job{}, err
	}
	return job, runErr
}

func (e *Executor) dispatch(ctx context.Context, jobID string, manual bool) error {
	log := e.log.With(logx.String("job_id", jobID), logx.Bool("manual", manual))

	job, err := e.reg.Get(jobID)
	if err != nil {
		// Deleted after the timer fired.
		log.Debug("fire for unknown job ignored")
		return err
	}
	if !job.Enabled && !manual {
		log.Debug("fire for disabled job ignored")
		return ErrDisabled
	}

	ev := DispatchEvent{JobID: job.ID, Target: job.Target, Manual: manual}
	if e.gw == nil || !e.gw.IsAttached() {
		log.Warn("dispatch skipped: transport unavailable", logx.String("job", job.Name))
		ev.Reason = "transport unavailable"
		publish(e.bus, EventDispatchSkip, ev)
		return ErrTransportUnavailable
	}

	if ctx == nil {
		ctx = context.Background()
	}
	sctx, cancel := context.WithTimeout(ctx, e.Timeout())
	defer cancel()

	start := e.now()
	sendErr := e.gw.SendMessage(sctx, job.Target, job.Message)
	ev.Duration = time.Since(start)

	if errors.Is(sendErr, gateway.ErrTransportUnavailable) {
		// Detached between the check and the send.
		log.Warn("dispatch skipped: transport unavailable", logx.String("job", job.Name))
		ev.Reason = "transport unavailable"
		publish(e.bus, EventDispatchSkip, ev)
		return ErrTransportUnavailable
	}

	outcome := OutcomeSuccess
	if sendErr != nil {
		outcome = OutcomeFailure
	}
	if _, err := e.reg.RecordRun(job.ID, e.now(), outcome, sendErr); err != nil {
		log.Debug("run record discarded: job deleted during dispatch")
	}

	if sendErr != nil {
		log.Warn("dispatch failed",
			logx.String("job", job.Name),
			logx.String("target", job.Target),
			logx.Duration("took", ev.Duration),
			logx.Err(sendErr),
		)
		ev.Error = sendErr.Error()
		publish(e.bus, EventDispatchErr, ev)
		return sendErr
	}

	log.Info("dispatched",
		logx.String("job", job.Name),
		logx.String("target", job.Target),
		logx.Duration("took", ev.Duration),
	)
	publish(e.bus, EventDispatchOK, ev)
	return nil
}
