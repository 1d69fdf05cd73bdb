// Package app wires configuration, logging, the cron scheduler, the bot and
// the operator API into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"moltby/internal/bot"
	"moltby/internal/config"
	"moltby/internal/cron"
	"moltby/internal/eventbus"
	"moltby/internal/gateway"
	"moltby/internal/httpapi"
	rtsup "moltby/internal/runtime/supervisor"
	"moltby/internal/session"
	"moltby/internal/storage"
	logx "moltby/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	gw    *gateway.Gateway
	sched *cron.Scheduler
	bot   *bot.Manager
	api   *httpapi.Server
}

// New loads the config and builds every component. Nothing runs until Start.
// A missing config file falls back to defaults plus environment overrides.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		config.ApplyEnv(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		cfgm.Commit(cfg)
	} else if err != nil {
		return nil, err
	}

	// The chat sink sends through the gateway, so operator log lines only
	// flow while a bot is attached.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	gw := gateway.New(mapGatewayConfig(cfg), log.With(logx.String("comp", "gateway")))
	logSvc.SetSender(gw)
	appLog := log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = st
	}

	bus := eventbus.New()
	sched := cron.New(mapSchedulerConfig(cfg), gw, bus, log.With(logx.String("comp", "cron")))

	a := &App{
		cfgm:  cfgm,
		log:   appLog,
		logs:  logSvc,
		bus:   bus,
		store: store,
		gw:    gw,
		sched: sched,
	}
	botLog := log.With(logx.String("comp", "bot"))
	a.bot = bot.New(bot.Options{
		Dial:     a.dial(botLog),
		Gateway:  gw,
		Sessions: session.NewStore(session.DefaultMaxSessions),
		Log:      botLog,
	})

	api := httpapi.New(httpapi.Deps{
		Scheduler: sched,
		Bot:       a.bot,
		Audit:     store,
		Log:       log.With(logx.String("comp", "http")),
	})
	a.api = httpapi.NewServer(mapHTTPConfig(cfg), api.Handler(), log.With(logx.String("comp", "http")))
	return a, nil
}

// dial reads telegram settings at connect time so reloads apply to the next start.
func (a *App) dial(log logx.Logger) bot.Dialer {
	return func(ctx context.Context, token string) (bot.Conn, error) {
		tc := a.cfgm.Get().Telegram
		return bot.TelegramDialer(tc.PollTimeoutOr(10*time.Second), strings.TrimSpace(tc.APIURL), log)(ctx, token)
	}
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if sc, enabled := mapStorageConfig(cfg); enabled && sc.Path == "" {
			return errors.New("storage.path is required")
		}
		return nil
	})

	a.sched.Start(a.sup.Context())
	a.api.Start(a.sup.Context())

	cfg := a.cfgm.Get()
	if tok := strings.TrimSpace(cfg.Telegram.Token); tok != "" {
		a.sup.Go0("bot.autostart", func(c context.Context) {
			a.startBot(c, tok, cfg.Telegram.WelcomeChat)
		})
	} else {
		a.log.Info("no telegram token configured; start the bot through the API")
	}

	a.logEvents()
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.String("http", mapHTTPConfig(cfg).Addr),
	)
	return nil
}

func (a *App) startBot(ctx context.Context, token, welcome string) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	res, err := a.bot.Start(sctx, token, welcome)
	if err != nil {
		// Jobs keep their timers; dispatches are skipped until a bot is attached.
		a.log.Error("bot start failed", logx.Err(err))
		return
	}
	if !res.AlreadyRunning {
		a.log.Info("bot online", logx.String("bot", res.Username))
	}
}

// logEvents mirrors cron events to the debug log.
func (a *App) logEvents() {
	events, unsub := a.bus.SubscribePrefix("cron.", 128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if !a.log.Enabled(logx.LevelDebug) {
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Order: stop accepting API calls, stop firing, then drop the transport.
	a.step(ctx, "http", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "bot", 3*time.Second, func(c context.Context) error { a.bot.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	for _, st := range a.sup.Snapshot().Goroutines {
		if st.Restarts > 0 || st.Panics > 0 {
			a.log.Info("goroutine summary",
				logx.String("name", st.Name),
				logx.Uint64("restarts", st.Restarts),
				logx.Uint64("panics", st.Panics),
				logx.String("last_err", st.LastErr),
			)
		}
	}
	a.log.Info("stopped",
		logx.Int("goroutines_left", a.sup.Active()),
		logx.Uint64("events_dropped", a.bus.Dropped()),
	)
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit and the caller's deadline.
// A step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped: no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
