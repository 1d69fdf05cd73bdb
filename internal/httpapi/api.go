package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"moltby/internal/bot"
	"moltby/internal/cron"
	"moltby/internal/session"
	"moltby/internal/storage"
	"moltby/internal/transport"
	"moltby/internal/transport/telegram"
	logx "moltby/pkg/logx"
)

// Scheduler is the cron facade the API drives.
type Scheduler interface {
	Snapshot() cron.Snapshot
	Describe(id string) (cron.JobInfo, error)
	CreateJob(def cron.JobDef) (cron.Job, error)
	DeleteJob(id string) error
	ToggleJob(id string) (cron.Job, error)
	RunJob(ctx context.Context, id string) (cron.Job, error)
}

// Bot is the bot lifecycle the API drives.
type Bot interface {
	Start(ctx context.Context, token, welcomeChat string) (bot.StartResult, error)
	Stop(ctx context.Context) bool
	Status() bot.Status
	ValidateToken(ctx context.Context, token string) (transport.Identity, error)
	ValidateChat(ctx context.Context, token, chat string) (telegram.ChatInfo, error)
	Sessions() *session.Store
}

type Deps struct {
	Scheduler Scheduler
	Bot       Bot
	// Audit is optional.
	Audit storage.Store
	Log   logx.Logger
}

// API holds the route handlers. It is independent of the listener so tests
// can drive it with httptest.
type API struct {
	sched Scheduler
	bot   Bot
	audit storage.Store
	log   logx.Logger
	now   func() time.Time
}

func New(d Deps) *API {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &API{sched: d.Scheduler, bot: d.Bot, audit: d.Audit, log: d.Log, now: time.Now}
}

// Handler returns the routed API with request ids, panic recovery and access logging.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/cron", a.listJobs)
	mux.HandleFunc("POST /api/cron", a.createJob)
	mux.HandleFunc("GET /api/cron/{id}", a.getJob)
	mux.HandleFunc("DELETE /api/cron/{id}", a.deleteJob)
	mux.HandleFunc("POST /api/cron/{id}/toggle", a.toggleJob)
	mux.HandleFunc("POST /api/cron/{id}/run", a.runJob)

	if a.bot != nil {
		mux.HandleFunc("GET /api/bot/status", a.botStatus)
		mux.HandleFunc("GET /api/bot/sessions", a.botSessions)
		mux.HandleFunc("POST /api/bot/start", a.botStart)
		mux.HandleFunc("POST /api/bot/stop", a.botStop)
		mux.HandleFunc("POST /api/bot/validate-token", a.botValidateToken)
		mux.HandleFunc("POST /api/bot/validate-chatid", a.botValidateChat)
	}

	mux.HandleFunc("GET /api/audit", a.listAudit)

	return a.withRequestID(a.withRecover(a.withAccessLog(mux)))
}

type ctxKey int

const requestIDKey ctxKey = iota

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (a *API) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (a *API) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				a.log.Error("http handler panicked",
					logx.String("path", r.URL.Path),
					logx.String("req_id", requestID(r.Context())),
					logx.Any("panic", p),
					logx.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		d := time.Since(start)

		fields := []logx.Field{
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("dur", d),
			logx.String("req_id", requestID(r.Context())),
		}
		if rec.status >= http.StatusInternalServerError {
			a.log.Warn("http request failed", fields...)
			return
		}
		a.log.Debug("http request", fields...)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const maxBody = 1 << 20

var errBadJSON = errors.New("invalid JSON body")

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errBadJSON
	}
	return nil
}

// record appends an audit entry. Audit failures never fail the request.
func (a *API) record(r *http.Request, start time.Time, action, subject string, opErr error, meta any) {
	if a.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:        start.UTC(),
		Actor:     r.RemoteAddr,
		RequestID: requestID(r.Context()),
		Action:    action,
		Subject:   subject,
		OK:        opErr == nil,
		TookMS:    a.now().Sub(start).Milliseconds(),
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			e.MetaJSON = string(b)
		}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	if err := a.audit.AppendAudit(ctx, e); err != nil {
		a.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
