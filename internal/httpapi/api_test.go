package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moltby/internal/bot"
	"moltby/internal/cron"
	"moltby/internal/eventbus"
	"moltby/internal/gateway"
	"moltby/internal/session"
	"moltby/internal/storage"
	"moltby/internal/transport"
	"moltby/internal/transport/telegram"
	logx "moltby/pkg/logx"
)

type nopSender struct {
	mu  sync.Mutex
	err error
	n   int
}

func (s *nopSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return transport.MessageRef{}, s.err
	}
	s.n++
	return transport.MessageRef{Chat: to, MessageID: s.n}, nil
}

type stubBot struct {
	running  bool
	token    string
	started  time.Time
	sessions *session.Store
}

func (b *stubBot) Start(ctx context.Context, token, chat string) (bot.StartResult, error) {
	if token == "bad" {
		return bot.StartResult{}, errors.New("telegram: Unauthorized (401)")
	}
	if b.running && b.token == token {
		return bot.StartResult{AlreadyRunning: true, Username: "moltby_bot"}, nil
	}
	b.running, b.token, b.started = true, token, time.Now().Add(-90*time.Second)
	return bot.StartResult{Username: "moltby_bot"}, nil
}

func (b *stubBot) Stop(ctx context.Context) bool {
	was := b.running
	b.running = false
	return was
}

func (b *stubBot) Status() bot.Status {
	if !b.running {
		return bot.Status{}
	}
	return bot.Status{Running: true, Username: "moltby_bot", StartedAt: b.started, Uptime: time.Since(b.started)}
}

func (b *stubBot) ValidateToken(ctx context.Context, token string) (transport.Identity, error) {
	switch token {
	case "":
		return transport.Identity{}, bot.ErrTokenRequired
	case "good":
		return transport.Identity{ID: 7, Username: "moltby_bot"}, nil
	}
	return transport.Identity{}, errors.New("unauthorized")
}

func (b *stubBot) ValidateChat(ctx context.Context, token, chat string) (telegram.ChatInfo, error) {
	if token == "" {
		return telegram.ChatInfo{}, bot.ErrTokenRequired
	}
	if chat == "" {
		return telegram.ChatInfo{}, bot.ErrChatRequired
	}
	if chat == "42" {
		return telegram.ChatInfo{ID: 42, Type: "group", Title: "Ops"}, nil
	}
	return telegram.ChatInfo{}, errors.New("chat not found")
}

func (b *stubBot) Sessions() *session.Store { return b.sessions }

type fixture struct {
	h      http.Handler
	sched  *cron.Scheduler
	gw     *gateway.Gateway
	sender *nopSender
	audit  storage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := gateway.New(gateway.Config{}, logx.Nop())
	sender := &nopSender{}
	gw.Attach(sender)
	sched := cron.New(cron.Config{DispatchTimeout: time.Second}, gw, eventbus.New(), logx.Nop())

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "moltby.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	api := New(Deps{
		Scheduler: sched,
		Bot:       &stubBot{sessions: session.NewStore(10)},
		Audit:     st,
		Log:       logx.Nop(),
	})
	return &fixture{h: api.Handler(), sched: sched, gw: gw, sender: sender, audit: st}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

const pingBody = `{"name":"ping","schedule":"*/5 * * * *","chatId":"12345","message":"hello"}`

func TestCreateListToggleDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, out := f.do(t, http.MethodPost, "/api/cron", pingBody)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
	job := out["job"].(map[string]any)
	id := job["id"].(string)
	assert.Equal(t, "12345", job["chatId"])
	assert.Equal(t, true, job["enabled"])
	assert.Equal(t, "default", job["agentId"])

	code, out = f.do(t, http.MethodGet, "/api/cron", "")
	require.Equal(t, http.StatusOK, code)
	jobs := out["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "armed", jobs[0].(map[string]any)["timer"])
	assert.NotNil(t, jobs[0].(map[string]any)["nextRun"])

	code, out = f.do(t, http.MethodPost, "/api/cron/"+id+"/toggle", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["job"].(map[string]any)["enabled"])

	code, out = f.do(t, http.MethodGet, "/api/cron/"+id, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "disarmed", out["job"].(map[string]any)["timer"])

	code, out = f.do(t, http.MethodDelete, "/api/cron/"+id, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])

	code, out = f.do(t, http.MethodDelete, "/api/cron/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Job not found", out["error"])
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name, body, want string
	}{
		{"missing message", `{"name":"x","schedule":"* * * * *","chatId":"1"}`, "Missing required fields"},
		{"missing target", `{"name":"x","schedule":"* * * * *","message":"m"}`, "Missing required fields"},
		{"bad schedule", `{"name":"x","schedule":"every minute","chatId":"1","message":"m"}`, "Invalid cron expression"},
		{"bad json", `{"name":`, "Invalid JSON body"},
	}
	for _, tt := range tests {
		code, out := f.do(t, http.MethodPost, "/api/cron", tt.body)
		assert.Equal(t, http.StatusBadRequest, code, tt.name)
		assert.Equal(t, tt.want, out["error"], tt.name)
	}
	assert.Empty(t, f.sched.ListJobs())
}

func TestCreateAcceptsTargetAlias(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	code, out := f.do(t, http.MethodPost, "/api/cron",
		`{"name":"x","schedule":"0 9 * * 1","target":"@news","message":"m","enabled":false}`)
	require.Equal(t, http.StatusOK, code)
	job := out["job"].(map[string]any)
	assert.Equal(t, "@news", job["chatId"])
	assert.Equal(t, false, job["enabled"])
}

func TestToggleUnknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	code, out := f.do(t, http.MethodPost, "/api/cron/nope/toggle", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Job not found", out["error"])
}

func TestRunJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, out := f.do(t, http.MethodPost, "/api/cron", pingBody)
	id := out["job"].(map[string]any)["id"].(string)

	code, out := f.do(t, http.MethodPost, "/api/cron/"+id+"/run", "")
	require.Equal(t, http.StatusOK, code)
	hist := out["job"].(map[string]any)["runHistory"].([]any)
	require.Len(t, hist, 1)
	assert.Equal(t, "success", hist[0].(map[string]any)["outcome"])

	f.sender.mu.Lock()
	f.sender.err = errors.New("chat not found")
	f.sender.mu.Unlock()
	code, out = f.do(t, http.MethodPost, "/api/cron/"+id+"/run", "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, false, out["success"])
	hist = out["job"].(map[string]any)["runHistory"].([]any)
	assert.Equal(t, "failure", hist[0].(map[string]any)["outcome"])

	f.gw.Detach(f.sender)
	code, out = f.do(t, http.MethodPost, "/api/cron/"+id+"/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "Bot is not running", out["error"])

	code, _ = f.do(t, http.MethodPost, "/api/cron/nope/run", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBotRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, out := f.do(t, http.MethodGet, "/api/bot/status", "")
	assert.Equal(t, "stopped", out["status"])

	code, out := f.do(t, http.MethodPost, "/api/bot/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Token is required", out["error"])

	code, out = f.do(t, http.MethodPost, "/api/bot/start", `{"token":"bad"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Failed to start bot", out["error"])

	code, out = f.do(t, http.MethodPost, "/api/bot/start", `{"token":"good","chatId":"42"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "started", out["status"])

	_, out = f.do(t, http.MethodPost, "/api/bot/start", `{"token":"good"}`)
	assert.Equal(t, "running", out["status"])
	assert.Equal(t, "Bot is already running", out["message"])

	_, out = f.do(t, http.MethodGet, "/api/bot/status", "")
	assert.Equal(t, "running", out["status"])
	assert.Equal(t, "moltby_bot", out["username"])
	assert.GreaterOrEqual(t, out["uptime"].(float64), float64(90))

	_, out = f.do(t, http.MethodPost, "/api/bot/stop", "")
	assert.Equal(t, "Bot stopped successfully", out["message"])
	_, out = f.do(t, http.MethodPost, "/api/bot/stop", "")
	assert.Equal(t, "No bot was running", out["message"])

	_, out = f.do(t, http.MethodGet, "/api/bot/sessions", "")
	assert.Empty(t, out["sessions"])
}

func TestBotValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, out := f.do(t, http.MethodPost, "/api/bot/validate-token", `{"token":"good"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, "moltby_bot", out["username"])

	code, out = f.do(t, http.MethodPost, "/api/bot/validate-token", `{"token":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, out["valid"])

	code, out = f.do(t, http.MethodPost, "/api/bot/validate-token", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Token is required", out["error"])

	code, out = f.do(t, http.MethodPost, "/api/bot/validate-chatid", `{"token":"good","chatId":"42"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ops", out["title"])

	code, out = f.do(t, http.MethodPost, "/api/bot/validate-chatid", `{"token":"good"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Token and Chat ID are required", out["error"])

	code, out = f.do(t, http.MethodPost, "/api/bot/validate-chatid", `{"token":"good","chatId":"7"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, out["valid"])
}

func TestAuditRecordsMutations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, out := f.do(t, http.MethodPost, "/api/cron", pingBody)
	id := out["job"].(map[string]any)["id"].(string)
	f.do(t, http.MethodPost, "/api/cron/"+id+"/toggle", "")
	f.do(t, http.MethodDelete, "/api/cron/nope", "")

	code, out := f.do(t, http.MethodGet, "/api/audit?limit=10", "")
	require.Equal(t, http.StatusOK, code)
	entries := out["entries"].([]any)
	require.Len(t, entries, 3)
	newest := entries[0].(map[string]any)
	assert.Equal(t, "cron.delete", newest["action"])
	assert.Equal(t, false, newest["ok"])
	assert.NotEmpty(t, newest["request_id"])
	assert.Equal(t, "cron.create", entries[2].(map[string]any)["action"])

	code, _ = f.do(t, http.MethodGet, "/api/audit?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRequestIDEchoed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	h := withAuth("s3cret", f.h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cron", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/cron", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0"}, f.h, logx.Nop())
	ctx := context.Background()

	srv.Start(ctx)
	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.Reconfigure(ctx, Config{Enabled: false})
	assert.Empty(t, srv.Addr())
}
