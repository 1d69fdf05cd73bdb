package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moltby/internal/gateway"
	"moltby/internal/session"
	"moltby/internal/transport"
	"moltby/internal/transport/telegram"
	logx "moltby/pkg/logx"
)

type fakeConn struct {
	me transport.Identity

	mu      sync.Mutex
	out     chan<- transport.Update
	started bool
	stopped bool
	sent    []string
	chats   map[string]telegram.ChatInfo
	menu    []transport.BotCommand
}

func (c *fakeConn) Start(ctx context.Context, out chan<- transport.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out, c.started = out, true
	return nil
}

func (c *fakeConn) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

func (c *fakeConn) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to.String()+"|"+text)
	return transport.MessageRef{Chat: to, MessageID: len(c.sent)}, nil
}

func (c *fakeConn) Identity() transport.Identity { return c.me }

func (c *fakeConn) ResolveChat(ctx context.Context, target string) (telegram.ChatInfo, error) {
	if ci, ok := c.chats[target]; ok {
		return ci, nil
	}
	return telegram.ChatInfo{}, errors.New("chat not found")
}

func (c *fakeConn) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.menu = cmds
	return nil
}

func (c *fakeConn) push(up transport.Update) {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	out <- up
}

func (c *fakeConn) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *fakeConn) sends() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

var errUnauthorized = errors.New("telegram: Unauthorized (401)")

type fakeDialer struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	dials int

	// slow holds dials for one token until released.
	slow    string
	entered chan struct{}
	release chan struct{}
}

func (d *fakeDialer) dial(ctx context.Context, token string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	c, ok := d.conns[token]
	slow := d.slow == token
	d.mu.Unlock()

	if slow {
		d.entered <- struct{}{}
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errUnauthorized
	}
	return c, nil
}

func (d *fakeDialer) slowDown(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slow = token
	d.entered = make(chan struct{}, 1)
	d.release = make(chan struct{})
}

func newTestManager(t *testing.T) (*Manager, *fakeDialer, *gateway.Gateway) {
	t.Helper()
	d := &fakeDialer{conns: map[string]*fakeConn{
		"tok-a": {me: transport.Identity{ID: 1, Username: "alpha_bot"}, chats: map[string]telegram.ChatInfo{
			"42": {ID: 42, Type: "private", Username: "ann"},
		}},
		"tok-b": {me: transport.Identity{ID: 2, Username: "beta_bot"}},
	}}
	gw := gateway.New(gateway.Config{}, logx.Nop())
	m := New(Options{Dial: d.dial, Gateway: gw, Sessions: session.NewStore(10)})
	t.Cleanup(func() { m.Stop(context.Background()) })
	return m, d, gw
}

func TestStartAttachesAndWelcomes(t *testing.T) {
	t.Parallel()
	m, d, gw := newTestManager(t)

	res, err := m.Start(context.Background(), "tok-a", "42")
	require.NoError(t, err)
	assert.False(t, res.AlreadyRunning)
	assert.Equal(t, "alpha_bot", res.Username)
	assert.NoError(t, res.WelcomeErr)

	c := d.conns["tok-a"]
	assert.True(t, gw.IsAttached())
	assert.Equal(t, []string{"42|" + WelcomeText}, c.sends())
	assert.Equal(t, MenuCommands(), c.menu)

	st := m.Status()
	assert.True(t, st.Running)
	assert.Equal(t, "alpha_bot", st.Username)
	assert.False(t, st.StartedAt.IsZero())
}

func TestStartSameTokenIsNoop(t *testing.T) {
	t.Parallel()
	m, d, _ := newTestManager(t)

	_, err := m.Start(context.Background(), "tok-a", "")
	require.NoError(t, err)
	res, err := m.Start(context.Background(), "tok-a", "")
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
	assert.Equal(t, 1, d.dials)
}

func TestStartReplacesPreviousBot(t *testing.T) {
	t.Parallel()
	m, d, gw := newTestManager(t)

	_, err := m.Start(context.Background(), "tok-a", "")
	require.NoError(t, err)
	_, err = m.Start(context.Background(), "tok-b", "")
	require.NoError(t, err)

	assert.True(t, d.conns["tok-a"].stopped)
	assert.True(t, gw.IsAttached())
	assert.Equal(t, "beta_bot", m.Status().Username)
}

func TestStartRejectsEmptyAndBadToken(t *testing.T) {
	t.Parallel()
	m, _, gw := newTestManager(t)

	_, err := m.Start(context.Background(), "  ", "")
	assert.ErrorIs(t, err, ErrTokenRequired)

	_, err = m.Start(context.Background(), "nope", "")
	assert.ErrorIs(t, err, errUnauthorized)
	assert.False(t, gw.IsAttached())
	assert.False(t, m.Status().Running)
}

func TestFailedReplacementKeepsRunningBot(t *testing.T) {
	t.Parallel()
	m, d, gw := newTestManager(t)
	_, err := m.Start(context.Background(), "tok-a", "")
	require.NoError(t, err)

	_, err = m.Start(context.Background(), "nope", "")
	assert.ErrorIs(t, err, errUnauthorized)
	assert.False(t, d.conns["tok-a"].isStopped())
	assert.True(t, gw.IsAttached())
	assert.Equal(t, "alpha_bot", m.Status().Username)
}

func TestStatusDoesNotWaitForSlowConnect(t *testing.T) {
	t.Parallel()
	m, d, _ := newTestManager(t)
	_, err := m.Start(context.Background(), "tok-a", "")
	require.NoError(t, err)
	d.slowDown("tok-b")

	done := make(chan error, 1)
	go func() {
		_, err := m.Start(context.Background(), "tok-b", "")
		done <- err
	}()
	<-d.entered

	status := make(chan Status, 1)
	go func() { status <- m.Status() }()
	select {
	case st := <-status:
		assert.True(t, st.Running)
		assert.Equal(t, "alpha_bot", st.Username)
	case <-time.After(time.Second):
		t.Fatal("Status blocked while another bot was connecting")
	}

	me, err := m.ValidateToken(context.Background(), "tok-a")
	require.NoError(t, err)
	assert.Equal(t, "alpha_bot", me.Username)

	close(d.release)
	require.NoError(t, <-done)
	assert.Equal(t, "beta_bot", m.Status().Username)
	assert.True(t, d.conns["tok-a"].isStopped())
}

func TestStopDetaches(t *testing.T) {
	t.Parallel()
	m, d, gw := newTestManager(t)

	assert.False(t, m.Stop(context.Background()))

	_, err := m.Start(context.Background(), "tok-a", "")
	require.NoError(t, err)
	assert.True(t, m.Stop(context.Background()))
	assert.False(t, gw.IsAttached())
	assert.True(t, d.conns["tok-a"].stopped)
	assert.False(t, m.Status().Running)
	assert.ErrorIs(t, gw.SendMessage(context.Background(), "42", "x"), gateway.ErrTransportUnavailable)
}

func TestInboundMessagesUpdateSessionsAndGreet(t *testing.T) {
	t.Parallel()
	m, d, _ := newTestManager(t)
	_, err := m.Start(context.Background(), "tok-a", "")
	require.NoError(t, err)
	c := d.conns["tok-a"]

	c.push(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ChatID: 42, ChatType: "private", Username: "ann", Text: "/start",
	}})
	c.push(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ChatID: 42, ChatType: "private", Username: "ann", Text: "how are you",
	}})

	require.Eventually(t, func() bool {
		s, ok := m.Sessions().Get("42")
		return ok && s.MessageCount == 2
	}, time.Second, 5*time.Millisecond)

	s, _ := m.Sessions().Get("42")
	assert.Equal(t, "how are you", s.LastMessage)
	assert.Equal(t, []string{"42|" + GreetingText}, c.sends())
}

func TestValidate(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	me, err := m.ValidateToken(ctx, "tok-b")
	require.NoError(t, err)
	assert.Equal(t, "beta_bot", me.Username)

	_, err = m.ValidateToken(ctx, "")
	assert.ErrorIs(t, err, ErrTokenRequired)

	ci, err := m.ValidateChat(ctx, "tok-a", "42")
	require.NoError(t, err)
	assert.Equal(t, "private", ci.Type)

	_, err = m.ValidateChat(ctx, "tok-a", "")
	assert.ErrorIs(t, err, ErrChatRequired)
	_, err = m.ValidateChat(ctx, "tok-a", "7")
	assert.Error(t, err)
}

func TestValidateReusesRunningConn(t *testing.T) {
	t.Parallel()
	m, d, _ := newTestManager(t)
	_, err := m.Start(context.Background(), "tok-a", "")
	require.NoError(t, err)

	_, err = m.ValidateToken(context.Background(), "tok-a")
	require.NoError(t, err)
	assert.False(t, d.conns["tok-a"].stopped)
	assert.Equal(t, 1, d.dials)
}

func TestCommandParsing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text, bot, want string
	}{
		{"/start", "alpha_bot", "start"},
		{"/START now", "alpha_bot", "start"},
		{"/start@alpha_bot", "alpha_bot", "start"},
		{"/start@other_bot", "alpha_bot", ""},
		{"hello", "alpha_bot", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, command(tt.text, tt.bot), tt.text)
	}
}

func TestChainOrderAndPanic(t *testing.T) {
	t.Parallel()
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, up transport.Update) error {
				order = append(order, name)
				return next(ctx, up)
			}
		}
	}
	h := Chain(func(context.Context, transport.Update) error { panic("boom") },
		mw("outer"), MWPanicRecover(logx.Nop()), mw("inner"))

	err := h(context.Background(), transport.Update{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"outer", "inner"}, order)
}
