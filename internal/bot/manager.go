// Package bot owns the lifecycle of the Telegram connection: starting and
// stopping long polling, attaching the adapter to the outbound gateway and
// answering inbound chats.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"moltby/internal/gateway"
	rtsup "moltby/internal/runtime/supervisor"
	"moltby/internal/session"
	"moltby/internal/transport"
	"moltby/internal/transport/telegram"
	logx "moltby/pkg/logx"
)

const (
	WelcomeText  = "Moltby Agent connected successfully! I am now online."
	GreetingText = "Hello! I am your Moltby AI Agent. I am ready to chat!"
)

var (
	ErrTokenRequired = errors.New("token is required")
	ErrChatRequired  = errors.New("chat id is required")
)

// Conn is one authenticated bot connection.
type Conn interface {
	transport.Adapter
	ResolveChat(ctx context.Context, target string) (telegram.ChatInfo, error)
}

// Dialer authenticates token against the Bot API and returns an idle Conn.
type Dialer func(ctx context.Context, token string) (Conn, error)

// TelegramDialer dials real telebot connections.
func TelegramDialer(pollTimeout time.Duration, apiURL string, log logx.Logger) Dialer {
	return func(ctx context.Context, token string) (Conn, error) {
		type result struct {
			a   *telegram.Adapter
			err error
		}
		ch := make(chan result, 1)
		go func() {
			a, err := telegram.New(telegram.Config{Token: token, PollTimeout: pollTimeout, APIURL: apiURL}, log)
			ch <- result{a, err}
		}()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			if r.err != nil {
				return nil, r.err
			}
			return r.a, nil
		}
	}
}

// Attacher is the gateway side of the bot: the running Conn is attached on
// start and detached on stop.
type Attacher interface {
	Attach(s gateway.Sender) gateway.Sender
	Detach(s gateway.Sender) bool
}

type Options struct {
	Dial     Dialer
	Gateway  Attacher
	Sessions *session.Store
	Log      logx.Logger
	// HandlerTimeout bounds one inbound update (default 15s).
	HandlerTimeout time.Duration
}

type Manager struct {
	dial     Dialer
	gw       Attacher
	sessions *session.Store
	log      logx.Logger
	hTimeout time.Duration
	now      func() time.Time

	// life serializes Start and Stop; mu only guards cur.
	life sync.Mutex
	mu   sync.Mutex
	cur  *running
}

type running struct {
	conn      Conn
	token     string
	me        transport.Identity
	startedAt time.Time
	sup       *rtsup.Supervisor
}

func New(opt Options) *Manager {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Sessions == nil {
		opt.Sessions = session.NewStore(0)
	}
	if opt.HandlerTimeout <= 0 {
		opt.HandlerTimeout = 15 * time.Second
	}
	return &Manager{
		dial:     opt.Dial,
		gw:       opt.Gateway,
		sessions: opt.Sessions,
		log:      opt.Log,
		hTimeout: opt.HandlerTimeout,
		now:      time.Now,
	}
}

func (m *Manager) Sessions() *session.Store { return m.sessions }

// StartResult tells the caller what Start actually did.
type StartResult struct {
	AlreadyRunning bool
	Username       string
	// WelcomeErr is set when the welcome message could not be delivered.
	// The bot is running regardless.
	WelcomeErr error
}

// Start connects with token and begins polling. A previous bot with another
// token is stopped once the new one has connected; the same token is a no-op.
// The polling lifetime is detached from ctx, which only bounds the connect and
// the welcome message.
//
// Connecting happens without holding the state lock, so Status and the
// validate calls stay responsive during a slow getMe.
func (m *Manager) Start(ctx context.Context, token, welcomeChat string) (StartResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return StartResult{}, ErrTokenRequired
	}
	if m.dial == nil {
		return StartResult{}, errors.New("bot: no dialer configured")
	}

	m.life.Lock()
	defer m.life.Unlock()

	if cur := m.current(); cur != nil && cur.token == token {
		return StartResult{AlreadyRunning: true, Username: cur.me.Username}, nil
	}

	conn, err := m.dial(ctx, token)
	if err != nil {
		return StartResult{}, fmt.Errorf("connect: %w", err)
	}
	me := conn.Identity()
	log := m.log.With(logx.String("bot", me.Username))

	if old := m.swap(nil); old != nil {
		m.log.Info("replacing running bot", logx.String("bot", old.me.Username))
		m.shutdown(ctx, old)
		m.sessions.Reset()
	}

	sup := rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(log),
		rtsup.WithCancelOnError(false),
	)
	updates := make(chan transport.Update, 64)
	if err := conn.Start(sup.Context(), updates); err != nil {
		sup.Cancel()
		return StartResult{}, fmt.Errorf("start polling: %w", err)
	}
	handle := Chain(m.handleUpdate(conn),
		MWPanicRecover(log),
		MWTimeout(m.hTimeout),
		MWRequestLog(log),
	)
	sup.Go0("bot.updates", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up := <-updates:
				_ = handle(c, up)
			}
		}
	})

	if m.gw != nil {
		m.gw.Attach(conn)
	}
	m.swap(&running{conn: conn, token: token, me: me, startedAt: m.now().UTC(), sup: sup})
	log.Info("bot started")

	if mu, ok := conn.(transport.CommandMenuUpdater); ok {
		if err := mu.UpdateMenuCommands(ctx, MenuCommands()); err != nil {
			log.Warn("command menu update failed", logx.Err(err))
		}
	}

	res := StartResult{Username: me.Username}
	if strings.TrimSpace(welcomeChat) != "" {
		res.WelcomeErr = m.welcome(ctx, conn, welcomeChat)
		if res.WelcomeErr != nil {
			log.Warn("welcome message failed", logx.String("chat", welcomeChat), logx.Err(res.WelcomeErr))
		}
	}
	return res, nil
}

func (m *Manager) current() *running {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// swap installs r and returns the previous bot.
func (m *Manager) swap(r *running) *running {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.cur
	m.cur = r
	return old
}

func (m *Manager) welcome(ctx context.Context, conn Conn, chat string) error {
	to, err := transport.ParseTarget(chat)
	if err != nil {
		return err
	}
	_, err = conn.SendText(ctx, to, WelcomeText, nil)
	return err
}

// Stop detaches and stops the running bot. It reports whether one was running.
func (m *Manager) Stop(ctx context.Context) bool {
	m.life.Lock()
	defer m.life.Unlock()
	r := m.swap(nil)
	if r == nil {
		return false
	}
	m.shutdown(ctx, r)
	return true
}

// shutdown stops a bot that is no longer installed as current.
func (m *Manager) shutdown(ctx context.Context, r *running) {
	if m.gw != nil {
		m.gw.Detach(r.conn)
	}
	if err := r.conn.Stop(ctx); err != nil {
		m.log.Warn("bot stop failed", logx.String("bot", r.me.Username), logx.Err(err))
	}
	r.sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = r.sup.Wait(wctx)
	m.log.Info("bot stopped", logx.String("bot", r.me.Username), logx.Duration("uptime", m.now().Sub(r.startedAt).Round(time.Second)))
}

type Status struct {
	Running   bool
	Username  string
	BotID     int64
	StartedAt time.Time
	Uptime    time.Duration
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return Status{}
	}
	return Status{
		Running:   true,
		Username:  m.cur.me.Username,
		BotID:     m.cur.me.ID,
		StartedAt: m.cur.startedAt,
		Uptime:    m.now().Sub(m.cur.startedAt),
	}
}

// ValidateToken connects once with token and reports the bot account.
func (m *Manager) ValidateToken(ctx context.Context, token string) (transport.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return transport.Identity{}, ErrTokenRequired
	}
	conn, err := m.probe(ctx, token)
	if err != nil {
		return transport.Identity{}, err
	}
	defer conn.Stop(ctx)
	return conn.Identity(), nil
}

// ValidateChat checks that the bot behind token can reach chat.
func (m *Manager) ValidateChat(ctx context.Context, token, chat string) (telegram.ChatInfo, error) {
	token, chat = strings.TrimSpace(token), strings.TrimSpace(chat)
	if token == "" {
		return telegram.ChatInfo{}, ErrTokenRequired
	}
	if chat == "" {
		return telegram.ChatInfo{}, ErrChatRequired
	}
	conn, err := m.probe(ctx, token)
	if err != nil {
		return telegram.ChatInfo{}, err
	}
	defer conn.Stop(ctx)
	return conn.ResolveChat(ctx, chat)
}

// probe reuses the running connection when the token matches.
func (m *Manager) probe(ctx context.Context, token string) (Conn, error) {
	m.mu.Lock()
	if m.cur != nil && m.cur.token == token {
		c := m.cur.conn
		m.mu.Unlock()
		return idleConn{c}, nil
	}
	m.mu.Unlock()
	if m.dial == nil {
		return nil, errors.New("bot: no dialer configured")
	}
	return m.dial(ctx, token)
}

// idleConn shields a running connection from the deferred Stop in probes.
type idleConn struct{ Conn }

func (idleConn) Stop(context.Context) error { return nil }
