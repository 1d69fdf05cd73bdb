// Package telegram adapts gopkg.in/telebot.v4 to the transport boundary.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "moltby/internal/runtime/supervisor"
	"moltby/internal/transport"
	logx "moltby/pkg/logx"
)

var ErrEmptyToken = errors.New("telegram token is empty")

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides https://api.telegram.org (optional).
	APIURL string
}

// Adapter owns one telebot instance: long polling, inbound updates and sends.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
	me  transport.Identity

	out atomic.Pointer[chan<- transport.Update]

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Uint64
}

// New connects to the Bot API (getMe) and returns an idle adapter.
// An invalid token fails here.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log}

	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		URL:    strings.TrimSpace(cfg.APIURL),
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client: &http.Client{Timeout: cfg.PollTimeout + 10*time.Second},
		OnError: func(err error, c tele.Context) {
			a.log.Warn("telebot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	a.bot = b
	if b.Me != nil {
		a.me = transport.Identity{ID: b.Me.ID, Username: b.Me.Username, FirstName: b.Me.FirstName}
	}
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Identity() transport.Identity { return a.me }

func (a *Adapter) registerHandlers() {
	// Handlers forward to the current output channel; Start swaps it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		msg := &transport.Message{
			ID:       m.ID,
			ChatID:   m.Chat.ID,
			ChatType: string(m.Chat.Type),
			ThreadID: m.ThreadID,
			Text:     m.Text,
		}
		if s := m.Sender; s != nil {
			msg.FromID = s.ID
			msg.Username = s.Username
			msg.FirstName = s.FirstName
			msg.LastName = s.LastName
		}
		a.emit(transport.Update{Kind: transport.UpdateMessage, Message: msg})
		return nil
	})
}

func (a *Adapter) emit(up transport.Update) {
	p := a.out.Load()
	if p == nil || *p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

// Start begins long polling. Updates are delivered to out without blocking
// the poll loop; overflow is counted and reported.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(&out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter failures must not take down the process.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it returns early.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started", logx.String("bot", a.me.Username))
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop ends polling. It never blocks shutdown for longer than ctx or a short
// grace window, whichever is smaller.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.out.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("bot", a.me.Username))
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// recipient addresses a chat by public username ("@channel").
type recipient string

func (r recipient) Recipient() string { return string(r) }

func toRecipient(t transport.ChatTarget) tele.Recipient {
	if id, ok := t.NumericID(); ok {
		return tele.ChatID(id)
	}
	return recipient(t.ID)
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := splitText(text, textLimit, opt.ParseMode)
	if len(chunks) == 0 {
		chunks = []string{text}
	}
	rcpt := toRecipient(to)

	var first transport.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.sendChunk(ctx, rcpt, chunk, &tele.SendOptions{
			ParseMode:             tele.ParseMode(opt.ParseMode),
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 && msg != nil {
			first = transport.MessageRef{Chat: to, MessageID: msg.ID}
		}
	}
	return first, nil
}

// sendChunk runs bot.Send so that ctx cancellation returns promptly.
// telebot's own HTTP client timeout bounds the abandoned call.
func (a *Adapter) sendChunk(ctx context.Context, to tele.Recipient, text string, opt *tele.SendOptions) (*tele.Message, error) {
	type result struct {
		msg *tele.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := a.bot.Send(to, text, opt)
		ch <- result{m, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.msg, r.err
	}
}

// ChatInfo describes a chat resolved by id or username.
type ChatInfo struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// ResolveChat checks that the bot can see the target chat (getChat).
func (a *Adapter) ResolveChat(ctx context.Context, target string) (ChatInfo, error) {
	t, err := transport.ParseTarget(target)
	if err != nil {
		return ChatInfo{}, err
	}
	type result struct {
		chat *tele.Chat
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		var c *tele.Chat
		var err error
		if id, ok := t.NumericID(); ok {
			c, err = a.bot.ChatByID(id)
		} else {
			c, err = a.bot.ChatByUsername(t.ID)
		}
		ch <- result{c, err}
	}()
	select {
	case <-ctx.Done():
		return ChatInfo{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return ChatInfo{}, r.err
		}
		return ChatInfo{ID: r.chat.ID, Type: string(r.chat.Type), Title: r.chat.Title, Username: r.chat.Username}, nil
	}
}

// UpdateMenuCommands publishes the command menu (setMyCommands).
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		list = append(list, tele.Command{Text: c.Command, Description: d})
	}
	if err := a.bot.SetCommands(list); err != nil {
		return fmt.Errorf("setMyCommands: %w", err)
	}
	a.log.Debug("menu commands updated", logx.Int("count", len(list)))
	return nil
}
