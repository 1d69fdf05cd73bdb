package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	chatMaxRunes  = 3500
	chatMaxValue  = 600
	chatQueueSize = 256
	chatSendLimit = 10 * time.Second
)

// ChatSender delivers a text message to an opaque conversation id.
// The transport gateway satisfies it.
type ChatSender interface {
	SendMessage(ctx context.Context, target, text string) error
}

// chatSink is a zerolog.LevelWriter that queues formatted lines for an
// operator chat. Writes never block; lines over the rate or queue are dropped.
type chatSink struct {
	queue chan chatLine

	mu       sync.Mutex
	sender   ChatSender
	enabled  bool
	target   string
	minLevel zerolog.Level
	limiter  *rate.Limiter
	stop     context.CancelFunc
	done     chan struct{}
}

type chatLine struct {
	target string
	text   string
}

func newChatSink(sender ChatSender) *chatSink {
	return &chatSink{queue: make(chan chatLine, chatQueueSize), sender: sender}
}

func (c *chatSink) setSender(sender ChatSender) {
	c.mu.Lock()
	c.sender = sender
	c.mu.Unlock()
}

// apply reports whether the sink should be part of the writer set.
func (c *chatSink) apply(cfg ChatConfig) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = cfg.Enabled
	c.target = strings.TrimSpace(cfg.Target)
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.RatePerSec)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if !c.enabled {
		return false
	}
	if c.target == "" {
		fmt.Fprintln(os.Stderr, "logx: chat logging enabled but logging.chat.target is not set")
	}
	if c.stop == nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.stop, c.done = cancel, make(chan struct{})
		go c.run(ctx, c.done)
	}
	return true
}

func (c *chatSink) close() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

func (c *chatSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-c.queue:
			c.mu.Lock()
			sender := c.sender
			c.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendLimit)
			// Failures are dropped: logging them would feed back into this sink.
			_ = sender.SendMessage(sctx, l.target, l.text)
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.NoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	ok := c.enabled && c.sender != nil && c.target != "" &&
		level != zerolog.NoLevel && level >= c.minLevel && c.limiter.Allow()
	target := c.target
	c.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := formatChatLine(p); text != "" {
		select {
		case c.queue <- chatLine{target: target, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatChatLine turns one JSON log line into
//
//	[WARN cron.executor] dispatch failed
//	- err=...
//	- job=...
//
// with fields sorted by key. Non-JSON input is passed through truncated.
func formatChatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, chatMaxRunes)
	}

	var b strings.Builder
	head := strings.ToUpper(str(m["level"]))
	if comp := str(m["comp"]); comp != "" {
		head = strings.TrimSpace(head + " " + comp)
	}
	if head != "" {
		b.WriteString("[" + head + "] ")
	}
	b.WriteString(str(m["message"]))

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "comp", zerolog.CallerFieldName:
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), chatMaxValue))
	}
	return clip(b.String(), chatMaxRunes)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// clip truncates s to n runes, marking the cut with "...".
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
