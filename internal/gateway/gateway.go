// Package gateway holds the currently attached transport and routes outbound
// messages through it.
//
// The attachment is swapped atomically when the bot is started, restarted or
// stopped; senders never see a half-initialized adapter.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"

	"moltby/internal/transport"
	logx "moltby/pkg/logx"
)

var ErrTransportUnavailable = errors.New("transport unavailable")

// Sender is the outbound half of a transport adapter.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Config struct {
	// RatePerSec limits outbound messages across all targets; 0 disables limiting.
	RatePerSec float64
	Burst      int
}

type attachment struct {
	s Sender
}

type Gateway struct {
	log     logx.Logger
	cur     atomic.Pointer[attachment]
	limiter atomic.Pointer[rate.Limiter]

	sent   atomic.Uint64
	failed atomic.Uint64
}

func New(cfg Config, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gateway{log: log}
	g.Apply(cfg)
	return g
}

// Apply swaps the rate limiter. Safe to call concurrently with SendMessage.
func (g *Gateway) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		g.limiter.Store(nil)
		return
	}
	burst := max(1, cfg.Burst)
	g.limiter.Store(rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst))
}

// Attach makes s the active transport and returns the previous one (may be nil).
func (g *Gateway) Attach(s Sender) Sender {
	var next *attachment
	if s != nil {
		next = &attachment{s: s}
	}
	prev := g.cur.Swap(next)
	g.log.Info("transport attached", logx.Bool("replaced", prev != nil), logx.Bool("active", next != nil))
	if prev == nil {
		return nil
	}
	return prev.s
}

// Detach clears the active transport if it is still s.
// It reports whether a detach happened; a newer attachment is left alone.
func (g *Gateway) Detach(s Sender) bool {
	for {
		cur := g.cur.Load()
		if cur == nil || cur.s != s {
			return false
		}
		if g.cur.CompareAndSwap(cur, nil) {
			g.log.Info("transport detached")
			return true
		}
	}
}

func (g *Gateway) IsAttached() bool { return g.cur.Load() != nil }

// SendMessage delivers text to an opaque conversation id.
// It returns ErrTransportUnavailable when nothing is attached.
func (g *Gateway) SendMessage(ctx context.Context, target, text string) error {
	a := g.cur.Load()
	if a == nil {
		return ErrTransportUnavailable
	}
	to, err := transport.ParseTarget(target)
	if err != nil {
		return fmt.Errorf("target %q: %w", target, err)
	}
	if lim := g.limiter.Load(); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if _, err := a.s.SendText(ctx, to, text, nil); err != nil {
		g.failed.Add(1)
		return fmt.Errorf("send to %s: %w", to, err)
	}
	g.sent.Add(1)
	return nil
}

type Stats struct {
	Attached bool
	Sent     uint64
	Failed   uint64
}

func (g *Gateway) Stats() Stats {
	return Stats{Attached: g.IsAttached(), Sent: g.sent.Load(), Failed: g.failed.Load()}
}
