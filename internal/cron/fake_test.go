package cron

import (
	"context"
	"errors"
	"sync"

	"moltby/internal/gateway"
)

type sent struct {
	target string
	text   string
}

// fakeGateway records sends. A non-nil block channel holds every send until
// it is closed.
type fakeGateway struct {
	mu       sync.Mutex
	attached bool
	err      error
	block    chan struct{}
	started  chan struct{}
	sent     []sent
}

func newFakeGateway() *fakeGateway { return &fakeGateway{attached: true} }

func (g *fakeGateway) IsAttached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attached
}

func (g *fakeGateway) SendMessage(ctx context.Context, target, text string) error {
	g.mu.Lock()
	if !g.attached {
		g.mu.Unlock()
		return gateway.ErrTransportUnavailable
	}
	block, started, err := g.block, g.started, g.err
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.sent = append(g.sent, sent{target: target, text: text})
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) setAttached(v bool) {
	g.mu.Lock()
	g.attached = v
	g.mu.Unlock()
}

func (g *fakeGateway) setErr(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

func (g *fakeGateway) sends() []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sent(nil), g.sent...)
}

var errSendBoom = errors.New("telegram: chat not found")

func boolPtr(v bool) *bool { return &v }

func pingDef() JobDef {
	return JobDef{Name: "ping", Schedule: "*/5 * * * *", Target: "123", Message: "hi"}
}
