package logx

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recSender) SendMessage(ctx context.Context, target, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, target+"|"+text)
	return nil
}

func (r *recSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestChatSinkForwardsWarningsOnly(t *testing.T) {
	snd := &recSender{}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, Target: "-100:7", RatePerSec: 50},
	}, nil)
	defer svc.Close()
	svc.SetSender(snd)

	cron := log.With(String("comp", "cron.executor"))
	cron.Info("job fired", String("job", "j1"))
	cron.Warn("dispatch failed", String("job", "j1"), Err(errors.New("chat not found")))

	require.Eventually(t, func() bool { return len(snd.sent()) == 1 }, time.Second, 5*time.Millisecond)
	got := snd.sent()[0]
	assert.True(t, strings.HasPrefix(got, "-100:7|[WARN cron.executor] dispatch failed"), got)
	assert.Contains(t, got, "\n- err=chat not found\n- job=j1")
	assert.NotContains(t, got, "caller")
}

func TestChatSinkNeedsSenderAndTarget(t *testing.T) {
	snd := &recSender{}
	svc, log := New(Config{Chat: ChatConfig{Enabled: true}}, snd)
	defer svc.Close()

	log.Error("no target")
	svc.Apply(Config{Chat: ChatConfig{Enabled: false, Target: "42"}})
	log.Error("disabled")

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, snd.sent())
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	line := `{"level":"error","comp":"http","message":"boom","time":"x","caller":"a.go:1","z":1,"a":"` + strings.Repeat("é", 700) + `"}`
	out := formatChatLine([]byte(line))

	assert.True(t, strings.HasPrefix(out, "[ERROR http] boom\n- a="), out)
	assert.True(t, strings.HasSuffix(out, "...\n- z=1"), "long values are clipped by rune, keys stay sorted")
	assert.Equal(t, "plain text", formatChatLine([]byte(" plain text \n")))
}

func TestClip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "héllo", clip("héllo", 5))
	assert.Equal(t, "hé...", clip("héllo world", 5))
	assert.Equal(t, "hé", clip("héllo", 2))
}

func TestLoggerLevels(t *testing.T) {
	t.Parallel()
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.False(t, Nop().IsZero())
	assert.NotPanics(t, func() { zero.With(String("k", "v")).Error("dropped") })

	svc, log := New(Config{Level: "warn"}, nil)
	defer svc.Close()
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))

	svc.Apply(Config{Level: "trace"})
	assert.True(t, log.Enabled(LevelTrace), "derived loggers follow Apply")
}
