package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONAndYAML(t *testing.T) {
	t.Parallel()

	js := []byte(`{"telegram":{"token":"abc"},"http":{"enabled":true,"addr":"127.0.0.1:9000"},"scheduler":{"dispatch_timeout":"5s"}}`)
	cfg, err := Decode("moltby.json", js)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Telegram.Token)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.DispatchTimeoutOr(time.Minute))

	ym := []byte("telegram:\n  token: abc\nhttp:\n  enabled: true\n  addr: 127.0.0.1:9000\nstorage:\n  driver: sqlite\n  path: ./x.db\n")
	cfg, err = Decode("moltby.yaml", ym)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	_, err := Decode("x.json", []byte(`{"telegram":{"tokn":"x"}}`))
	assert.Error(t, err)

	_, err = Decode("x.json", []byte(`{} {}`))
	assert.Error(t, err)

	_, err = Decode("x.yml", []byte("pprof:\n  enabled: true\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"default", func(*Config) {}, true},
		{"public without token", func(c *Config) { c.HTTP.Addr = "0.0.0.0:8787" }, false},
		{"public with token", func(c *Config) { c.HTTP.Addr = "0.0.0.0:8787"; c.HTTP.Token = "s" }, true},
		{"public insecure", func(c *Config) { c.HTTP.Addr = ":8787"; c.HTTP.AllowInsecure = true }, true},
		{"bad duration", func(c *Config) { c.Scheduler.DispatchTimeout = "soon" }, false},
		{"negative rate", func(c *Config) { c.Scheduler.RatePerSec = -1 }, false},
		{"chat without target", func(c *Config) { c.Logging.Chat.Enabled = true }, false},
		{"bad storage", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, false},
		{"sqlite storage", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite", Path: "x.db"} }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mut(cfg)
			err := Validate(cfg)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, IsLoopbackAddr("127.0.0.1:80"))
	assert.True(t, IsLoopbackAddr("localhost:80"))
	assert.True(t, IsLoopbackAddr("[::1]:80"))
	assert.False(t, IsLoopbackAddr(":80"))
	assert.False(t, IsLoopbackAddr("10.0.0.1:80"))
	assert.False(t, IsLoopbackAddr("nonsense"))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvTelegramToken, "from-env")
	t.Setenv(EnvHTTPToken, "")

	cfg := Default()
	cfg.Telegram.Token = "from-file"
	cfg.HTTP.Token = "keep"
	ApplyEnv(cfg)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "keep", cfg.HTTP.Token)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("MOLTBY_TEST_DOTENV=yes\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("MOLTBY_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), p))
	assert.Equal(t, "yes", os.Getenv("MOLTBY_TEST_DOTENV"))
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "moltby.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"logging":{"level":"info"}}`), 0o600))

	m := NewManager(p)
	m.debounce = 10 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(50 * time.Millisecond)

	// Invalid revisions are rejected; the next valid one is published.
	require.NoError(t, os.WriteFile(p, []byte(`{"scheduler":{"dispatch_timeout":"nope"}}`), 0o600))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o600))

	select {
	case cfg := <-sub:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
}

func TestSummarizeChangeHidesTokens(t *testing.T) {
	t.Parallel()
	a, b := Default(), Default()
	b.Telegram.Token = "secret"
	b.Scheduler.DispatchTimeout = "5s"

	changed, fields := SummarizeChange(a, b)
	assert.Equal(t, []string{"telegram", "scheduler"}, changed)
	assert.NotEmpty(t, fields)
}
