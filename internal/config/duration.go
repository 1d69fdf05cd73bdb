package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// durationOr returns def for empty, zero or invalid values.
// Validate reports invalid values before they get here.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c TelegramConfig) PollTimeoutOr(def time.Duration) time.Duration {
	return durationOr(c.PollTimeout, def)
}

// Timeouts returns read, write and idle timeouts with server defaults.
func (c HTTPConfig) Timeouts() (read, write, idle time.Duration) {
	return durationOr(c.ReadTimeout, 10*time.Second),
		durationOr(c.WriteTimeout, 30*time.Second),
		durationOr(c.IdleTimeout, 60*time.Second)
}

func (c SchedulerConfig) DispatchTimeoutOr(def time.Duration) time.Duration {
	return durationOr(c.DispatchTimeout, def)
}

func (c StorageConfig) BusyTimeoutOr(def time.Duration) time.Duration {
	return durationOr(c.BusyTimeout, def)
}
