package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const DefaultHTTPAddr = "127.0.0.1:8787"

// Default is used when no config file exists.
func Default() *Config {
	return &Config{
		HTTP:    HTTPConfig{Enabled: true, Addr: DefaultHTTPAddr},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// Validate checks values that the strict decoder cannot.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	check("http.read_timeout", cfg.HTTP.ReadTimeout)
	check("http.write_timeout", cfg.HTTP.WriteTimeout)
	check("http.idle_timeout", cfg.HTTP.IdleTimeout)
	check("scheduler.dispatch_timeout", cfg.Scheduler.DispatchTimeout)

	if cfg.Scheduler.RatePerSec < 0 {
		errs = append(errs, errors.New("scheduler.rate_per_sec must be >= 0"))
	}
	if cfg.HTTP.Enabled {
		addr := strings.TrimSpace(cfg.HTTP.Addr)
		if addr == "" {
			addr = DefaultHTTPAddr
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("http.addr: %w", err))
		} else if !IsLoopbackAddr(addr) && strings.TrimSpace(cfg.HTTP.Token) == "" && !cfg.HTTP.AllowInsecure {
			errs = append(errs, fmt.Errorf("http.addr %q is not loopback; set http.token or http.allow_insecure", addr))
		}
	}
	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Logging.Chat.Target) == "" {
		errs = append(errs, errors.New("logging.chat.target required when logging.chat.enabled"))
	}
	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", st.Driver))
		}
		check("storage.busy_timeout", st.BusyTimeout)
	}
	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether a host:port binds to loopback only.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "" {
		// ":8787" listens on all interfaces.
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
