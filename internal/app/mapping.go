package app

import (
	"strings"
	"time"

	"moltby/internal/config"
	"moltby/internal/cron"
	"moltby/internal/gateway"
	"moltby/internal/httpapi"
	"moltby/internal/storage"
	logx "moltby/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			Target:     lc.Chat.Target,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

// mapStorageConfig reports enabled=false when no driver is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: sc.BusyTimeoutOr(time.Second),
	}, true
}

func mapSchedulerConfig(cfg *config.Config) cron.Config {
	return cron.Config{DispatchTimeout: cfg.Scheduler.DispatchTimeoutOr(cron.DefaultDispatchTimeout)}
}

func mapGatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{RatePerSec: cfg.Scheduler.RatePerSec, Burst: cfg.Scheduler.Burst}
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	read, write, idle := cfg.HTTP.Timeouts()
	addr := strings.TrimSpace(cfg.HTTP.Addr)
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	return httpapi.Config{
		Enabled:       cfg.HTTP.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(cfg.HTTP.Token),
		AllowInsecure: cfg.HTTP.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}
}
