package config

import (
	"hash/fnv"
	"strings"

	logx "moltby/pkg/logx"
)

// SummarizeChange lists the sections that differ and safe log fields for
// them. Tokens are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var fields []logx.Field

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.WelcomeChat != nt.WelcomeChat || ot.PollTimeout != nt.PollTimeout || ot.APIURL != nt.APIURL {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh.Enabled != nh.Enabled || oh.Addr != nh.Addr || oh.Token != nh.Token || oh.AllowInsecure != nh.AllowInsecure ||
		oh.ReadTimeout != nh.ReadTimeout || oh.WriteTimeout != nh.WriteTimeout || oh.IdleTimeout != nh.IdleTimeout {
		changed = append(changed, "http")
		fields = append(fields,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(nh.Token) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.String("scheduler.dispatch_timeout", newCfg.Scheduler.DispatchTimeout),
			logx.Any("scheduler.rate_per_sec", newCfg.Scheduler.RatePerSec),
		)
	}

	var prevStore, nextStore StorageConfig
	if oldCfg.Storage != nil {
		prevStore = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nextStore = *newCfg.Storage
	}
	if prevStore != nextStore {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", nextStore.Driver))
	}
	return changed, fields
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
