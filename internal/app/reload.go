package app

import (
	"context"
	"slices"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"

	"moltby/internal/config"
	logx "moltby/pkg/logx"
)

// reloadLoop applies accepted config revisions to the running components.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest revision matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(c, last, next)
			last = next
		}
	}
}

func (a *App) apply(c context.Context, prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	sdNotify(a.log, daemon.SdNotifyReloading)
	defer sdNotify(a.log, daemon.SdNotifyReady)

	a.logs.Apply(mapLogConfig(next))
	a.gw.Apply(mapGatewayConfig(next))
	a.sched.Apply(mapSchedulerConfig(next))
	a.api.Reconfigure(c, mapHTTPConfig(next))

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if slices.Contains(sections, "telegram") {
		a.applyTelegram(c, prev.Telegram, next.Telegram)
	}

	a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

// applyTelegram restarts the bot when the configured token changes.
// Clearing the token leaves a running bot alone; stop it through the API.
func (a *App) applyTelegram(c context.Context, prev, next config.TelegramConfig) {
	tok := strings.TrimSpace(next.Token)
	if tok == strings.TrimSpace(prev.Token) {
		return
	}
	if tok == "" {
		a.log.Info("telegram token removed from config; running bot left untouched")
		return
	}
	a.log.Info("telegram token changed; restarting bot")
	a.startBot(c, tok, next.WelcomeChat)
}
