package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"homekeep/internal/config"
	logx "homekeep/pkg/logx"
)

// reloadLoop applies published configs until ctx is done. Bursts collapse
// to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					next = newer
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	has := func(s string) bool { return slices.Contains(sections, s) }

	if has("logging") {
		a.logs.Apply(mapLogging(newCfg))
	}
	for _, s := range []string{"storage", "http", "systemd"} {
		if has(s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if has("sweep") {
		a.applySweep(newCfg)
	}
	if has("notifier") || has("sweep") {
		a.applyNotifier(ctx, oldCfg, newCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applySweep(cfg *config.Config) {
	tcfg, err := mapTaskConfig(cfg, a.tasks.Clock())
	if err != nil {
		a.log.Warn("invalid sweep config; keeping previous", logx.Err(err))
		return
	}
	a.tasks.Apply(tcfg)

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid sweep config; keeping previous", logx.Err(err))
		return
	}
	a.sched.Apply(scfg)
	if err := a.applySweepSchedule(cfg); err != nil {
		a.log.Warn("sweep schedule rejected; keeping previous", logx.Err(err))
	}
}

func (a *App) applyNotifier(ctx context.Context, oldCfg, newCfg *config.Config) {
	ncfg, _, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	if oldCfg != nil && oldCfg.Notifier != nil && newCfg.Notifier != nil &&
		oldCfg.Notifier.Telegram.Token != newCfg.Notifier.Telegram.Token {
		a.log.Warn("notifier token changed; restart required for changes to take effect")
	}
	a.notif.Apply(ncfg)
	if a.notif.Enabled() {
		a.notif.Start(ctx)
		return
	}
	if ncfg.Enabled {
		a.log.Warn("notifier enabled without a sender; restart required")
	}
	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	a.notif.Stop(stopCtx)
}
