package app

import (
	"strings"
	"time"

	"homekeep/internal/config"
	"homekeep/internal/notifier"
	"homekeep/internal/scheduler"
	"homekeep/internal/storage"
	"homekeep/internal/task"
	logx "homekeep/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapTaskConfig(cfg *config.Config, now func() time.Time) (task.Config, error) {
	loc, err := config.LoadLocation("sweep.timezone", cfg.Sweep.Timezone)
	if err != nil {
		return task.Config{}, err
	}
	return task.Config{Location: loc, Concurrency: cfg.Sweep.Concurrency, Now: now}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("sweep.timeout", cfg.Sweep.Timeout, 2*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:       strings.TrimSpace(cfg.Sweep.Timezone),
		DefaultTimeout: timeout,
		HistorySize:    cfg.Sweep.HistorySize,
	}, nil
}

// mapNotifierConfig returns the notifier config plus the Telegram client
// timeout. A nil section means disabled.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, time.Duration, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{}, 0, nil
	}
	loc, err := config.LoadLocation("sweep.timezone", cfg.Sweep.Timezone)
	if err != nil {
		return notifier.Config{}, 0, err
	}
	durs := make([]time.Duration, 4)
	for i, f := range []struct{ path, raw string }{
		{"notifier.send_timeout", n.SendTimeout},
		{"notifier.dedup_window", n.DedupWindow},
		{"notifier.breaker_cooldown", n.BreakerCooldown},
		{"notifier.telegram.poll_timeout", n.Telegram.PollTimeout},
	} {
		if durs[i], err = config.ParseDurationField(f.path, f.raw); err != nil {
			return notifier.Config{}, 0, err
		}
	}
	chats := make(map[string]int64, len(n.HomeChats))
	for k, v := range n.HomeChats {
		chats[k] = v
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		DefaultChatID:   n.DefaultChatID,
		ThreadID:        n.ThreadID,
		HomeChats:       chats,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		SendTimeout:     durs[0],
		DedupWindow:     durs[1],
		BreakerFailures: n.BreakerFailures,
		BreakerCooldown: durs[2],
		Location:        loc,
	}, durs[3], nil
}
