package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultSweepSchedule = "5 0 * * *"
	DefaultHTTPAddr      = "127.0.0.1:8080"
)

// Validate checks everything that can be checked without building services.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "memory":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	sw := cfg.Sweep
	_, err := LoadLocation("sweep.timezone", sw.Timezone)
	add(err)
	_, err = ParseDurationField("sweep.timeout", sw.Timeout)
	add(err)
	if sw.Concurrency < 0 {
		add(errors.New("sweep.concurrency must be >= 0"))
	}
	if sw.HistorySize < 0 {
		add(errors.New("sweep.history_size must be >= 0"))
	}

	if n := cfg.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Telegram.Token) == "" {
			add(errors.New("notifier.telegram.token is required when the notifier is enabled"))
		}
		if n.DefaultChatID == 0 && len(n.HomeChats) == 0 {
			add(errors.New("notifier: set default_chat_id or home_chats"))
		}
		for _, f := range []struct{ path, raw string }{
			{"notifier.telegram.poll_timeout", n.Telegram.PollTimeout},
			{"notifier.send_timeout", n.SendTimeout},
			{"notifier.dedup_window", n.DedupWindow},
			{"notifier.breaker_cooldown", n.BreakerCooldown},
		} {
			_, err := ParseDurationField(f.path, f.raw)
			add(err)
		}
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 {
			add(errors.New("notifier: workers, queue_size and rate_per_sec must be >= 0"))
		}
	}
	return errors.Join(errs...)
}

// SweepSchedule returns the configured schedule or the default.
func (c *Config) SweepSchedule() string {
	if s := strings.TrimSpace(c.Sweep.Schedule); s != "" {
		return s
	}
	return DefaultSweepSchedule
}

// HTTPAddr returns the configured listen address or the default.
func (c *Config) HTTPAddr() string {
	if a := strings.TrimSpace(c.HTTP.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}
