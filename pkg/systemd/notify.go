// Package systemd talks to the service manager: sd_notify readiness and
// watchdog pings, plus read-only unit status over D-Bus.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "homekeep/pkg/logx"
)

// Notifier sends sd_notify states. Every method is a no-op when the process
// was not started by systemd (NOTIFY_SOCKET unset) or Enabled is false.
type Notifier struct {
	Enabled bool
	Log     logx.Logger
}

func (n Notifier) send(state string) bool {
	if !n.Enabled {
		return false
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil && !n.Log.IsZero() {
		n.Log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
	return sent
}

func (n Notifier) Ready() bool    { return n.send(daemon.SdNotifyReady) }
func (n Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }
func (n Notifier) Reloading() bool {
	return n.send(daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func (n Notifier) Status(msg string) bool { return n.send("STATUS=" + msg) }

// WatchdogInterval returns the ping interval (half of WatchdogSec), or 0
// when the unit has no watchdog.
func (n Notifier) WatchdogInterval() time.Duration {
	if !n.Enabled {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// RunWatchdog pings until ctx is done. healthy gates each ping so a wedged
// process stops pinging and gets restarted.
func (n Notifier) RunWatchdog(ctx context.Context, healthy func() bool) error {
	every := n.WatchdogInterval()
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy == nil || healthy() {
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	}
}
