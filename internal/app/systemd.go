package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"schoolbell/pkg/logx"
)

// sdNotifier speaks the sd_notify protocol when running under a
// Type=notify unit. Outside systemd every call is a no-op.
type sdNotifier struct {
	enabled bool
	log     logx.Logger
	// alive reports whether the tick loop is still making progress.
	alive func() bool
}

func (n sdNotifier) notify(state string) {
	if !n.enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Debug("sd_notify not supported", logx.String("state", state))
	}
}

func (n sdNotifier) ready(status string) {
	n.notify(daemon.SdNotifyReady)
	n.notify("STATUS=" + status)
}

func (n sdNotifier) stopping() { n.notify(daemon.SdNotifyStopping) }

// watchdog pings at half the unit's WatchdogSec while alive holds. It returns
// at once when no watchdog is configured.
func (n sdNotifier) watchdog(ctx context.Context) {
	if !n.enabled {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	n.log.Info("watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n.alive != nil && !n.alive() {
				n.log.Warn("tick loop stalled; withholding watchdog ping")
				continue
			}
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
