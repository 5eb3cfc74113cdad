package system

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	log "github.com/sirupsen/logrus"
)

// Notifier reports readiness and keeps the systemd watchdog fed. Outside
// systemd every call is a no-op.
type Notifier struct {
	interval time.Duration
	last     time.Time
	notify   func(string) (bool, error)
}

func NewNotifier() *Notifier {
	n := &Notifier{notify: func(s string) (bool, error) { return daemon.SdNotify(false, s) }}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.WithField("module", "system").WithError(err).Warnln("invalid watchdog settings")
	}
	n.interval = d / 2
	return n
}

func (n *Notifier) Ready() {
	if _, err := n.notify(daemon.SdNotifyReady); err != nil {
		log.WithField("module", "system").WithError(err).Debugln("sd_notify ready")
	}
}

// Tick feeds the watchdog when at least half its timeout has passed.
func (n *Notifier) Tick(now time.Time) {
	if n.interval <= 0 || now.Sub(n.last) < n.interval {
		return
	}
	n.last = now
	if _, err := n.notify(daemon.SdNotifyWatchdog); err != nil {
		log.WithField("module", "system").WithError(err).Debugln("sd_notify watchdog")
	}
}
