package system

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ExitRestart is the exit status used to ask the service manager for a restart.
const ExitRestart = 75

type Rebooter interface {
	Reboot(reason string) error
}

// ProcessRestarter exits the process and relies on systemd's Restart= policy
// to start it again.
type ProcessRestarter struct {
	exit func(int)
}

func NewProcessRestarter(exit func(int)) *ProcessRestarter {
	return &ProcessRestarter{exit: exit}
}

func (p *ProcessRestarter) Reboot(reason string) error {
	log.WithField("module", "system").Infoln("restarting:", reason)
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.WithField("module", "system").WithError(err).Debugln("sd_notify stopping")
	}
	p.exit(ExitRestart)
	return nil
}

// LogindRebooter reboots the whole machine through systemd-logind.
type LogindRebooter struct{}

func (LogindRebooter) Reboot(reason string) error {
	log.WithField("module", "system").Infoln("rebooting:", reason)
	conn, err := dbus.SystemBus()
	if err != nil {
		return errors.Wrap(err, "failed to connect to system bus")
	}
	obj := conn.Object("org.freedesktop.login1", "/org/freedesktop/login1")
	if err := obj.Call("org.freedesktop.login1.Manager.Reboot", 0, false).Err; err != nil {
		return errors.Wrap(err, "logind reboot")
	}
	return nil
}

func NewRebooter(kind string, exit func(int)) (Rebooter, error) {
	switch kind {
	case "", "process":
		return NewProcessRestarter(exit), nil
	case "system":
		return LogindRebooter{}, nil
	}
	return nil, fmt.Errorf("unknown reboot mode %q", kind)
}
