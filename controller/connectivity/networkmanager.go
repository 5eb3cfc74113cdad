package connectivity

import (
	"context"
	"net"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reef-pi/aqnode/controller/arbiter"
)

const (
	nmDest        = "org.freedesktop.NetworkManager"
	nmPath        = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface       = "org.freedesktop.NetworkManager"
	nmDeviceIface = "org.freedesktop.NetworkManager.Device"
)

// NMDeviceState values, see NetworkManager's D-Bus API.
const (
	nmDeviceStateUnknown     = 0
	nmDeviceStatePrepare     = 40
	nmDeviceStateSecondaries = 90
	nmDeviceStateActivated   = 100
)

// NetworkManager drives a wireless interface through NetworkManager on the system bus.
type NetworkManager struct {
	conn   *dbus.Conn
	iface  string
	device dbus.ObjectPath

	mu      sync.Mutex
	profile dbus.ObjectPath
}

func NewNetworkManager(iface string) (*NetworkManager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to system bus")
	}
	var device dbus.ObjectPath
	if err := conn.Object(nmDest, nmPath).Call(nmIface+".GetDeviceByIpIface", 0, iface).Store(&device); err != nil {
		return nil, errors.Wrapf(err, "no network manager device for interface %s", iface)
	}
	return &NetworkManager{conn: conn, iface: iface, device: device}, nil
}

func (n *NetworkManager) Connect(ctx context.Context, creds arbiter.Credentials) error {
	nm := n.conn.Object(nmDest, nmPath)
	if err := nm.SetProperty(nmIface+".WirelessEnabled", dbus.MakeVariant(true)); err != nil {
		return errors.Wrap(err, "failed to enable radio")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	var active dbus.ObjectPath
	if n.profile != "" || creds.SSID == "" {
		// Reuse the profile created earlier, or let NetworkManager pick one.
		profile := n.profile
		if profile == "" {
			profile = "/"
		}
		return nm.CallWithContext(ctx, nmIface+".ActivateConnection", 0, profile, n.device, dbus.ObjectPath("/")).Store(&active)
	}

	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":   dbus.MakeVariant(creds.SSID),
			"type": dbus.MakeVariant("802-11-wireless"),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(creds.SSID)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
	}
	if creds.Password != "" {
		settings["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(creds.Password),
		}
	}
	var profile dbus.ObjectPath
	if err := nm.CallWithContext(ctx, nmIface+".AddAndActivateConnection", 0, settings, n.device, dbus.ObjectPath("/")).Store(&profile, &active); err != nil {
		return errors.Wrapf(err, "failed to activate connection to %s", creds.SSID)
	}
	n.profile = profile
	return nil
}

// Disconnect drops the link. Unless keepRadioOn is set the radio is switched off as well.
func (n *NetworkManager) Disconnect(keepRadioOn bool) error {
	if n.Status() != arbiter.Disconnected {
		if err := n.conn.Object(nmDest, n.device).Call(nmDeviceIface+".Disconnect", 0).Err; err != nil {
			log.WithField("module", "connectivity").WithError(err).Debugln("device disconnect")
		}
	}
	if keepRadioOn {
		return nil
	}
	if err := n.conn.Object(nmDest, nmPath).SetProperty(nmIface+".WirelessEnabled", dbus.MakeVariant(false)); err != nil {
		return errors.Wrap(err, "failed to disable radio")
	}
	return nil
}

func (n *NetworkManager) Status() arbiter.Status {
	return statusFrom(n.conn.Object(nmDest, n.device).GetProperty(nmDeviceIface + ".State"))
}

func statusFrom(v dbus.Variant, err error) arbiter.Status {
	if err != nil {
		log.WithField("module", "connectivity").WithError(err).Debugln("device state")
		return arbiter.Unknown
	}
	state, ok := v.Value().(uint32)
	if !ok {
		return arbiter.Unknown
	}
	return deviceStatus(state)
}

func deviceStatus(state uint32) arbiter.Status {
	switch {
	case state == nmDeviceStateUnknown:
		return arbiter.Unknown
	case state == nmDeviceStateActivated:
		return arbiter.Connected
	case state >= nmDeviceStatePrepare && state <= nmDeviceStateSecondaries:
		return arbiter.Connecting
	}
	return arbiter.Disconnected
}

func (n *NetworkManager) LocalAddress() string {
	return interfaceAddress(n.iface)
}

func interfaceAddress(name string) string {
	i, err := net.InterfaceByName(name)
	if err != nil {
		return ""
	}
	addrs, err := i.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
			return ipn.IP.String()
		}
	}
	return ""
}
