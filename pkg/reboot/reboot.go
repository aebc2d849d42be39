// Package reboot restarts the host once the upgrade is applied.
package reboot

import (
	"os"
	"strconv"

	systemd "github.com/coreos/go-systemd/v22/dbus"
	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/logging"
)

const (
	// DefaultSocket is systemd's private bus, usable before the system bus
	// is up.
	DefaultSocket = "/run/systemd/private"
	// DefaultUnit is the target started to reboot.
	DefaultUnit = "reboot.target"

	// replaceIrreversibly queues the job so that it cannot be cancelled by
	// later requests, as `systemctl reboot` does.
	replaceIrreversibly = "replace-irreversibly"
)

// Trigger requests a reboot without waiting for it.
type Trigger interface {
	Reboot() error
}

// Nop never reboots.
type Nop struct{}

func (Nop) Reboot() error { return nil }

type unitStarter interface {
	StartUnit(name string, mode string, ch chan<- string) (int, error)
	Close()
}

// Systemd reboots by starting the reboot target over systemd's private
// socket.
type Systemd struct {
	log     logging.Logger
	socket  string
	unit    string
	connect func(socket string) (unitStarter, error)
}

// NewSystemd creates a trigger. Empty arguments select the defaults.
func NewSystemd(socket, unit string) *Systemd {
	if socket == "" {
		socket = DefaultSocket
	}
	if unit == "" {
		unit = DefaultUnit
	}
	return &Systemd{
		log:     logging.New("reboot"),
		socket:  socket,
		unit:    unit,
		connect: connect,
	}
}

// Reboot queues the reboot job and returns: the request is not tracked to
// completion.
func (s *Systemd) Reboot() error {
	sd, err := s.connect(s.socket)
	if err != nil {
		return errors.Wrap(err, "unable to connect to systemd")
	}
	defer sd.Close()

	s.log.WithFields(logrus.Fields{
		"unit": s.unit,
		"mode": replaceIrreversibly,
	}).Info("rebooting")
	// A nil channel leaves the job running without waiting on its result.
	if _, err := sd.StartUnit(s.unit, replaceIrreversibly, nil); err != nil {
		return errors.Wrapf(err, "unable to start %s", s.unit)
	}
	return nil
}

func connect(socket string) (unitStarter, error) {
	dialer := func() (*dbus.Conn, error) {
		conn, err := dbus.Dial("unix:path=" + socket)
		if err != nil {
			return nil, errors.Wrap(err, "unable to connect to systemd socket")
		}
		methods := []dbus.Auth{dbus.AuthExternal(strconv.Itoa(os.Getuid()))}
		err = conn.Auth(methods)
		if err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "unable to authenticate with systemd")
		}
		return conn, nil
	}
	sd, err := systemd.NewConnection(dialer)
	if err != nil {
		return nil, err
	}
	return sd, nil
}
