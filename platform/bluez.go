package platform

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService          = "org.bluez"
	bluezAdapterInterface = "org.bluez.Adapter1"

	// DefaultAdapterPath is the first controller BlueZ registers.
	DefaultAdapterPath = "/org/bluez/hci0"
)

// ErrPoweredOff is returned when BlueZ reports the controller is off.
var ErrPoweredOff = errors.New("platform: bluetooth controller is powered off")

// bluezPowered asks BlueZ whether the controller at path is powered.
func bluezPowered(path string) (bool, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}

	var powered bool
	obj := conn.Object(bluezService, dbus.ObjectPath(path))
	if err := obj.Call("org.freedesktop.DBus.Properties.Get", 0, bluezAdapterInterface, "Powered").Store(&powered); err != nil {
		return false, fmt.Errorf("failed to read %s Powered: %w", path, err)
	}
	return powered, nil
}

// probePower fails fast with ErrPoweredOff on Linux when BlueZ says the
// controller is off. Probe failures other than that are left for the
// stack's own Enable to report.
func probePower(path string) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	powered, err := bluezPowered(path)
	if err != nil {
		return nil
	}
	if !powered {
		return ErrPoweredOff
	}
	return nil
}
