// Package platform binds the ble capability interface to a real radio
// through tinygo.org/x/bluetooth (BlueZ on Linux, CoreBluetooth on macOS,
// WinRT on Windows).
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/logger"
)

// ErrUnknownDevice is returned by Connect for a peripheral this adapter
// has not seen in a scan.
var ErrUnknownDevice = errors.New("platform: device not seen in a scan")

var _ ble.Adapter = (*Adapter)(nil)

// Adapter is a ble.Adapter over a tinygo bluetooth adapter.
type Adapter struct {
	adapter     *bluetooth.Adapter
	adapterPath string

	mu        sync.Mutex
	enabled   bool
	addresses map[string]bluetooth.Address
}

// NewAdapter wraps the system's default adapter.
func NewAdapter() *Adapter {
	return &Adapter{
		adapter:     bluetooth.DefaultAdapter,
		adapterPath: DefaultAdapterPath,
		addresses:   make(map[string]bluetooth.Address),
	}
}

// Enable checks the controller is powered and enables the stack.
func (a *Adapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := probePower(a.adapterPath); err != nil {
		return err
	}
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE stack: %w", err)
	}
	a.enabled = true
	return nil
}

// Scan reports advertisements until ctx is done.
func (a *Adapter) Scan(ctx context.Context, found func(ble.Advertisement)) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		// StopScan fails if the scan has not started yet; retry until it ends.
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			if err := a.adapter.StopScan(); err != nil {
				logger.Trace("platform", "stop scan: %v", err)
			}
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		id := result.Address.String()
		a.mu.Lock()
		a.addresses[id] = result.Address
		a.mu.Unlock()

		found(ble.Advertisement{
			Peripheral: ble.Peripheral{
				ID:   id,
				Name: result.LocalName(),
				RSSI: int(result.RSSI),
			},
		})
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Connect connects to a previously scanned peripheral. The platform call
// cannot be interrupted, so a connection that completes after ctx is done
// is closed again.
func (a *Adapter) Connect(ctx context.Context, p ble.Peripheral) (ble.Conn, error) {
	a.mu.Lock()
	addr, ok := a.addresses[p.ID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, p.ID)
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	resultC := make(chan result, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		resultC <- result{device, err}
	}()

	select {
	case r := <-resultC:
		if r.err != nil {
			return nil, r.err
		}
		logger.Debug("platform", "connected to %s", p.ID)
		return &conn{device: r.device, id: p.ID}, nil
	case <-ctx.Done():
		go func() {
			if r := <-resultC; r.err == nil {
				logger.Debug("platform", "closing late connection to %s", p.ID)
				r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type conn struct {
	device bluetooth.Device
	id     string
}

func (c *conn) DiscoverServices(ctx context.Context) ([]ble.Service, error) {
	services, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	out := make([]ble.Service, 0, len(services))
	for _, svc := range services {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		svcUUID, err := ble.ParseUUID(svc.UUID().String())
		if err != nil {
			logger.Debug("platform", "skipping service %s: %v", svc.UUID(), err)
			continue
		}
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics of %s: %w", svcUUID, err)
		}

		s := ble.Service{UUID: svcUUID}
		for _, ch := range chars {
			u, err := ble.ParseUUID(ch.UUID().String())
			if err != nil {
				continue
			}
			s.Characteristics = append(s.Characteristics, &characteristic{char: ch, uuid: u})
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *conn) Disconnect() error {
	return c.device.Disconnect()
}

type characteristic struct {
	char bluetooth.DeviceCharacteristic
	uuid ble.UUID
}

func (ch *characteristic) UUID() ble.UUID { return ch.uuid }

// Properties is not exposed by every tinygo backend.
func (ch *characteristic) Properties() ble.Properties { return 0 }

func (ch *characteristic) WriteWithoutResponse(p []byte) error {
	_, err := ch.char.WriteWithoutResponse(p)
	return err
}

func (ch *characteristic) EnableNotifications(fn func([]byte)) error {
	return ch.char.EnableNotifications(fn)
}
