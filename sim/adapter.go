package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/gatt"
	"github.com/lumie-health/ringlink/logger"
)

var (
	ErrPoweredOff    = errors.New("sim: bluetooth is powered off")
	ErrUnknownDevice = errors.New("sim: unknown device")
)

// DefaultAdvertisingInterval is how often each ring re-advertises.
const DefaultAdvertisingInterval = 20 * time.Millisecond

// Adapter is an in-memory radio that sees a fixed set of rings.
type Adapter struct {
	mu         sync.Mutex
	rings      map[string]*Ring
	order      []*Ring
	interval   time.Duration
	poweredOff bool
	scans      int
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithRings adds rings within radio range.
func WithRings(rings ...*Ring) AdapterOption {
	return func(a *Adapter) {
		for _, r := range rings {
			a.rings[r.ID()] = r
			a.order = append(a.order, r)
		}
	}
}

// WithAdvertisingInterval sets how often each ring is reported while scanning.
func WithAdvertisingInterval(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.interval = d }
}

// WithPoweredOff makes Enable and Scan fail as if the radio were off.
func WithPoweredOff() AdapterOption {
	return func(a *Adapter) { a.poweredOff = true }
}

// NewAdapter creates a simulated radio.
func NewAdapter(opts ...AdapterOption) *Adapter {
	a := &Adapter{
		rings:    make(map[string]*Ring),
		interval: DefaultAdvertisingInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enable fails when the radio is powered off.
func (a *Adapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.poweredOff {
		return ErrPoweredOff
	}
	return nil
}

// SetPowered toggles the simulated radio power.
func (a *Adapter) SetPowered(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poweredOff = !on
}

// Scans returns how many scan sessions were started.
func (a *Adapter) Scans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// Scan reports every ring once per advertising interval until ctx is done.
func (a *Adapter) Scan(ctx context.Context, found func(ble.Advertisement)) error {
	a.mu.Lock()
	if a.poweredOff {
		a.mu.Unlock()
		return ErrPoweredOff
	}
	a.scans++
	rings := append([]*Ring(nil), a.order...)
	interval := a.interval
	a.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, r := range rings {
			if ctx.Err() != nil {
				return nil
			}
			found(r.Advertisement())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Connect opens a connection to the ring with p.ID.
func (a *Adapter) Connect(ctx context.Context, p ble.Peripheral) (ble.Conn, error) {
	a.mu.Lock()
	r, ok := a.rings[p.ID]
	off := a.poweredOff
	a.mu.Unlock()
	if off {
		return nil, ErrPoweredOff
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, p.ID)
	}

	r.mu.Lock()
	delay := r.connectDelay
	r.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if err := r.connect(); err != nil {
		return nil, err
	}
	logger.Debug("sim", "central connected to %s", r.name)
	return &conn{ring: r}, nil
}

type conn struct {
	ring *Ring
}

// DiscoverServices walks the ring's attribute table.
func (c *conn) DiscoverServices(ctx context.Context) ([]ble.Service, error) {
	if !c.ring.Connected() {
		return nil, ErrNotConnected
	}
	infos, err := gatt.DiscoverServices(c.ring.db)
	if err != nil {
		return nil, err
	}
	services := make([]ble.Service, 0, len(infos))
	for _, info := range infos {
		svc := ble.Service{UUID: info.UUID}
		for _, ci := range info.Chars {
			svc.Characteristics = append(svc.Characteristics, &characteristic{ring: c.ring, info: ci})
		}
		services = append(services, svc)
	}
	return services, nil
}

func (c *conn) Disconnect() error {
	c.ring.disconnect()
	logger.Debug("sim", "central disconnected from %s", c.ring.name)
	return nil
}

type characteristic struct {
	ring *Ring
	info gatt.CharInfo
}

func (ch *characteristic) UUID() ble.UUID { return ch.info.UUID }

func (ch *characteristic) Properties() ble.Properties { return ch.info.Properties }

func (ch *characteristic) WriteWithoutResponse(p []byte) error {
	if !ch.info.Properties.CanWrite() {
		return fmt.Errorf("%w: %s is not writable", ErrUnknownChar, ch.info.UUID)
	}
	return ch.ring.write(ch.info, p)
}

func (ch *characteristic) EnableNotifications(fn func([]byte)) error {
	if ch.info.CCCDHandle == 0 {
		return fmt.Errorf("%w: %s has no CCCD", ErrUnknownChar, ch.info.UUID)
	}
	return ch.ring.subscribe(ch.info, fn)
}
