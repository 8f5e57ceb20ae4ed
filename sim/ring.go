// Package sim emulates ring firmware and a BLE radio in memory. Tests and
// ringctl -simulate run the real client against it.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumie-health/ringlink/advertising"
	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/gatt"
	"github.com/lumie-health/ringlink/logger"
	"github.com/lumie-health/ringlink/protocol"
)

// Vendor GATT layout served by the emulated ring.
var (
	ServiceUUID = ble.UUID16(0xFFF0)
	WriteUUID   = ble.UUID16(0xFFF6)
	NotifyUUID  = ble.UUID16(0xFFF7)
)

var (
	ErrNotConnected = errors.New("sim: not connected")
	ErrUnknownChar  = errors.New("sim: unknown characteristic")
)

// Ring is an emulated ring. It answers identifier, firmware and battery
// requests on its notify characteristic and records every command frame.
type Ring struct {
	mu sync.Mutex

	id         string
	name       string
	rssi       int
	identifier [6]byte
	firmware   [4]byte // BCD
	battery    byte

	silent   map[byte]bool
	errorOps map[byte]bool
	noNotify bool
	noWrite  bool

	connectErr    error
	connectDelay  time.Duration
	responseDelay time.Duration

	db       *gatt.AttributeDatabase
	services []*gatt.ServiceInfo
	cccd     *gatt.CCCDManager
	advData  []byte

	connected bool
	onNotify  func([]byte)
	frames    []protocol.Frame
	connects  int
}

// RingOption configures a Ring.
type RingOption func(*Ring)

// WithID sets the device identifier. The default is a random UUID, the
// form CoreBluetooth reports.
func WithID(id string) RingOption {
	return func(r *Ring) { r.id = id }
}

func WithRSSI(rssi int) RingOption {
	return func(r *Ring) { r.rssi = rssi }
}

// WithIdentifier sets the 6-byte hardware identifier.
func WithIdentifier(id [6]byte) RingOption {
	return func(r *Ring) { r.identifier = id }
}

// WithFirmware sets the version reported by 0x27. Each part must be 0-99.
func WithFirmware(major, minor, patch, build int) RingOption {
	return func(r *Ring) {
		r.firmware = [4]byte{toBCD(major), toBCD(minor), toBCD(patch), toBCD(build)}
	}
}

// WithBattery sets the raw battery byte; values above 100 are sent as is.
func WithBattery(raw byte) RingOption {
	return func(r *Ring) { r.battery = raw }
}

// WithSilentOpcode makes the ring ignore requests for op.
func WithSilentOpcode(op byte) RingOption {
	return func(r *Ring) { r.silent[op] = true }
}

// WithErrorOpcode makes the ring answer op with its error variant.
func WithErrorOpcode(op byte) RingOption {
	return func(r *Ring) { r.errorOps[op] = true }
}

// WithoutNotifyCharacteristic removes fff7 from the vendor service.
func WithoutNotifyCharacteristic() RingOption {
	return func(r *Ring) { r.noNotify = true }
}

// WithoutWriteCharacteristic removes fff6 from the vendor service.
func WithoutWriteCharacteristic() RingOption {
	return func(r *Ring) { r.noWrite = true }
}

// WithConnectError makes every connect attempt fail with err.
func WithConnectError(err error) RingOption {
	return func(r *Ring) { r.connectErr = err }
}

// WithConnectDelay delays connection establishment.
func WithConnectDelay(d time.Duration) RingOption {
	return func(r *Ring) { r.connectDelay = d }
}

// WithResponseDelay delays every notification.
func WithResponseDelay(d time.Duration) RingOption {
	return func(r *Ring) { r.responseDelay = d }
}

// NewRing creates an emulated ring advertising name.
func NewRing(name string, opts ...RingOption) *Ring {
	r := &Ring{
		id:         uuid.NewString(),
		name:       name,
		rssi:       -60,
		identifier: [6]byte{0xC4, 0x7C, 0x8D, 0x6A, 0x01, 0x2F},
		firmware:   [4]byte{0x01, 0x02, 0x10, 0x05},
		battery:    87,
		silent:     make(map[byte]bool),
		errorOps:   make(map[byte]bool),
		cccd:       gatt.NewCCCDManager(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.db, r.services = gatt.BuildAttributeDatabase(r.serviceDefinitions())
	r.advData = r.buildAdvertisement()
	return r
}

func (r *Ring) serviceDefinitions() []gatt.Service {
	var chars []gatt.Characteristic
	if !r.noWrite {
		chars = append(chars, gatt.Characteristic{
			UUID:       WriteUUID,
			Properties: ble.PropWrite | ble.PropWriteWithoutResponse,
		})
	}
	if !r.noNotify {
		chars = append(chars, gatt.Characteristic{
			UUID:       NotifyUUID,
			Properties: ble.PropNotify,
		})
	}
	return []gatt.Service{
		gatt.NewGenericAccessService(r.name),
		{UUID: ServiceUUID, Primary: true, Characteristics: chars},
	}
}

func (r *Ring) buildAdvertisement() []byte {
	short, _ := ServiceUUID.Short()
	data, err := advertising.EncodeADStructures([]advertising.ADStructure{
		advertising.NewFlagsAD(advertising.FlagLEGeneralDiscoverableMode | advertising.FlagBREDRNotSupported),
		advertising.NewCompleteLocalNameAD(r.name),
		advertising.NewComplete16BitServiceUUIDsAD([]uint16{short}),
	})
	if err != nil {
		// Long names don't fit; advertise the flags and name only.
		data, _ = advertising.EncodeADStructures([]advertising.ADStructure{
			advertising.NewCompleteLocalNameAD(truncate(r.name, advertising.MaxAdvertisingDataLen-2)),
		})
	}
	return data
}

// ID returns the device identifier.
func (r *Ring) ID() string { return r.id }

// Name returns the advertised name.
func (r *Ring) Name() string { return r.name }

// Advertisement decodes the ring's advertising payload as a scanner would
// receive it.
func (r *Ring) Advertisement() ble.Advertisement {
	adv := ble.Advertisement{Peripheral: ble.Peripheral{ID: r.id, RSSI: r.rssi}}
	report, err := advertising.Parse(r.advData)
	if err != nil {
		logger.Warn("sim", "bad advertisement for %s: %v", r.id, err)
		return adv
	}
	adv.Name = report.LocalName
	adv.ServiceUUIDs = report.ServiceUUIDs
	return adv
}

// SetBattery changes the battery byte reported from now on.
func (r *Ring) SetBattery(raw byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.battery = raw
}

// Connected reports whether a central holds a connection.
func (r *Ring) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Connects returns the number of successful connections.
func (r *Ring) Connects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

// Subscribed reports whether notifications are enabled on fff7.
func (r *Ring) Subscribed() bool {
	ci, ok := r.notifyChar()
	if !ok {
		return false
	}
	return r.cccd.IsNotifyEnabled(ci.ValueHandle)
}

// Frames returns the command frames received, in order.
func (r *Ring) Frames() []protocol.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Opcodes returns the opcode of every received frame, in order.
func (r *Ring) Opcodes() []byte {
	frames := r.Frames()
	ops := make([]byte, len(frames))
	for i, f := range frames {
		ops[i] = f.Opcode()
	}
	return ops
}

func (r *Ring) vendorService() *gatt.ServiceInfo {
	for _, s := range r.services {
		if s.UUID == ServiceUUID {
			return s
		}
	}
	return nil
}

func (r *Ring) notifyChar() (gatt.CharInfo, bool) {
	svc := r.vendorService()
	if svc == nil {
		return gatt.CharInfo{}, false
	}
	ci, err := svc.FindChar(NotifyUUID)
	return ci, err == nil
}

func (r *Ring) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return r.connectErr
	}
	r.connected = true
	r.connects++
	return nil
}

func (r *Ring) disconnect() {
	r.mu.Lock()
	r.connected = false
	r.onNotify = nil
	r.mu.Unlock()
	r.cccd.Clear()
}

// subscribe handles a CCCD write from the central.
func (r *Ring) subscribe(ci gatt.CharInfo, fn func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return ErrNotConnected
	}
	value := gatt.EncodeCCCDValue(fn != nil, false)
	if err := r.cccd.SetSubscription(ci.ValueHandle, value); err != nil {
		return err
	}
	if err := r.db.SetAttributeValue(ci.CCCDHandle, value); err != nil {
		return err
	}
	r.onNotify = fn
	return nil
}

// write handles a write to the command characteristic.
func (r *Ring) write(ci gatt.CharInfo, data []byte) error {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return ErrNotConnected
	}
	if err := r.db.SetAttributeValue(ci.ValueHandle, data); err != nil {
		r.mu.Unlock()
		return err
	}

	var reply []byte
	if _, err := protocol.VerifyChecksum(data); err != nil {
		logger.Debug("sim", "%s rejected frame %s: %v", r.name, logger.Hex(data), err)
		if len(data) > 0 {
			f := protocol.Encode(data[0]|protocol.ErrorFlag, nil)
			reply = f.Bytes()
		}
	} else {
		var f protocol.Frame
		copy(f[:], data)
		r.frames = append(r.frames, f)
		reply = r.respond(f.Opcode())
	}
	r.mu.Unlock()

	if reply != nil {
		r.notify(reply)
	}
	return nil
}

// respond builds the answer to op. Called with r.mu held.
func (r *Ring) respond(op byte) []byte {
	if !protocol.ExpectsResponse(op) || r.silent[op] {
		return nil
	}
	if r.errorOps[op] {
		f := protocol.Encode(op|protocol.ErrorFlag, nil)
		return f.Bytes()
	}

	var payload []byte
	switch op {
	case protocol.OpGetIdentifier:
		payload = r.identifier[:]
	case protocol.OpGetFirmwareVersion:
		payload = r.firmware[:]
	case protocol.OpGetBattery:
		payload = []byte{r.battery}
	default:
		return nil
	}
	f := protocol.Encode(op, payload)
	return f.Bytes()
}

func (r *Ring) notify(value []byte) {
	ci, ok := r.notifyChar()
	if !ok || !r.cccd.IsNotifyEnabled(ci.ValueHandle) {
		return
	}

	r.mu.Lock()
	delay := r.responseDelay
	r.mu.Unlock()

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		r.mu.Lock()
		fn := r.onNotify
		connected := r.connected
		r.mu.Unlock()
		if fn == nil || !connected {
			return
		}
		if err := r.db.SetAttributeValue(ci.ValueHandle, value); err != nil {
			logger.Warn("sim", "notify value: %v", err)
		}
		fn(value)
	}()
}

func toBCD(v int) byte {
	if v < 0 || v > 99 {
		panic(fmt.Sprintf("sim: %d does not fit one BCD byte", v))
	}
	return byte(v/10)<<4 | byte(v%10)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
