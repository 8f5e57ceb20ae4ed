package ring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/protocol"
	"github.com/lumie-health/ringlink/sim"
)

var testProfile = protocol.UserProfile{Sex: protocol.SexFemale, Age: 15, HeightCm: 165, WeightKg: 52}

var fixedNow = time.Date(2024, time.March, 9, 14, 5, 30, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// newTestClient wires a client to a simulated radio holding r.
func newTestClient(r *sim.Ring, opts ...Option) (*Client, ble.Peripheral) {
	adapter := sim.NewAdapter(sim.WithRings(r))
	opts = append([]Option{WithClock(fixedClock), WithResponseTimeout(100 * time.Millisecond)}, opts...)
	return NewClient(adapter, opts...), r.Advertisement().Peripheral
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", c.State(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestConnectAndPair(t *testing.T) {
	r := sim.NewRing("JCRing-01",
		sim.WithIdentifier([6]byte{0xC4, 0x7C, 0x8D, 0x6A, 0x01, 0x2F}),
		sim.WithFirmware(1, 2, 10, 5),
		sim.WithBattery(87),
	)

	var mu sync.Mutex
	var states []State
	c, p := newTestClient(r, WithStateObserver(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	info, err := c.ConnectAndPair(context.Background(), p, testProfile)
	if err != nil {
		t.Fatalf("ConnectAndPair: %v", err)
	}

	if info.DeviceID != r.ID() || info.DisplayName != "JCRing-01" {
		t.Errorf("device = %q %q", info.DeviceID, info.DisplayName)
	}
	if info.ConnectionState != Connected {
		t.Errorf("ConnectionState = %q", info.ConnectionState)
	}
	if !info.PairedAt.Equal(fixedNow) {
		t.Errorf("PairedAt = %v", info.PairedAt)
	}
	if info.Identifier == nil || *info.Identifier != "C4:7C:8D:6A:01:2F" {
		t.Errorf("Identifier = %v", info.Identifier)
	}
	if info.FirmwareVersion == nil || *info.FirmwareVersion != "1.2.10.5" {
		t.Errorf("FirmwareVersion = %v", info.FirmwareVersion)
	}
	if info.BatteryPercent == nil || *info.BatteryPercent != 87 {
		t.Errorf("BatteryPercent = %v", info.BatteryPercent)
	}
	if c.State() != StatePaired {
		t.Errorf("State = %v, want paired", c.State())
	}
	if !r.Subscribed() {
		t.Error("notifications not enabled on the ring")
	}

	wantOps := []byte{protocol.OpSetTime, protocol.OpSetUserInfo, protocol.OpGetIdentifier, protocol.OpGetFirmwareVersion, protocol.OpGetBattery}
	if got := r.Opcodes(); string(got) != string(wantOps) {
		t.Errorf("command order = % X, want % X", got, wantOps)
	}

	frames := r.Frames()
	wantTime := protocol.BuildSetTime(fixedNow)
	if frames[0] != wantTime {
		t.Errorf("set-time frame = %s, want %s", frames[0], wantTime)
	}
	wantUser := []byte{0x02, 0x00, 15, 165, 52, 68, '0', '0', '0', '0', '0', '0'}
	if got := frames[1].Bytes()[:len(wantUser)]; string(got) != string(wantUser) {
		t.Errorf("user-info frame = % X, want prefix % X", frames[1].Bytes(), wantUser)
	}

	mu.Lock()
	defer mu.Unlock()
	wantStates := []State{StateConnecting, StateDiscoveringServices, StateHandshaking, StatePaired}
	if len(states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", states, wantStates)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], wantStates[i])
		}
	}
}

func TestConnectAndPair_TelemetryBestEffort(t *testing.T) {
	tests := []struct {
		name         string
		opts         []sim.RingOption
		wantID       bool
		wantFirmware bool
		wantBattery  *int
	}{
		{
			name:         "silent battery",
			opts:         []sim.RingOption{sim.WithSilentOpcode(protocol.OpGetBattery)},
			wantID:       true,
			wantFirmware: true,
		},
		{
			name:        "firmware error variant",
			opts:        []sim.RingOption{sim.WithErrorOpcode(protocol.OpGetFirmwareVersion), sim.WithBattery(40)},
			wantID:      true,
			wantBattery: intPtr(40),
		},
		{
			name:         "identifier silent, battery over range",
			opts:         []sim.RingOption{sim.WithSilentOpcode(protocol.OpGetIdentifier), sim.WithBattery(200)},
			wantFirmware: true,
			wantBattery:  intPtr(100),
		},
		{
			name: "all reads fail",
			opts: []sim.RingOption{
				sim.WithSilentOpcode(protocol.OpGetIdentifier),
				sim.WithErrorOpcode(protocol.OpGetFirmwareVersion),
				sim.WithSilentOpcode(protocol.OpGetBattery),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sim.NewRing("JCRing-01", tt.opts...)
			c, p := newTestClient(r, WithResponseTimeout(40*time.Millisecond))

			info, err := c.ConnectAndPair(context.Background(), p, testProfile)
			if err != nil {
				t.Fatalf("ConnectAndPair: %v", err)
			}
			if c.State() != StatePaired {
				t.Errorf("State = %v, want paired", c.State())
			}
			if (info.Identifier != nil) != tt.wantID {
				t.Errorf("Identifier = %v, want set=%v", info.Identifier, tt.wantID)
			}
			if (info.FirmwareVersion != nil) != tt.wantFirmware {
				t.Errorf("FirmwareVersion = %v, want set=%v", info.FirmwareVersion, tt.wantFirmware)
			}
			switch {
			case tt.wantBattery == nil && info.BatteryPercent != nil:
				t.Errorf("BatteryPercent = %d, want nil", *info.BatteryPercent)
			case tt.wantBattery != nil && (info.BatteryPercent == nil || *info.BatteryPercent != *tt.wantBattery):
				t.Errorf("BatteryPercent = %v, want %d", info.BatteryPercent, *tt.wantBattery)
			}
		})
	}
}

func TestConnectAndPair_ProtocolMismatch(t *testing.T) {
	tests := []struct {
		name string
		opt  sim.RingOption
	}{
		{"no notify characteristic", sim.WithoutNotifyCharacteristic()},
		{"no write characteristic", sim.WithoutWriteCharacteristic()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sim.NewRing("JCRing-01", tt.opt)
			c, p := newTestClient(r)

			info, err := c.ConnectAndPair(context.Background(), p, testProfile)
			var mismatch *ProtocolMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("err = %v, want *ProtocolMismatchError", err)
			}
			if info != nil {
				t.Error("info returned on failure")
			}
			if r.Connected() {
				t.Error("connection left open after mismatch")
			}
			if len(r.Frames()) != 0 {
				t.Errorf("commands written to a mismatched device: % X", r.Opcodes())
			}
			if c.State() != StateDisconnected {
				t.Errorf("State = %v, want disconnected", c.State())
			}
			if FailureReason(err) != ReasonWrongDevice {
				t.Errorf("FailureReason = %q", FailureReason(err))
			}
		})
	}
}

func TestConnectAndPair_ServiceMissing(t *testing.T) {
	r := sim.NewRing("JCRing-01")
	c, p := newTestClient(r, WithUUIDFragments("6e400001", "6e400002", "6e400003"))

	_, err := c.ConnectAndPair(context.Background(), p, testProfile)
	var mismatch *ProtocolMismatchError
	if !errors.As(err, &mismatch) || mismatch.Missing != "service 6e400001" {
		t.Fatalf("err = %v", err)
	}
}

func TestConnectAndPair_ConnectFailure(t *testing.T) {
	refused := errors.New("connection refused")
	r := sim.NewRing("JCRing-01", sim.WithConnectError(refused))
	c, p := newTestClient(r)

	_, err := c.ConnectAndPair(context.Background(), p, testProfile)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
	if connErr.Timeout || connErr.Stage != "connect" || !errors.Is(err, refused) {
		t.Errorf("ConnectionError = %+v", connErr)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State = %v", c.State())
	}
	if FailureReason(err) != ReasonUnreachable {
		t.Errorf("FailureReason = %q", FailureReason(err))
	}
}

func TestConnectAndPair_ConnectTimeout(t *testing.T) {
	r := sim.NewRing("JCRing-01", sim.WithConnectDelay(time.Second))
	c, p := newTestClient(r, WithConnectTimeout(30*time.Millisecond))

	start := time.Now()
	_, err := c.ConnectAndPair(context.Background(), p, testProfile)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || !connErr.Timeout {
		t.Fatalf("err = %v, want timed out *ConnectionError", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("connect bound not enforced, took %v", elapsed)
	}
	if r.Connected() {
		t.Error("ring connected after timeout")
	}
}

func TestConnectAndPair_InvalidProfile(t *testing.T) {
	r := sim.NewRing("JCRing-01")
	c, p := newTestClient(r)

	bad := testProfile
	bad.HeightCm = 300
	_, err := c.ConnectAndPair(context.Background(), p, bad)
	var profileErr *protocol.ProfileError
	if !errors.As(err, &profileErr) || profileErr.Field != "height_cm" {
		t.Fatalf("err = %v, want height ProfileError", err)
	}
	if r.Connects() != 0 {
		t.Error("connected despite invalid profile")
	}
}

func TestConnectAndPair_AlreadyConnected(t *testing.T) {
	r := sim.NewRing("JCRing-01")
	c, p := newTestClient(r)
	if _, err := c.ConnectAndPair(context.Background(), p, testProfile); err != nil {
		t.Fatalf("ConnectAndPair: %v", err)
	}
	if _, err := c.ConnectAndPair(context.Background(), p, testProfile); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second pair err = %v, want ErrAlreadyConnected", err)
	}
	if c.State() != StatePaired {
		t.Errorf("rejected pair changed state to %v", c.State())
	}
}

func TestClient_Busy(t *testing.T) {
	r := sim.NewRing("JCRing-01", sim.WithResponseDelay(60*time.Millisecond))
	c, p := newTestClient(r, WithResponseTimeout(time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := c.ConnectAndPair(context.Background(), p, testProfile)
		done <- err
	}()
	waitForState(t, c, StateHandshaking)

	if _, err := c.ConnectAndPair(context.Background(), p, testProfile); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent ConnectAndPair err = %v, want ErrBusy", err)
	}
	if _, err := c.ReadBattery(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent ReadBattery err = %v, want ErrBusy", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("ConnectAndPair: %v", err)
	}
}

func TestClient_DisconnectDuringHandshake(t *testing.T) {
	r := sim.NewRing("JCRing-01", sim.WithSilentOpcode(protocol.OpGetIdentifier))
	c, p := newTestClient(r, WithResponseTimeout(5*time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := c.ConnectAndPair(context.Background(), p, testProfile)
		done <- err
	}()
	waitForState(t, c, StateHandshaking)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("err = %v, want ErrDisconnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pairing not interrupted by Disconnect")
	}
	if c.State() != StateDisconnected {
		t.Errorf("State = %v", c.State())
	}
	if r.Connected() {
		t.Error("ring still connected")
	}
}

func TestClient_Disconnect(t *testing.T) {
	r := sim.NewRing("JCRing-01")
	c, p := newTestClient(r)

	// Idempotent before any connection.
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect when idle: %v", err)
	}

	if _, err := c.ConnectAndPair(context.Background(), p, testProfile); err != nil {
		t.Fatalf("ConnectAndPair: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	if c.State() != StateDisconnected {
		t.Errorf("State = %v", c.State())
	}
	if r.Connected() || r.Subscribed() {
		t.Error("ring still connected or subscribed")
	}
	if _, err := c.ReadBattery(context.Background()); !errors.Is(err, ErrNotPaired) {
		t.Errorf("ReadBattery after disconnect err = %v, want ErrNotPaired", err)
	}

	// A fresh pairing works on the same client.
	if _, err := c.ConnectAndPair(context.Background(), p, testProfile); err != nil {
		t.Fatalf("re-pair: %v", err)
	}
	if r.Connects() != 2 {
		t.Errorf("connects = %d, want 2", r.Connects())
	}
}

func TestClient_ReadsAfterPairing(t *testing.T) {
	r := sim.NewRing("JCRing-01", sim.WithBattery(90), sim.WithFirmware(2, 0, 1, 0))
	c, p := newTestClient(r)

	if _, err := c.ReadBattery(context.Background()); !errors.Is(err, ErrNotPaired) {
		t.Errorf("ReadBattery before pairing err = %v", err)
	}
	if _, err := c.ConnectAndPair(context.Background(), p, testProfile); err != nil {
		t.Fatalf("ConnectAndPair: %v", err)
	}

	r.SetBattery(42)
	pct, err := c.ReadBattery(context.Background())
	if err != nil || pct != 42 {
		t.Errorf("ReadBattery = %d, %v; want 42", pct, err)
	}
	fw, err := c.ReadFirmwareVersion(context.Background())
	if err != nil || fw != "2.0.1.0" {
		t.Errorf("ReadFirmwareVersion = %q, %v", fw, err)
	}
	id, err := c.ReadIdentifier(context.Background())
	if err != nil || id != "C4:7C:8D:6A:01:2F" {
		t.Errorf("ReadIdentifier = %q, %v", id, err)
	}
}

func TestClient_ReadTelemetryUnavailable(t *testing.T) {
	r := sim.NewRing("JCRing-01", sim.WithErrorOpcode(protocol.OpGetBattery))
	c, p := newTestClient(r)
	if _, err := c.ConnectAndPair(context.Background(), p, testProfile); err != nil {
		t.Fatalf("ConnectAndPair: %v", err)
	}

	_, err := c.ReadBattery(context.Background())
	var telErr *TelemetryUnavailableError
	if !errors.As(err, &telErr) {
		t.Fatalf("err = %v, want *TelemetryUnavailableError", err)
	}
	if telErr.Opcode != protocol.OpGetBattery || !errors.Is(err, protocol.ErrDeviceError) {
		t.Errorf("TelemetryUnavailableError = %+v", telErr)
	}
}

func TestClient_ReadCancelled(t *testing.T) {
	r := sim.NewRing("JCRing-01")
	c, p := newTestClient(r, WithResponseTimeout(5*time.Second))
	if _, err := c.ConnectAndPair(context.Background(), p, testProfile); err != nil {
		t.Fatalf("ConnectAndPair: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ReadBattery(ctx); !errors.Is(err, context.Canceled) {
		// The ring may answer before the cancellation is observed.
		if err != nil {
			t.Errorf("ReadBattery err = %v", err)
		}
	}
	if _, err := c.ReadBattery(context.Background()); err != nil {
		t.Errorf("ReadBattery after cancelled read: %v", err)
	}
}

func intPtr(v int) *int { return &v }
