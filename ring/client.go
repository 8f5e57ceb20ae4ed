package ring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/logger"
	"github.com/lumie-health/ringlink/protocol"
)

// Client connects to one ring at a time, runs the pairing handshake and
// serves telemetry reads on the resulting session. A Client runs one
// operation at a time; overlapping calls fail with ErrBusy. Disconnect may
// be called at any time.
type Client struct {
	adapter ble.Adapter
	cfg     Config

	mu      sync.Mutex
	state   State
	busy    bool
	session *session
	abort   context.CancelCauseFunc // cancels an in-progress ConnectAndPair
}

// session holds the handles of one live connection.
type session struct {
	peripheral ble.Peripheral
	conn       ble.Conn
	write      ble.Characteristic
	notify     ble.Characteristic
	correlator *protocol.Correlator
}

// NewClient creates a client over adapter.
func NewClient(adapter ble.Adapter, opts ...Option) *Client {
	return &Client{
		adapter: adapter,
		cfg:     newConfig(opts),
		state:   StateDisconnected,
	}
}

// State returns the current pairing state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	observer := c.cfg.OnStateChange
	c.mu.Unlock()

	if prev == s {
		return
	}
	logger.Debug("ring", "state %s -> %s", prev, s)
	if observer != nil {
		observer(s)
	}
}

func (c *Client) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	return nil
}

func (c *Client) end() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// ConnectAndPair connects to p, locates the vendor service, sends the
// clock and the user profile, and reads identifier, firmware version and
// battery. Telemetry reads are best effort: a failed read leaves its field
// nil. Any other failure leaves the client disconnected.
func (c *Client) ConnectAndPair(ctx context.Context, p ble.Peripheral, profile protocol.UserProfile) (*PairedDeviceInfo, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	opCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	c.abort = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.abort = nil
		c.mu.Unlock()
	}()

	info, err := c.pair(opCtx, p, profile)
	if err != nil {
		// Report the interruption rather than the write it broke.
		if cause := context.Cause(opCtx); cause != nil && !errors.Is(err, cause) {
			err = c.aborted(p, cause)
		}
		logger.Error("ring", "pairing %s failed: %v", p.ID, err)
		c.teardown()
		return nil, err
	}

	logger.Info("ring", "paired with %s (%s)", p.Name, p.ID)
	logger.DebugJSON("ring", "paired device", info.Proto())
	return info, nil
}

func (c *Client) pair(ctx context.Context, p ble.Peripheral, profile protocol.UserProfile) (*PairedDeviceInfo, error) {
	c.setState(StateConnecting)
	logger.Info("ring", "connecting to %s (%s)", p.Name, p.ID)

	connCtx, cancelConnect := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, err := c.adapter.Connect(connCtx, p)
	timedOut := errors.Is(connCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancelConnect()
	if err != nil {
		if ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		return nil, &ConnectionError{DeviceID: p.ID, Stage: "connect", Timeout: timedOut, Err: err}
	}
	if ctx.Err() != nil {
		conn.Disconnect()
		return nil, c.aborted(p, context.Cause(ctx))
	}

	sess := &session{
		peripheral: p,
		conn:       conn,
		correlator: protocol.NewCorrelator(c.cfg.ResponseTimeout),
	}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	c.setState(StateDiscoveringServices)
	if err := c.discover(ctx, sess); err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, c.aborted(p, context.Cause(ctx))
	}

	c.setState(StateHandshaking)
	if err := c.handshake(sess, profile); err != nil {
		return nil, err
	}

	info := &PairedDeviceInfo{
		DeviceID:        p.ID,
		DisplayName:     p.Name,
		ConnectionState: Connected,
	}

	if id, err := c.readIdentifier(ctx, sess); err != nil {
		c.absorb(err)
	} else {
		info.Identifier = &id
	}
	if fw, err := c.readFirmwareVersion(ctx, sess); err != nil {
		c.absorb(err)
	} else {
		info.FirmwareVersion = &fw
	}
	if pct, err := c.readBattery(ctx, sess); err != nil {
		c.absorb(err)
	} else {
		info.BatteryPercent = &pct
	}

	if ctx.Err() != nil {
		return nil, c.aborted(p, context.Cause(ctx))
	}

	c.mu.Lock()
	current := c.session == sess
	if current {
		c.state = StatePaired
	}
	c.mu.Unlock()
	if !current {
		return nil, c.aborted(p, ErrDisconnected)
	}
	logger.Debug("ring", "state %s -> %s", StateHandshaking, StatePaired)
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(StatePaired)
	}

	info.PairedAt = c.cfg.Clock()
	return info, nil
}

// aborted reports a pairing interrupted by Disconnect or the caller's ctx.
func (c *Client) aborted(p ble.Peripheral, cause error) error {
	return &ConnectionError{DeviceID: p.ID, Stage: "handshake", Err: cause}
}

// absorb logs a best-effort read failure.
func (c *Client) absorb(err error) {
	logger.Warn("ring", "%v", err)
}

func (c *Client) discover(ctx context.Context, sess *session) error {
	id := sess.peripheral.ID
	services, err := sess.conn.DiscoverServices(ctx)
	if err != nil {
		return &ConnectionError{DeviceID: id, Stage: "discover", Err: err}
	}

	var vendor *ble.Service
	for i := range services {
		logger.Trace("ring", "service %s (%d characteristics)", services[i].UUID, len(services[i].Characteristics))
		if services[i].UUID.MatchesFragment(c.cfg.ServiceFragment) {
			vendor = &services[i]
			break
		}
	}
	if vendor == nil {
		return &ProtocolMismatchError{DeviceID: id, Missing: "service " + c.cfg.ServiceFragment}
	}

	write, ok := vendor.FindCharacteristic(c.cfg.WriteFragment)
	if !ok {
		return &ProtocolMismatchError{DeviceID: id, Missing: "write characteristic " + c.cfg.WriteFragment}
	}
	if props := write.Properties(); props != 0 && !props.CanWrite() {
		return &ProtocolMismatchError{DeviceID: id, Missing: fmt.Sprintf("write property on %s (has %s)", write.UUID(), props)}
	}
	notify, ok := vendor.FindCharacteristic(c.cfg.NotifyFragment)
	if !ok {
		return &ProtocolMismatchError{DeviceID: id, Missing: "notify characteristic " + c.cfg.NotifyFragment}
	}
	if props := notify.Properties(); props != 0 && !props.CanNotify() {
		return &ProtocolMismatchError{DeviceID: id, Missing: fmt.Sprintf("notify property on %s (has %s)", notify.UUID(), props)}
	}

	corr := sess.correlator
	err = notify.EnableNotifications(func(value []byte) {
		logger.Trace("ring", "notify %s", logger.Hex(value))
		corr.OnNotification(value)
	})
	if err != nil {
		return &ConnectionError{DeviceID: id, Stage: "subscribe", Err: err}
	}

	c.mu.Lock()
	sess.write = write
	sess.notify = notify
	c.mu.Unlock()
	return nil
}

func (c *Client) handshake(sess *session, profile protocol.UserProfile) error {
	now := c.cfg.Clock()
	if err := c.send(sess, protocol.BuildSetTime(now)); err != nil {
		return &ConnectionError{DeviceID: sess.peripheral.ID, Stage: "handshake", Err: err}
	}
	if err := c.send(sess, protocol.BuildSetUserInfo(profile)); err != nil {
		return &ConnectionError{DeviceID: sess.peripheral.ID, Stage: "handshake", Err: err}
	}
	return nil
}

// send writes a command without waiting for a reply.
func (c *Client) send(sess *session, f protocol.Frame) error {
	if op, _, pending := sess.correlator.PendingInfo(); pending {
		return &protocol.RequestPendingError{Pending: op, Requested: f.Opcode()}
	}
	logger.Debug("ring", "write %s", f)
	return sess.write.WriteWithoutResponse(f.Bytes())
}

// request writes f and waits for its notification. The waiter is
// registered before the write.
func (c *Client) request(ctx context.Context, sess *session, f protocol.Frame) ([]byte, error) {
	respC, err := sess.correlator.Expect(f.Opcode(), 0)
	if err != nil {
		return nil, err
	}

	logger.Debug("ring", "request %s", f)
	if err := sess.write.WriteWithoutResponse(f.Bytes()); err != nil {
		sess.correlator.Cancel(err)
		return nil, err
	}

	select {
	case resp := <-respC:
		if resp.Err != nil {
			return nil, resp.Err
		}
		logger.Trace("ring", "response %s", logger.Hex(resp.Data))
		return resp.Data, nil
	case <-ctx.Done():
		sess.correlator.Cancel(ctx.Err())
		return nil, ctx.Err()
	}
}

// Disconnect unsubscribes, closes the link and fails any pending read. It
// is idempotent and interrupts an in-progress ConnectAndPair.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	abort := c.abort
	c.mu.Unlock()
	if abort != nil {
		abort(ErrDisconnected)
	}
	return c.teardown()
}

func (c *Client) teardown() error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	var notify ble.Characteristic
	if sess != nil {
		notify = sess.notify
	}
	c.mu.Unlock()

	c.setState(StateDisconnected)
	if sess == nil {
		return nil
	}

	sess.correlator.Cancel(ErrDisconnected)
	if notify != nil {
		if err := notify.EnableNotifications(nil); err != nil {
			logger.Debug("ring", "unsubscribe %s: %v", sess.peripheral.ID, err)
		}
	}
	if err := sess.conn.Disconnect(); err != nil {
		logger.Warn("ring", "disconnect %s: %v", sess.peripheral.ID, err)
		return err
	}
	logger.Info("ring", "disconnected from %s", sess.peripheral.ID)
	return nil
}
