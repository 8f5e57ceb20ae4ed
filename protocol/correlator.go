package protocol

import (
	"sync"
	"time"

	"github.com/lumie-health/ringlink/logger"
)

// DefaultResponseTimeout bounds how long a request waits for its notification.
const DefaultResponseTimeout = 5 * time.Second

// Correlator matches ring notifications with the single outstanding request.
// The ring answers strictly in order and carries no request id, so only one
// request may be pending at a time; a second registration is rejected.
type Correlator struct {
	mu              sync.Mutex
	pending         *PendingRequest
	defaultTimeout  time.Duration
	timeoutCallback func(opcode byte)
}

// PendingRequest is the single registered waiter.
type PendingRequest struct {
	ExpectedOpcode byte
	Deadline       time.Time
	SentAt         time.Time
	responseC      chan Response
	timer          *time.Timer
}

// Response is delivered exactly once per registered request.
type Response struct {
	Opcode    byte   // First byte of the notification
	Data      []byte // Full notification, opcode included
	ErrorFlag bool   // Opcode had ErrorFlag set
	Err       error  // ErrNoResponse on timeout, the cancel cause otherwise
}

// NewCorrelator creates a correlator. A zero timeout selects DefaultResponseTimeout.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	return &Correlator{defaultTimeout: timeout}
}

// SetTimeoutCallback sets a callback invoked after a request times out.
func (c *Correlator) SetTimeoutCallback(cb func(opcode byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeoutCallback = cb
}

// Expect registers a waiter for opcode and returns the channel its response
// arrives on. Register before writing the command so a fast notification
// cannot slip past. Fails with *RequestPendingError while another waiter is
// registered; the existing waiter is left untouched.
func (c *Correlator) Expect(opcode byte, timeout time.Duration) (<-chan Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		return nil, &RequestPendingError{Pending: c.pending.ExpectedOpcode, Requested: opcode}
	}

	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	now := time.Now()
	p := &PendingRequest{
		ExpectedOpcode: opcode,
		Deadline:       now.Add(timeout),
		SentAt:         now,
		responseC:      make(chan Response, 1),
	}
	p.timer = time.AfterFunc(timeout, func() { c.expire(p) })
	c.pending = p

	return p.responseC, nil
}

func (c *Correlator) expire(p *PendingRequest) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return // Already resolved or replaced
	}
	c.pending = nil
	cb := c.timeoutCallback
	c.mu.Unlock()

	logger.Debug("correlator", "no response to %s after %v", OpcodeName(p.ExpectedOpcode), time.Since(p.SentAt).Round(time.Millisecond))
	p.responseC <- Response{Opcode: p.ExpectedOpcode, Err: ErrNoResponse}
	close(p.responseC)

	if cb != nil {
		cb(p.ExpectedOpcode)
	}
}

// OnNotification offers a notification to the pending waiter. It reports
// whether the notification resolved it. Unsolicited or mismatched
// notifications are dropped.
func (c *Correlator) OnNotification(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	c.mu.Lock()
	p := c.pending
	if p == nil || !ResponseMatches(data[0], p.ExpectedOpcode) {
		c.mu.Unlock()
		logger.Trace("correlator", "dropped notification %s", logger.Hex(data))
		return false
	}
	c.pending = nil
	c.mu.Unlock()

	p.timer.Stop()

	buf := make([]byte, len(data))
	copy(buf, data)
	p.responseC <- Response{
		Opcode:    data[0],
		Data:      buf,
		ErrorFlag: IsErrorVariant(data[0], p.ExpectedOpcode),
	}
	close(p.responseC)
	return true
}

// Cancel fails the pending waiter with err, if there is one.
func (c *Correlator) Cancel(err error) {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()

	if p == nil {
		return
	}
	if err == nil {
		err = ErrCancelled
	}
	p.timer.Stop()
	p.responseC <- Response{Opcode: p.ExpectedOpcode, Err: err}
	close(p.responseC)
}

// HasPending returns true if there is a pending request
func (c *Correlator) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// PendingInfo returns info about the pending request (for debugging)
func (c *Correlator) PendingInfo() (opcode byte, age time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return 0, 0, false
	}
	return c.pending.ExpectedOpcode, time.Since(c.pending.SentAt), true
}
