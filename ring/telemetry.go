package ring

import (
	"context"

	"github.com/lumie-health/ringlink/protocol"
)

// ReadBattery refreshes the battery level of the paired ring.
func (c *Client) ReadBattery(ctx context.Context) (int, error) {
	sess, err := c.pairedSession()
	if err != nil {
		return 0, err
	}
	defer c.end()
	return c.readBattery(ctx, sess)
}

// ReadFirmwareVersion refreshes the firmware version of the paired ring.
func (c *Client) ReadFirmwareVersion(ctx context.Context) (string, error) {
	sess, err := c.pairedSession()
	if err != nil {
		return "", err
	}
	defer c.end()
	return c.readFirmwareVersion(ctx, sess)
}

// ReadIdentifier refreshes the hardware identifier of the paired ring.
func (c *Client) ReadIdentifier(ctx context.Context) (string, error) {
	sess, err := c.pairedSession()
	if err != nil {
		return "", err
	}
	defer c.end()
	return c.readIdentifier(ctx, sess)
}

// pairedSession claims the client for a read. The caller must call end.
func (c *Client) pairedSession() (*session, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	sess, state := c.session, c.state
	c.mu.Unlock()
	if sess == nil || state != StatePaired {
		c.end()
		return nil, ErrNotPaired
	}
	return sess, nil
}

func (c *Client) readBattery(ctx context.Context, sess *session) (int, error) {
	resp, err := c.request(ctx, sess, protocol.BuildGetBattery())
	if err == nil {
		var pct int
		if pct, err = protocol.DecodeBattery(resp); err == nil {
			return pct, nil
		}
	}
	return 0, &TelemetryUnavailableError{Field: "battery", Opcode: protocol.OpGetBattery, Err: err}
}

func (c *Client) readFirmwareVersion(ctx context.Context, sess *session) (string, error) {
	resp, err := c.request(ctx, sess, protocol.BuildGetFirmwareVersion())
	if err == nil {
		var v string
		if v, err = protocol.DecodeFirmwareVersion(resp); err == nil {
			return v, nil
		}
	}
	return "", &TelemetryUnavailableError{Field: "firmware version", Opcode: protocol.OpGetFirmwareVersion, Err: err}
}

func (c *Client) readIdentifier(ctx context.Context, sess *session) (string, error) {
	resp, err := c.request(ctx, sess, protocol.BuildGetIdentifier())
	if err == nil {
		var id string
		if id, err = protocol.DecodeIdentifier(resp); err == nil {
			return id, nil
		}
	}
	return "", &TelemetryUnavailableError{Field: "identifier", Opcode: protocol.OpGetIdentifier, Err: err}
}
