package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/pkg/retry"
)

// Client is a minimal synchronous TCP client used by tools and tests.
type Client struct {
	address string
	conn    net.Conn
	retry   retry.Config
}

// NewClient creates a client for the given address. The connection is
// established by Connect.
func NewClient(address string) *Client {
	return &Client{
		address: address,
		retry: retry.Config{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
	}
}

// Connect dials the configured address, retrying with backoff.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"Client", "Connect", "dial")
	}

	err := retry.Do(ctx, c.retry, func() error {
		conn, err := net.Dial("tcp", c.address)
		if err != nil {
			return err
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Connect",
			fmt.Sprintf("dial %s", c.address))
	}
	return nil
}

// Send writes data fully to the connection.
func (c *Client) Send(data []byte) error {
	if c.conn == nil {
		return errors.WrapInvalid(errors.ErrNoConnection,
			"Client", "Send", "write")
	}
	if _, err := c.conn.Write(data); err != nil {
		return errors.WrapTransient(err, "Client", "Send", "write")
	}
	return nil
}

// Receive reads up to len(buf) bytes, waiting at most timeout.
func (c *Client) Receive(buf []byte, timeout time.Duration) (int, error) {
	if c.conn == nil {
		return 0, errors.WrapInvalid(errors.ErrNoConnection,
			"Client", "Receive", "read")
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, errors.WrapTransient(err, "Client", "Receive", "set deadline")
	}
	n, err := c.conn.Read(buf)
	if err != nil {
		return n, errors.WrapTransient(err, "Client", "Receive", "read")
	}
	return n, nil
}

// Close closes the connection. Safe to call multiple times.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return errors.WrapTransient(err, "Client", "Close", "close connection")
	}
	return nil
}
