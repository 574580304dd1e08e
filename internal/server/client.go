// Package server manages individual chat clients: the transport handle,
// serialized frame writes with deadlines, and idempotent close.
package server

import (
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/mycord/internal/protocol"
)

// Client represents one connected peer as seen by the Hub: its transport,
// bound username and address. Writes from the owning session and from
// broadcasts of other sessions are serialized per client.
type Client struct {
	conn         net.Conn
	addr         string
	username     string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewClient wraps conn. The username is bound later, once login succeeds.
func NewClient(conn net.Conn, addr string, writeTimeout time.Duration) *Client {
	return &Client{
		conn:         conn,
		addr:         addr,
		writeTimeout: writeTimeout,
	}
}

// Username returns the bound username, or "" before login.
func (c *Client) Username() string {
	return c.username
}

// Addr returns the peer address.
func (c *Client) Addr() string {
	return c.addr
}

// Conn returns the underlying transport.
func (c *Client) Conn() net.Conn {
	return c.conn
}

// Send writes one frame using the client's write timeout.
func (c *Client) Send(m protocol.Message) error {
	return c.sendWithin(m, c.writeTimeout)
}

// sendWithin writes one frame, failing if it cannot complete within d.
// A zero d means no deadline.
func (c *Client) sendWithin(m protocol.Message, d time.Duration) error {
	frame := protocol.Encode(m)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if d > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(frame)
	return err
}

// sendBounded is sendWithin that returns after about d even when another
// write still holds the transport. The caller is expected to close the
// client afterwards, which releases any write left blocked.
func (c *Client) sendBounded(m protocol.Message, d time.Duration) error {
	if d <= 0 {
		return c.sendWithin(m, d)
	}
	result := make(chan error, 1)
	go func() { result <- c.sendWithin(m, d) }()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return fmt.Errorf("send %s: %w", m.Kind, os.ErrDeadlineExceeded)
	}
}

// Close closes the transport once; later calls return nil.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// isClosed reports whether Close has been called on this client.
func (c *Client) isClosed() bool {
	return c.closed.Load()
}
