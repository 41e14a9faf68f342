package transport

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/nitros-io/nitros/internal/bufpool"
	"github.com/nitros-io/nitros/internal/nerrors"
)

// Client dials a single framed-transport Server and invokes a callback for
// every complete frame it receives.
type Client struct {
	conn    net.Conn
	running atomic.Bool
	onClose sync.Once
}

// Dial opens a TCP stream to host:port and starts the receive loop in a
// background goroutine, invoking onMessage synchronously for each frame.
// onMessage must not block, since it runs inline on this connection's
// receive loop; callers that need to do slow work should hand off to their
// own worker instead.
func Dial(host string, port int, onMessage func([]byte)) (*Client, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, nerrors.NewTransportError("transport.Dial", err)
	}
	c := &Client{conn: conn}
	c.running.Store(true)
	go c.receiveLoop(onMessage)
	return c, nil
}

func (c *Client) receiveLoop(onMessage func([]byte)) {
	defer c.markStopped()
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(c.conn, lenBuf); err != nil {
			return
		}
		l := binary.BigEndian.Uint32(lenBuf)
		if l == 0 {
			// Frame-size invariant: L == 0 is malformed, disconnect.
			return
		}
		payload := bufpool.Get(int(l))
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			bufpool.Put(payload)
			return
		}
		owned := make([]byte, len(payload))
		copy(owned, payload)
		bufpool.Put(payload)
		onMessage(owned)
	}
}

func (c *Client) markStopped() {
	c.running.Store(false)
}

// Running reports whether the receive loop is still active. Connection
// supervisors poll this to detect peer loss.
func (c *Client) Running() bool { return c.running.Load() }

// Close terminates the connection. Idempotent.
func (c *Client) Close() error {
	var err error
	c.onClose.Do(func() {
		c.running.Store(false)
		err = c.conn.Close()
	})
	return err
}
