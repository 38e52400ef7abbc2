// Package transport implements the session transport: per-connection
// framed read loop and a bounded, back-pressured write queue, shared by
// both the server's accepted connections and the client's single
// connection to its server.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"

	"svsmate/apperr"
	"svsmate/logger"
	"svsmate/protocol"
)

// defaultQueueCap is the outbound frame queue bound before a connection is
// considered a slow consumer and dropped.
const defaultQueueCap = 1024

// Connection wraps one TCP socket with a framed read loop and a bounded
// writer task. Frames enqueued while the queue is full are rejected with
// ErrSlowConsumer; the caller is expected to close the connection in that
// case.
type Connection struct {
	ID   string
	conn net.Conn

	outbound chan protocol.Envelope
	reader   *bufio.Reader

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection wraps netConn with queueCap-bounded outbound buffering
// (0 uses the default of 1024) and starts its writer goroutine.
func NewConnection(id string, netConn net.Conn, queueCap int) *Connection {
	if queueCap <= 0 {
		queueCap = defaultQueueCap
	}
	c := &Connection{
		ID:       id,
		conn:     netConn,
		outbound: make(chan protocol.Envelope, queueCap),
		reader:   bufio.NewReader(netConn),
		closed:   make(chan struct{}),
	}
	go c.runWriter()
	return c
}

// Send enqueues e for delivery. It never blocks: if the outbound queue is
// full it returns ErrSlowConsumer and the frame is dropped, signaling the
// caller to tear the connection down.
func (c *Connection) Send(e protocol.Envelope) error {
	select {
	case <-c.closed:
		return fmt.Errorf("transport: connection %s closed", c.ID)
	default:
	}
	select {
	case c.outbound <- e:
		return nil
	default:
		return fmt.Errorf("%w: connection %s", apperr.ErrSlowConsumer, c.ID)
	}
}

func (c *Connection) runWriter() {
	for {
		select {
		case e, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := protocol.WriteFrame(c.conn, e); err != nil {
				logger.Debug("transport: write to %s failed: %v", c.ID, err)
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// ReadLoop reads frames until the connection closes or a non-recoverable
// stream error occurs, dispatching each to handler. A frame that fails to
// parse is logged and skipped; the loop keeps running. ReadLoop returns
// when the stream ends, the connection is closed, or a read error occurs.
func (c *Connection) ReadLoop(handler func(protocol.Envelope)) error {
	for {
		e, err := protocol.ReadFrame(c.reader)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				logger.Error("transport: dropping malformed frame from %s: %v", c.ID, err)
				continue
			}
			return err
		}
		handler(e)
	}
}

// Close closes the underlying socket and stops the writer goroutine. Safe
// to call more than once or concurrently with ReadLoop/Send.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
