package realtime

import (
	"sync"
	"time"

	"github.com/spec-kit/dealer-support/internal/domain"
)

// Sink is the write side of the underlying realtime transport. The websocket
// connection from gofiber/contrib satisfies it.
type Sink interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// websocket text frame, matching gofiber/contrib/websocket.TextMessage.
const textMessage = 1

// Connection is one live realtime channel instance. It is owned exclusively
// by the Registry; other components address it only through room membership.
type Connection struct {
	ID          string
	Identity    domain.Identity
	ConnectedAt time.Time

	// rooms is guarded by the owning Registry's lock.
	rooms map[string]struct{}

	// sendMu guards send against the close in Unregister/CloseAll racing a
	// concurrent broadcast enqueue.
	sendMu sync.Mutex
	closed bool

	sink Sink
	send chan []byte
}

func newConnection(id string, identity domain.Identity, sink Sink, bufSize int) *Connection {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Connection{
		ID:          id,
		Identity:    identity,
		ConnectedAt: time.Now(),
		rooms:       make(map[string]struct{}),
		sink:        sink,
		send:        make(chan []byte, bufSize),
	}
}

// deliver enqueues data without blocking. A full buffer means a slow
// consumer, a closed connection means a disconnect raced the broadcast;
// either way the event is dropped and recovered by history replay.
func (c *Connection) deliver(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Send marshals and enqueues an event for this connection only.
func (c *Connection) Send(event Event) error {
	data, err := event.encode()
	if err != nil {
		return err
	}
	c.deliver(data)
	return nil
}

// WritePump drains the send buffer into the transport. It exits when the
// connection is closed by the Registry or the transport write fails.
func (c *Connection) WritePump() {
	defer c.sink.Close()
	for data := range c.send {
		if err := c.sink.WriteMessage(textMessage, data); err != nil {
			return
		}
	}
}

// close releases the send buffer exactly once, terminating WritePump. The
// flag is set under the same lock deliver holds, so no enqueue can hit the
// channel after it is closed.
func (c *Connection) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
