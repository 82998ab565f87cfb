package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oshokin/sensor-bridge/internal/broadcast"
)

const (
	// clientBufferSize bounds the messages pending per observer. The hub
	// never waits, so a client that falls this far behind is dropped.
	clientBufferSize = 64

	// writeWait bounds a single WebSocket write.
	writeWait = 10 * time.Second
)

var (
	errClientClosed = errors.New("client connection closed")
	errClientBusy   = errors.New("client send buffer full")
)

// client adapts one WebSocket connection to the broadcast.Observer
// interface: Send never blocks, a dedicated pump goroutine performs the
// actual writes.
type client struct {
	conn *websocket.Conn
	out  chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		out:  make(chan []byte, clientBufferSize),
		done: make(chan struct{}),
	}
}

// Send queues a message for the write pump without blocking. It reports an
// error when the connection is closed or the buffer is full, which makes
// the hub drop this observer.
func (c *client) Send(msg broadcast.Message) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.out <- msg.Payload:
		return nil
	default:
		return errClientBusy
	}
}

// writePump drains the outbound buffer onto the socket until the client
// closes or a write fails.
func (c *client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()

				return
			}
		}
	}
}

// close tears the connection down exactly once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
