package webfeed

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client is one browser connection. Only writePump writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	// seq of the snapshot this client started from; guarded by Server.mu
	seq int
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, clientSendSize),
		done: make(chan struct{}),
	}
}

// enqueue queues data without blocking and reports whether it fit.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}
