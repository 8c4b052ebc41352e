// ABOUTME: WebSocket connection wrapper satisfying the registry's Conn interface
// ABOUTME: Serializes writes and applies the configured write deadline

package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn wraps a websocket connection. The registry delivers to it from many
// goroutines, so writes are serialized under mu.
type wsConn struct {
	id           string
	sessionID    string
	sock         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (c *wsConn) ID() string        { return c.id }
func (c *wsConn) SessionID() string { return c.sessionID }

// Send writes one frame. A transport failure is returned to the registry,
// which swallows it and reduces the delivery count.
func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.sock.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.sock.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) close() {
	c.sock.Close()
}
