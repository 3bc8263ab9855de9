package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Conn serialises writes so the read loop and the event pusher can share
// one connection.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

func NewConn(c *websocket.Conn) *Conn {
	return &Conn{Conn: c}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

// WriteEvent wraps data in a Message envelope.
func (c *Conn) WriteEvent(event Event, data interface{}) error {
	return c.WriteTyped(Message{Event: event, Data: data})
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(code, errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// ReadPayload reads and decodes one client message with a read deadline.
func (c *Conn) ReadPayload(v *RequestPayload) error {
	_ = c.SetReadDeadline(time.Now().Add(readWait))
	return c.Conn.ReadJSON(v)
}
