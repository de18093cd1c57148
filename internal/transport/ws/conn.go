// Package ws provides the nhooyr.io/websocket transport for the realtime channel.
package ws

import (
	"context"

	"nhooyr.io/websocket"
)

// Conn adapts nhooyr.io/websocket to channel.Conn.
type Conn struct {
	conn       *websocket.Conn
	typ        websocket.MessageType
	remoteAddr string
}

// NewConn wraps a websocket.Conn. binary selects the frame type used by Write.
func NewConn(conn *websocket.Conn, binary bool) *Conn {
	return NewConnWithAddr(conn, binary, "")
}

// NewConnWithAddr wraps a websocket.Conn with the specified remote address.
func NewConnWithAddr(conn *websocket.Conn, binary bool, addr string) *Conn {
	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}
	return &Conn{conn: conn, typ: typ, remoteAddr: addr}
}

// Read implements channel.Conn.
// Text and binary frames are both accepted.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// Write implements channel.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, c.typ, data)
}

// Close implements channel.Conn.
func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// RemoteAddr returns the peer address, if known.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Subprotocol returns the negotiated websocket subprotocol.
func (c *Conn) Subprotocol() string {
	return c.conn.Subprotocol()
}
