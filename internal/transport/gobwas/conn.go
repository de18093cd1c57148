// Package gobwas provides a github.com/gobwas/ws transport for the realtime
// channel. It speaks the same handshake as the nhooyr transport.
package gobwas

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/cipherchat/internal/channel"
	"github.com/omochice/cipherchat/pkg/protocol"
)

// Dialer opens websocket connections with gobwas/ws.
type Dialer struct {
	URL     string
	Codec   protocol.Codec
	Timeout time.Duration
}

// Dial implements channel.Dialer.
func (d *Dialer) Dial(ctx context.Context, credential string) (channel.Conn, error) {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	dialer := ws.Dialer{
		Header:    ws.HandshakeHeaderHTTP(header),
		Protocols: []string{protocol.Subprotocol(d.Codec)},
		Timeout:   d.Timeout,
	}
	conn, br, hs, err := dialer.Dial(ctx, d.URL)
	if err != nil {
		var status ws.StatusError
		if errors.As(err, &status) && (int(status) == http.StatusUnauthorized || int(status) == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", channel.ErrUnauthorized, int(status))
		}
		return nil, fmt.Errorf("failed to dial %s: %w", d.URL, err)
	}

	if hs.Protocol != "" && hs.Protocol != protocol.Subprotocol(d.Codec) {
		conn.Close()
		return nil, fmt.Errorf("server selected subprotocol %q", hs.Protocol)
	}

	return NewConn(conn, br, d.Codec.Binary()), nil
}

// Conn adapts a client-side gobwas connection to channel.Conn.
type Conn struct {
	conn   net.Conn
	rw     io.ReadWriter
	op     ws.OpCode
	readMu sync.Mutex
	w      *lockedWriter
}

// lockedWriter serializes our frames with the control replies wsutil writes
// while reading.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// NewConn wraps conn. br holds bytes the handshake buffered past the
// response and may be nil.
func NewConn(conn net.Conn, br *bufio.Reader, binary bool) *Conn {
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	op := ws.OpText
	if binary {
		op = ws.OpBinary
	}
	w := &lockedWriter{w: conn}
	return &Conn{
		conn: conn,
		rw:   struct {
			io.Reader
			io.Writer
		}{r, w},
		op: op,
		w:  w,
	}
}

// Read implements channel.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, _, err := wsutil.ReadServerData(c.rw)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return data, nil
}

// Write implements channel.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := wsutil.WriteClientMessage(c.w, c.op, data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Close implements channel.Conn.
func (c *Conn) Close() error {
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = wsutil.WriteClientMessage(c.w, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	return c.conn.Close()
}

// RemoteAddr returns the server address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
