package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/omochice/cipherchat/internal/channel"
	"github.com/omochice/cipherchat/internal/transport/ws"
	"github.com/omochice/cipherchat/pkg/protocol"
	"nhooyr.io/websocket"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func mustCodec(t *testing.T, name string) protocol.Codec {
	t.Helper()
	c, err := protocol.NewCodec(name, protocol.Inbound)
	if err != nil {
		t.Fatalf("NewCodec(%q) error = %v", name, err)
	}
	return c
}

func TestConn_Read(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		if err := c.Write(context.Background(), websocket.MessageText, []byte("test message")); err != nil {
			t.Errorf("failed to write: %v", err)
		}
		c.Read(context.Background())
	}))
	defer server.Close()

	wsConn, _, err := websocket.Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	conn := ws.NewConn(wsConn, true)

	data, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "test message" {
		t.Errorf("Read() = %q, want %q", string(data), "test message")
	}
}

func TestConn_Write(t *testing.T) {
	tests := []struct {
		name   string
		binary bool
		want   websocket.MessageType
	}{
		{"text", false, websocket.MessageText},
		{"binary", true, websocket.MessageBinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			type frame struct {
				typ  websocket.MessageType
				data []byte
			}
			received := make(chan frame, 1)

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c, err := websocket.Accept(w, r, nil)
				if err != nil {
					t.Errorf("failed to accept websocket: %v", err)
					return
				}
				defer c.Close(websocket.StatusNormalClosure, "")

				typ, data, err := c.Read(context.Background())
				if err != nil {
					t.Errorf("failed to read: %v", err)
					return
				}
				received <- frame{typ, data}
			}))
			defer server.Close()

			wsConn, _, err := websocket.Dial(context.Background(), wsURL(server), nil)
			if err != nil {
				t.Fatalf("failed to dial: %v", err)
			}
			defer wsConn.Close(websocket.StatusNormalClosure, "")

			conn := ws.NewConn(wsConn, tt.binary)
			if err := conn.Write(context.Background(), []byte("hello")); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			got := <-received
			if got.typ != tt.want {
				t.Errorf("frame type = %v, want %v", got.typ, tt.want)
			}
			if string(got.data) != "hello" {
				t.Errorf("server received %q, want %q", string(got.data), "hello")
			}
		})
	}
}

func TestConn_Close(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		c.Read(context.Background())
	}))
	defer server.Close()

	wsConn, _, err := websocket.Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	conn := ws.NewConn(wsConn, false)

	if err := conn.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestConn_RemoteAddr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		c.Read(context.Background())
	}))
	defer server.Close()

	wsConn, resp, err := websocket.Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	conn := ws.NewConnWithAddr(wsConn, false, resp.Request.URL.Host)

	if addr := conn.RemoteAddr(); addr == "" {
		t.Error("RemoteAddr() returned empty string")
	}
}

func TestDialer_Dial(t *testing.T) {
	for _, name := range []string{protocol.CodecJSON, protocol.CodecProto} {
		t.Run(name, func(t *testing.T) {
			codec := mustCodec(t, name)
			type handshake struct {
				auth string
				sub  string
				typ  websocket.MessageType
			}
			got := make(chan handshake, 1)

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: protocol.Subprotocols()})
				if err != nil {
					t.Errorf("failed to accept websocket: %v", err)
					return
				}
				defer c.Close(websocket.StatusNormalClosure, "")

				typ, _, err := c.Read(context.Background())
				if err != nil {
					t.Errorf("failed to read: %v", err)
					return
				}
				got <- handshake{auth: r.Header.Get("Authorization"), sub: c.Subprotocol(), typ: typ}
			}))
			defer server.Close()

			d := &ws.Dialer{URL: wsURL(server), Codec: codec}
			conn, err := d.Dial(context.Background(), "token-123")
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			defer conn.Close()

			if err := conn.Write(context.Background(), []byte("{}")); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			h := <-got
			if h.auth != "Bearer token-123" {
				t.Errorf("Authorization = %q, want %q", h.auth, "Bearer token-123")
			}
			if h.sub != protocol.Subprotocol(codec) {
				t.Errorf("subprotocol = %q, want %q", h.sub, protocol.Subprotocol(codec))
			}
			wantType := websocket.MessageText
			if codec.Binary() {
				wantType = websocket.MessageBinary
			}
			if h.typ != wantType {
				t.Errorf("frame type = %v, want %v", h.typ, wantType)
			}
		})
	}
}

func TestDialer_Unauthorized(t *testing.T) {
	tests := []struct {
		name   string
		status int
		auth   bool
	}{
		{"401", http.StatusUnauthorized, true},
		{"403", http.StatusForbidden, true},
		{"500", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, http.StatusText(tt.status), tt.status)
			}))
			defer server.Close()

			d := &ws.Dialer{URL: wsURL(server), Codec: mustCodec(t, protocol.CodecJSON)}
			_, err := d.Dial(context.Background(), "bad")
			if err == nil {
				t.Fatal("Dial() expected error")
			}
			if got := errors.Is(err, channel.ErrUnauthorized); got != tt.auth {
				t.Errorf("errors.Is(err, ErrUnauthorized) = %v, want %v (err = %v)", got, tt.auth, err)
			}
		})
	}
}

func TestDialer_ReadLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		c.Write(context.Background(), websocket.MessageText, []byte(strings.Repeat("x", 64<<10)))
		c.Read(context.Background())
	}))
	defer server.Close()

	d := &ws.Dialer{URL: wsURL(server), Codec: mustCodec(t, protocol.CodecJSON)}
	conn, err := d.Dial(context.Background(), "")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(data) != 64<<10 {
		t.Errorf("len(Read()) = %d, want %d", len(data), 64<<10)
	}
}
