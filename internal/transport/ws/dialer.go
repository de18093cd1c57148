package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/omochice/cipherchat/internal/channel"
	"github.com/omochice/cipherchat/pkg/protocol"
	"nhooyr.io/websocket"
)

// DefaultReadLimit bounds one inbound frame. Attachments travel inline as
// data URLs, so the library default of 32KiB is far too small.
const DefaultReadLimit = 16 << 20

// Dialer opens websocket connections to a relay.
type Dialer struct {
	URL        string
	Codec      protocol.Codec
	HTTPClient *http.Client
	ReadLimit  int64
}

// Dial implements channel.Dialer. The credential travels as a bearer token
// and the codec is advertised as the websocket subprotocol.
func (d *Dialer) Dial(ctx context.Context, credential string) (channel.Conn, error) {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, resp, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   header,
		Subprotocols: []string{protocol.Subprotocol(d.Codec)},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", channel.ErrUnauthorized, resp.Status)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", d.URL, err)
	}

	if sub := conn.Subprotocol(); sub != "" && sub != protocol.Subprotocol(d.Codec) {
		conn.Close(websocket.StatusProtocolError, "unexpected subprotocol")
		return nil, fmt.Errorf("server selected subprotocol %q", sub)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)

	return NewConn(conn, d.Codec.Binary()), nil
}
