package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/omochice/cipherchat/internal/auth"
	"github.com/omochice/cipherchat/internal/transport/ws"
	"github.com/omochice/cipherchat/pkg/protocol"
	"nhooyr.io/websocket"
)

// Server accepts websocket connections and REST requests and delegates to
// the Hub.
type Server struct {
	address  string
	listener net.Listener
	hub      *Hub
	verifier auth.Verifier
	server   *http.Server
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a relay server that uses the provided Hub.
func New(address string, hub *Hub, verifier auth.Verifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address:  address,
		hub:      hub,
		verifier: verifier,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handler returns the routes of the relay.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Get("/ws", s.handleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", s.listRooms)
		r.Get("/profiles/{id}", s.getProfile)
		r.Put("/profiles/{id}", s.putProfile)
	})
	return r
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: s.Handler()}
	return nil
}

// Serve blocks serving on the socket bound by Listen until Stop.
func (s *Server) Serve() error {
	s.log.Info("relay started", "addr", s.listener.Addr().String())

	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens and serves.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop stops the server and closes every client connection.
func (s *Server) Stop(ctx context.Context) {
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.log.Warn("failed to shut down http server", "error", err)
		}
	}
	s.cancel()
	for _, client := range s.hub.Clients() {
		client.Conn.Close()
	}
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: protocol.Subprotocols()})
	if err != nil {
		s.log.Warn("failed to accept websocket connection", "error", err)
		return
	}
	codec, err := protocol.CodecForSubprotocol(wsConn.Subprotocol(), protocol.Outbound)
	if err != nil {
		wsConn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
		return
	}
	wsConn.SetReadLimit(ws.DefaultReadLimit)

	client := NewClient(ws.NewConnWithAddr(wsConn, codec.Binary(), r.RemoteAddr), identity, codec)
	s.hub.Register(client)

	s.wg.Add(2)
	go s.handleClient(client)
	go s.writeLoop(client)
}

func (s *Server) handleClient(client *Client) {
	defer s.wg.Done()
	defer close(client.Outgoing)
	defer s.hub.Unregister(client)
	defer client.Conn.Close()

	for {
		data, err := client.Conn.Read(s.ctx)
		if err != nil {
			s.log.Debug("client disconnected", "user", client.Identity.ID, "error", err)
			return
		}
		ev, err := client.Codec.Unmarshal(data)
		if err != nil {
			s.log.Debug("dropping frame", "user", client.Identity.ID, "error", err)
			continue
		}
		s.hub.Handle(client, ev)
	}
}

func (s *Server) writeLoop(client *Client) {
	defer s.wg.Done()
	for ev := range client.Outgoing {
		data, err := client.Codec.Marshal(ev)
		if err != nil {
			s.log.Error("failed to encode event", "event", ev.Name(), "error", err)
			continue
		}
		if err := client.Conn.Write(s.ctx, data); err != nil {
			s.log.Debug("failed to write to client", "user", client.Identity.ID, "error", err)
			client.Conn.Close()
			return
		}
	}
}
