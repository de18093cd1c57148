// Package channel owns one realtime connection: its lifecycle, the
// credential presented when it opens, and the fan-out of decoded inbound
// events to subscribers.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/omochice/cipherchat/internal/auth"
	"github.com/omochice/cipherchat/pkg/protocol"
)

// State is the connection state of a Session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrClosed is returned by Connect when Disconnect wins the race against an
// in-flight dial.
var ErrClosed = errors.New("session closed")

// Handler receives one decoded inbound event.
type Handler func(protocol.Event)

type subscription struct {
	fn Handler
}

type stateSubscription struct {
	fn func(State)
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithCredentials replaces the default auth.Plain credentials.
func WithCredentials(c auth.Credentials) Option {
	return func(s *Session) { s.creds = c }
}

// WithReconnect enables re-dialing after a transport loss.
func WithReconnect(r ReconnectStrategy) Option {
	return func(s *Session) { s.reconnect = r }
}

// Session is one realtime channel. Inbound events are decoded and dispatched
// by a single reader goroutine, so handlers run one at a time in arrival
// order. Handlers must not call Disconnect.
type Session struct {
	dialer    Dialer
	codec     protocol.Codec
	creds     auth.Credentials
	reconnect ReconnectStrategy
	log       *slog.Logger

	mu       sync.RWMutex
	state    State
	identity protocol.Identity
	conn     Conn
	life     context.Context
	cancel   context.CancelFunc

	subMu       sync.RWMutex
	handlers    map[protocol.EventName][]*subscription
	all         []*subscription
	stateChange []*stateSubscription

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a disconnected Session.
func New(dialer Dialer, codec protocol.Codec, opts ...Option) *Session {
	s := &Session{
		dialer:    dialer,
		codec:     codec,
		creds:     auth.Plain{},
		reconnect: NoReconnect{},
		log:       slog.Default(),
		handlers:  make(map[protocol.EventName][]*subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the identity bound by the last Connect.
func (s *Session) Identity() protocol.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Connect opens the transport presenting identity as the credential. It is a
// no-op unless the session is Disconnected. A refused credential yields a
// *SessionAuthError and the session stays Disconnected.
func (s *Session) Connect(ctx context.Context, identity protocol.Identity) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		// a pending reconnect loop belongs to the previous connection
		s.cancel()
	}
	life, cancel := context.WithCancel(context.Background())
	s.life, s.cancel = life, cancel
	s.identity = identity
	s.state = Connecting
	s.mu.Unlock()
	s.notify(Connecting)

	if err := s.establish(ctx, life, identity); err != nil {
		s.mu.Lock()
		changed := s.life == life && s.state == Connecting
		if changed {
			s.state = Disconnected
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
		if changed {
			s.notify(Disconnected)
		}
		return err
	}
	return nil
}

// Disconnect releases the transport and stops any reconnect loop. After it
// returns no handler runs again. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	conn := s.conn
	s.conn = nil
	prev := s.state
	s.state = Disconnected
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Debug("failed to close connection", "error", err)
		}
	}
	s.wg.Wait()

	if prev != Disconnected {
		s.notify(Disconnected)
	}
}

// Send writes one outbound event. While not connected it does nothing. A
// failed write is logged and moves the session to Disconnected; it is not
// returned to the caller.
func (s *Session) Send(ctx context.Context, ev protocol.Event) error {
	if ev.Direction() != protocol.Outbound {
		return fmt.Errorf("cannot send inbound event %q", ev.Name())
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		s.log.Debug("dropping outbound event while disconnected", "event", ev.Name())
		return nil
	}

	data, err := s.codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	s.writeMu.Lock()
	err = conn.Write(ctx, data)
	s.writeMu.Unlock()

	if err != nil {
		s.log.Warn("failed to send event", "event", ev.Name(), "error", err)
		s.lost(conn)
	}
	return nil
}

// Subscribe registers h for events named name. Handlers for the same name run
// in registration order. The returned func removes the subscription.
func (s *Session) Subscribe(name protocol.EventName, h Handler) func() {
	sub := &subscription{fn: h}
	s.subMu.Lock()
	s.handlers[name] = append(s.handlers[name], sub)
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.handlers[name] = slices.DeleteFunc(s.handlers[name], func(x *subscription) bool { return x == sub })
	}
}

// SubscribeAll registers h for every inbound event. It runs after the
// per-name handlers.
func (s *Session) SubscribeAll(h Handler) func() {
	sub := &subscription{fn: h}
	s.subMu.Lock()
	s.all = append(s.all, sub)
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.all = slices.DeleteFunc(s.all, func(x *subscription) bool { return x == sub })
	}
}

// OnStateChange registers f to observe state transitions.
func (s *Session) OnStateChange(f func(State)) func() {
	sub := &stateSubscription{fn: f}
	s.subMu.Lock()
	s.stateChange = append(s.stateChange, sub)
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.stateChange = slices.DeleteFunc(s.stateChange, func(x *stateSubscription) bool { return x == sub })
	}
}

// establish dials and, if life is still current, installs the connection and
// starts its reader.
func (s *Session) establish(ctx context.Context, life context.Context, identity protocol.Identity) error {
	token, err := s.creds.Token(identity)
	if err != nil {
		return &SessionAuthError{UserID: identity.ID, Err: err}
	}

	conn, err := s.dialer.Dial(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return &SessionAuthError{UserID: identity.ID, Err: err}
		}
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	s.mu.Lock()
	if life.Err() != nil || s.life != life {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.state = Connected
	s.wg.Add(1)
	go s.readLoop(life, conn)
	s.mu.Unlock()

	s.log.Info("connected", "user", identity.ID)
	s.notify(Connected)
	return nil
}

func (s *Session) readLoop(life context.Context, conn Conn) {
	defer s.wg.Done()

	for {
		data, err := conn.Read(life)
		if err != nil {
			if life.Err() != nil {
				return
			}
			s.log.Warn("connection lost", "error", err)
			s.lost(conn)
			return
		}

		ev, err := s.codec.Unmarshal(data)
		if err != nil {
			s.log.Debug("dropping inbound frame", "error", err)
			continue
		}

		if life.Err() != nil {
			return
		}
		s.dispatch(ev)
	}
}

func (s *Session) dispatch(ev protocol.Event) {
	s.subMu.RLock()
	subs := append(slices.Clone(s.handlers[ev.Name()]), s.all...)
	s.subMu.RUnlock()

	for _, sub := range subs {
		s.invoke(ev, sub.fn)
	}
}

func (s *Session) invoke(ev protocol.Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panicked", "event", ev.Name(), "panic", r)
		}
	}()
	h(ev)
}

func (s *Session) notify(state State) {
	s.subMu.RLock()
	subs := slices.Clone(s.stateChange)
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.fn(state)
	}
}

// lost handles a non-explicit transport loss of conn.
func (s *Session) lost(conn Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = Disconnected
	life, identity := s.life, s.identity
	s.mu.Unlock()

	conn.Close()
	s.notify(Disconnected)

	s.mu.Lock()
	if life.Err() == nil && s.life == life && s.state == Disconnected {
		s.wg.Add(1)
		go s.redial(life, identity)
	}
	s.mu.Unlock()
}

func (s *Session) redial(life context.Context, identity protocol.Identity) {
	defer s.wg.Done()

	for attempt := 1; ; attempt++ {
		delay, ok := s.reconnect.Next(attempt)
		if !ok {
			if attempt > 1 {
				s.log.Warn("giving up reconnecting", "attempts", attempt-1)
			}
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-life.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if s.life != life || s.state != Disconnected {
			s.mu.Unlock()
			return
		}
		s.state = Connecting
		s.mu.Unlock()
		s.notify(Connecting)

		err := s.establish(life, life, identity)
		if err == nil {
			return
		}

		s.mu.Lock()
		current := s.life == life && s.state == Connecting
		if current {
			s.state = Disconnected
		}
		s.mu.Unlock()
		if !current || errors.Is(err, ErrClosed) {
			return
		}
		s.notify(Disconnected)

		if errors.Is(err, ErrSessionAuth) {
			s.log.Error("reconnect rejected", "error", err)
			return
		}
		s.log.Warn("reconnect failed", "attempt", attempt, "error", err)
	}
}
