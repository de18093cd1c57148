// Package chat binds the channel session, room directory, message store and
// presence debouncer into the operations a chat surface calls.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/omochice/cipherchat/internal/api"
	"github.com/omochice/cipherchat/internal/attachment"
	"github.com/omochice/cipherchat/internal/channel"
	"github.com/omochice/cipherchat/internal/history"
	"github.com/omochice/cipherchat/internal/messages"
	"github.com/omochice/cipherchat/internal/presence"
	"github.com/omochice/cipherchat/internal/rooms"
	"github.com/omochice/cipherchat/pkg/protocol"
	"github.com/samber/lo"
)

//go:generate go run go.uber.org/mock/mockgen -source=controller.go -destination=mocks/mock_controller.go -package=mocks

var (
	ErrNoActiveRoom = errors.New("no active room")
	ErrUnknownRoom  = errors.New("unknown room")
	ErrEmptyMessage = errors.New("message is empty")
	ErrInvalidRoom  = errors.New("invalid room")
	ErrNoIdentity   = errors.New("no identity")
	ErrNotStarted   = errors.New("controller not started")
)

// Channel is the realtime session the controller drives.
type Channel interface {
	Connect(ctx context.Context, identity protocol.Identity) error
	Disconnect()
	Send(ctx context.Context, ev protocol.Event) error
	State() channel.State
	SubscribeAll(h channel.Handler) func()
	OnStateChange(f func(channel.State)) func()
}

// Backend is the REST side: room listing and profiles.
type Backend interface {
	ListRooms(ctx context.Context) ([]protocol.Room, error)
	GetProfile(ctx context.Context, id string) (api.Profile, error)
	UpdateProfile(ctx context.Context, p api.Profile) (api.Profile, error)
}

// History restores a room from the local ciphertext cache.
type History interface {
	Load(roomID string, limit int) ([]protocol.WireMessage, error)
}

type Config struct {
	TypingTimeout  time.Duration
	PresenceWindow time.Duration
	HistoryLimit   int
}

// ChangeKind tells a presentation layer which part of the state moved.
type ChangeKind int

const (
	RoomsChanged ChangeKind = iota
	MessagesChanged
	TypingChanged
	ProfileChanged
	StateChanged
)

func (k ChangeKind) String() string {
	switch k {
	case RoomsChanged:
		return "rooms"
	case MessagesChanged:
		return "messages"
	case TypingChanged:
		return "typing"
	case ProfileChanged:
		return "profile"
	case StateChanged:
		return "state"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is delivered to OnChange listeners. RoomID is set for room scoped
// changes.
type Change struct {
	Kind   ChangeKind
	RoomID string
}

type Option func(*Controller)

func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithClock drives the typing debouncer and tracker.
func WithClock(clock presence.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

type listener struct {
	fn func(Change)
}

// Controller is the composition root of the client. Inbound events are
// applied on the session's reader goroutine; the operations may be called
// from any goroutine.
type Controller struct {
	cfg     Config
	ch      Channel
	backend Backend
	store   *messages.Store
	history History
	clock   presence.Clock
	log     *slog.Logger

	dir       *rooms.Directory
	debouncer *presence.Debouncer
	typing    *presence.Tracker
	unsub     []func()

	mu         sync.RWMutex
	identity   protocol.Identity
	started    bool
	profile    api.Profile
	hasProfile bool
	marked     map[string]struct{}

	lmu       sync.RWMutex
	listeners []*listener
}

// New wires a controller around ch. It subscribes to ch immediately; Close
// releases the subscriptions.
func New(cfg Config, ch Channel, backend Backend, store *messages.Store, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg,
		ch:      ch,
		backend: backend,
		store:   store,
		clock:   presence.RealClock{},
		log:     slog.Default(),
		dir:     rooms.NewDirectory(""),
		marked:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.HistoryLimit <= 0 {
		c.cfg.HistoryLimit = history.DefaultLimit
	}

	c.debouncer = presence.NewDebouncer(c.clock, c.cfg.TypingTimeout, c.emitTyping)
	c.typing = presence.NewTracker(c.clock, c.cfg.PresenceWindow)
	c.unsub = []func(){
		ch.SubscribeAll(c.handle),
		ch.OnStateChange(c.stateChanged),
	}
	return c
}

// Start connects as identity and loads the rooms the identity belongs to.
func (c *Controller) Start(ctx context.Context, identity protocol.Identity) error {
	if identity.ID == "" {
		return ErrNoIdentity
	}

	c.mu.Lock()
	c.identity = identity
	c.started = true
	c.profile, c.hasProfile = api.Profile{}, false
	clear(c.marked)
	c.mu.Unlock()
	c.dir.Reset(identity.ID)
	c.typing.Reset()

	if err := c.ch.Connect(ctx, identity); err != nil {
		return err
	}

	list, err := c.backend.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rooms: %w", err)
	}
	for _, r := range list {
		c.dir.Upsert(r)
	}
	c.log.Info("rooms loaded", "count", len(list))
	c.emit(Change{Kind: RoomsChanged})
	return nil
}

// Stop closes any outstanding typing signal and disconnects.
func (c *Controller) Stop() {
	c.debouncer.Cancel()
	c.ch.Disconnect()
}

// Close stops the controller and releases its channel subscriptions.
func (c *Controller) Close() {
	c.Stop()
	for _, f := range c.unsub {
		f()
	}
	c.unsub = nil
}

// SendText submits text to the active room.
func (c *Controller) SendText(ctx context.Context, text string) (messages.Message, error) {
	if strings.TrimSpace(text) == "" {
		return messages.Message{}, ErrEmptyMessage
	}
	room, ok := c.dir.Active()
	if !ok {
		return messages.Message{}, ErrNoActiveRoom
	}
	return c.submit(ctx, room.ID, text, protocol.KindText)
}

// SendAttachment encodes raw as a data URL and submits it to the active room.
// An empty kind is inferred from the content.
func (c *Controller) SendAttachment(ctx context.Context, kind protocol.Kind, raw []byte) (messages.Message, error) {
	room, ok := c.dir.Active()
	if !ok {
		return messages.Message{}, ErrNoActiveRoom
	}
	kind, content, err := attachment.Encode(kind, raw)
	if err != nil {
		return messages.Message{}, err
	}
	return c.submit(ctx, room.ID, content, kind)
}

func (c *Controller) submit(ctx context.Context, roomID, content string, kind protocol.Kind) (messages.Message, error) {
	identity, err := c.self()
	if err != nil {
		return messages.Message{}, err
	}

	w, err := c.store.SubmitLocal(roomID, content, kind, identity)
	if err != nil {
		return messages.Message{}, err
	}
	c.debouncer.Cancel()

	if err := c.ch.Send(ctx, protocol.SendChatMessage{
		ID:        w.ID,
		RoomID:    w.RoomID,
		Content:   w.Content,
		Kind:      w.Kind,
		CreatedAt: w.CreatedAt,
	}); err != nil {
		return messages.Message{}, err
	}
	c.emit(Change{Kind: MessagesChanged, RoomID: roomID})

	m, _ := c.store.Get(w.ID)
	return m, nil
}

// OpenRoom makes id the active room. A room opened for the first time is
// restored from history, if configured, and requested from the server.
func (c *Controller) OpenRoom(ctx context.Context, id string) error {
	if _, ok := c.dir.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, id)
	}
	if prev, ok := c.dir.Active(); ok && prev.ID != id {
		c.debouncer.Cancel()
	}
	c.dir.SetActive(id)
	c.emit(Change{Kind: RoomsChanged, RoomID: id})

	if c.store.IsOpen(id) {
		return nil
	}
	c.restore(id)
	c.emit(Change{Kind: MessagesChanged, RoomID: id})
	return c.ch.Send(ctx, protocol.JoinRoom{RoomID: id})
}

func (c *Controller) restore(roomID string) {
	if c.history == nil {
		c.store.Open(roomID)
		return
	}
	cached, err := c.history.Load(roomID, c.cfg.HistoryLimit)
	if err != nil {
		c.log.Warn("failed to load history", "room", roomID, "error", err)
		c.store.Open(roomID)
		return
	}
	c.store.Restore(roomID, cached)
}

// CreateRoom asks the server for a new room with the local identity and
// members. The room shows up once the server announces it.
func (c *Controller) CreateRoom(ctx context.Context, name string, members []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRoom)
	}
	identity, err := c.self()
	if err != nil {
		return err
	}
	members = lo.Uniq(lo.Compact(append([]string{identity.ID}, members...)))
	return c.ch.Send(ctx, protocol.CreateRoom{RoomName: name, Members: members})
}

// JoinRoom asks to join id. The server answers with the room history.
func (c *Controller) JoinRoom(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRoom)
	}
	if _, err := c.self(); err != nil {
		return err
	}
	c.store.Open(id)
	return c.ch.Send(ctx, protocol.JoinRoom{RoomID: id})
}

// LeaveRoom leaves id and forgets it locally.
func (c *Controller) LeaveRoom(ctx context.Context, id string) error {
	if _, ok := c.dir.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, id)
	}
	c.debouncer.Cancel()
	if err := c.ch.Send(ctx, protocol.LeaveRoom{RoomID: id}); err != nil {
		return err
	}
	c.forget(id)
	return nil
}

func (c *Controller) forget(roomID string) {
	c.dir.Remove(roomID)
	c.store.Drop(roomID)
	c.typing.Clear(roomID)
	c.emit(Change{Kind: RoomsChanged, RoomID: roomID})
}

// SetTyping records local composing activity in the active room.
func (c *Controller) SetTyping() error {
	room, ok := c.dir.Active()
	if !ok {
		return ErrNoActiveRoom
	}
	c.debouncer.Tick(room.ID)
	return nil
}

func (c *Controller) emitTyping(roomID string, typing bool) {
	if err := c.ch.Send(context.Background(), protocol.Typing{RoomID: roomID, IsTyping: typing}); err != nil {
		c.log.Warn("failed to send typing signal", "room", roomID, "error", err)
	}
}

// SearchMessages returns the active room's messages whose content or author
// name contains query.
func (c *Controller) SearchMessages(query string) []messages.Message {
	room, ok := c.dir.Active()
	if !ok {
		return nil
	}
	return slices.Collect(c.store.Filter(room.ID, messages.MatchText(query)))
}

// MarkRead reports every message in the active room written by someone else
// as read. Messages already reported on the current connection are skipped;
// while disconnected nothing is reported.
func (c *Controller) MarkRead(ctx context.Context) error {
	room, ok := c.dir.Active()
	if !ok {
		return ErrNoActiveRoom
	}
	identity, err := c.self()
	if err != nil {
		return err
	}
	if c.ch.State() != channel.Connected {
		c.log.Debug("not reporting reads while disconnected", "room", room.ID)
		return nil
	}

	var ids []string
	c.mu.RLock()
	for m := range c.store.Filter(room.ID, nil) {
		if m.Author.ID == identity.ID || m.Pending {
			continue
		}
		if _, done := c.marked[m.ID]; done {
			continue
		}
		ids = append(ids, m.ID)
	}
	c.mu.RUnlock()

	for _, id := range ids {
		if err := c.ch.Send(ctx, protocol.MarkRead{RoomID: room.ID, MessageID: id}); err != nil {
			return err
		}
		// a failed write drops the session without an error
		if c.ch.State() != channel.Connected {
			return nil
		}
		c.mu.Lock()
		c.marked[id] = struct{}{}
		c.mu.Unlock()
	}
	return nil
}

// Rooms lists the known rooms.
func (c *Controller) Rooms() []protocol.Room {
	return c.dir.List()
}

func (c *Controller) ActiveRoom() (protocol.Room, bool) {
	return c.dir.Active()
}

// Messages returns the active room's messages.
func (c *Controller) Messages() []messages.Message {
	room, ok := c.dir.Active()
	if !ok {
		return nil
	}
	return c.store.Messages(room.ID)
}

// Typing returns the remote identities composing in the active room.
func (c *Controller) Typing() []string {
	room, ok := c.dir.Active()
	if !ok {
		return nil
	}
	return c.typing.Typing(room.ID)
}

func (c *Controller) State() channel.State {
	return c.ch.State()
}

func (c *Controller) Identity() protocol.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Profile returns the cached profile of the local identity.
func (c *Controller) Profile() (api.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile, c.hasProfile
}

// LoadProfile fetches the local identity's profile into the cache.
func (c *Controller) LoadProfile(ctx context.Context) (api.Profile, error) {
	identity, err := c.self()
	if err != nil {
		return api.Profile{}, err
	}
	p, err := c.backend.GetProfile(ctx, identity.ID)
	if err != nil {
		return api.Profile{}, err
	}
	c.setProfile(p)
	return p, nil
}

// UpdateProfile stores p as the local identity's profile. The cache takes
// the server's answer verbatim and is left untouched on failure.
func (c *Controller) UpdateProfile(ctx context.Context, p api.Profile) (api.Profile, error) {
	identity, err := c.self()
	if err != nil {
		return api.Profile{}, err
	}
	p.ID = identity.ID
	updated, err := c.backend.UpdateProfile(ctx, p)
	if err != nil {
		return api.Profile{}, err
	}
	c.setProfile(updated)
	return updated, nil
}

func (c *Controller) setProfile(p api.Profile) {
	c.mu.Lock()
	c.profile, c.hasProfile = p, true
	c.mu.Unlock()
	c.emit(Change{Kind: ProfileChanged})
}

// OnChange registers f to be told about state changes. The returned func
// removes it.
func (c *Controller) OnChange(f func(Change)) func() {
	l := &listener{fn: f}
	c.lmu.Lock()
	c.listeners = append(c.listeners, l)
	c.lmu.Unlock()

	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		c.listeners = slices.DeleteFunc(c.listeners, func(x *listener) bool { return x == l })
	}
}

func (c *Controller) emit(change Change) {
	c.lmu.RLock()
	ls := slices.Clone(c.listeners)
	c.lmu.RUnlock()

	for _, l := range ls {
		l.fn(change)
	}
}

func (c *Controller) self() (protocol.Identity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.started {
		return protocol.Identity{}, ErrNotStarted
	}
	return c.identity, nil
}
