// Package relay is an in-memory development server speaking the realtime
// chat protocol and the room and profile REST endpoints.
package relay

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/cipherchat/internal/api"
	"github.com/omochice/cipherchat/internal/channel"
	"github.com/omochice/cipherchat/pkg/protocol"
	"github.com/samber/lo"
)

// OutgoingBuffer is the number of events queued per client before the hub
// starts skipping it.
const OutgoingBuffer = 64

// Client represents one authenticated realtime connection.
type Client struct {
	Conn     channel.Conn
	Identity protocol.Identity
	Codec    protocol.Codec
	Outgoing chan protocol.Event
}

// NewClient creates a client with a buffered outgoing queue.
func NewClient(conn channel.Conn, identity protocol.Identity, codec protocol.Codec) *Client {
	return &Client{
		Conn:     conn,
		Identity: identity,
		Codec:    codec,
		Outgoing: make(chan protocol.Event, OutgoingBuffer),
	}
}

type room struct {
	protocol.Room
	messages []protocol.WireMessage
	pos      map[string]int
}

type HubOption func(*Hub)

func WithLogger(log *slog.Logger) HubOption {
	return func(h *Hub) { h.log = log }
}

// WithIDs overrides the generator of room ids.
func WithIDs(newID func() string) HubOption {
	return func(h *Hub) { h.newID = newID }
}

func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// WithOpenRooms creates rooms every identity joins when it first connects.
func WithOpenRooms(names ...string) HubOption {
	return func(h *Hub) {
		for _, name := range lo.Compact(names) {
			h.rooms[name] = &room{Room: protocol.Room{ID: name, Name: name}, pos: make(map[string]int)}
			h.open = append(h.open, name)
		}
	}
}

// Hub owns every connected client and the relay state. All realtime events
// are applied under one lock, so each room sees a single order.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	rooms    map[string]*room
	index    map[string]string
	profiles map[string]api.Profile
	open     []string

	log   *slog.Logger
	newID func() string
	now   func() time.Time
}

// NewHub creates a new Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:  make(map[*Client]bool),
		rooms:    make(map[string]*room),
		index:    make(map[string]string),
		profiles: make(map[string]api.Profile),
		log:      slog.Default(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a client to the hub and enrolls its identity.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.enroll(client.Identity)
	h.log.Info("client registered", "user", client.Identity.ID, "clients", len(h.clients))
}

// Enroll gives a first-time identity its default profile and membership of
// the open rooms. Repeated calls change nothing.
func (h *Hub) Enroll(identity protocol.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enroll(identity)
}

func (h *Hub) enroll(identity protocol.Identity) {
	id := identity.ID
	if _, ok := h.profiles[id]; ok {
		return
	}
	h.profiles[id] = api.Profile{ID: id, Name: cmp.Or(identity.Name, id), Image: identity.Image}
	for _, roomID := range h.open {
		r := h.rooms[roomID]
		if r != nil && !slices.Contains(r.Members, id) {
			r.Members = append(r.Members, id)
		}
	}
}

// Unregister removes a client from the hub. No event is queued for it
// afterwards.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns the connected clients.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Keys(h.clients)
}

// Rooms lists the rooms userID is a member of, by name then id.
func (h *Hub) Rooms(userID string) []protocol.Room {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var list []protocol.Room
	for _, r := range h.rooms {
		if slices.Contains(r.Members, userID) {
			list = append(list, cloneRoom(r.Room))
		}
	}
	slices.SortFunc(list, func(a, b protocol.Room) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return list
}

func (h *Hub) Profile(id string) (api.Profile, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.profiles[id]
	return p, ok
}

// PutProfile stores p and returns the stored copy.
func (h *Hub) PutProfile(p api.Profile) api.Profile {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.profiles[p.ID] = p
	return p
}

// Handle applies one event received from client.
func (h *Hub) Handle(client *Client, ev protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	self := client.Identity.ID
	switch ev := ev.(type) {
	case protocol.SendChatMessage:
		h.chatMessage(self, ev)

	case protocol.Typing:
		r, ok := h.memberOf(self, ev.RoomID)
		if !ok {
			return
		}
		others := lo.Without(r.Members, self)
		h.send(others, protocol.UserTyping{UserID: self, RoomID: ev.RoomID, IsTyping: ev.IsTyping})

	case protocol.CreateRoom:
		r := &room{
			Room: protocol.Room{
				ID:      h.newID(),
				Name:    ev.RoomName,
				Members: lo.Uniq(lo.Compact(append([]string{self}, ev.Members...))),
			},
			pos: make(map[string]int),
		}
		h.rooms[r.ID] = r
		h.log.Info("room created", "room", r.ID, "name", r.Name, "by", self)
		h.send(r.Members, protocol.RoomCreated{Room: cloneRoom(r.Room)})

	case protocol.JoinRoom:
		r, ok := h.rooms[ev.RoomID]
		if !ok {
			r = &room{Room: protocol.Room{ID: ev.RoomID, Name: ev.RoomID}, pos: make(map[string]int)}
			h.rooms[r.ID] = r
		}
		if !slices.Contains(r.Members, self) {
			r.Members = append(r.Members, self)
			h.send(r.Members, protocol.UserJoined{UserID: self, RoomID: r.ID})
		}
		h.sendTo(client, protocol.InitialMessages{RoomID: r.ID, Messages: slices.Clone(r.messages)})

	case protocol.LeaveRoom:
		r, ok := h.memberOf(self, ev.RoomID)
		if !ok {
			return
		}
		members := r.Members
		r.Members = lo.Without(r.Members, self)
		h.send(members, protocol.UserLeft{UserID: self, RoomID: r.ID})

	case protocol.MarkRead:
		r, ok := h.memberOf(self, ev.RoomID)
		if !ok {
			return
		}
		i, ok := r.pos[ev.MessageID]
		if !ok {
			return
		}
		msg := &r.messages[i]
		if msg.Author.ID == self || !msg.Status.Before(protocol.StatusRead) {
			return
		}
		msg.Status = protocol.StatusRead
		h.send([]string{msg.Author.ID}, protocol.MessageStatusUpdated{MessageID: msg.ID, Status: protocol.StatusRead})

	default:
		h.log.Debug("ignoring event", "event", ev.Name(), "user", self)
	}
}

func (h *Hub) chatMessage(self string, ev protocol.SendChatMessage) {
	r, ok := h.memberOf(self, ev.RoomID)
	if !ok {
		h.log.Debug("message for a room the author is not in", "room", ev.RoomID, "user", self)
		return
	}
	if _, dup := h.index[ev.ID]; dup {
		return
	}

	author := protocol.Identity{ID: self, Name: self}
	if p, ok := h.profiles[self]; ok {
		author.Name, author.Image = p.Name, p.Image
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = h.now().UTC()
	}
	msg := protocol.WireMessage{
		ID:        ev.ID,
		RoomID:    r.ID,
		Author:    author,
		Content:   ev.Content,
		Kind:      ev.Kind,
		CreatedAt: createdAt,
		Status:    protocol.StatusSent,
	}
	r.pos[msg.ID] = len(r.messages)
	r.messages = append(r.messages, msg)
	h.index[msg.ID] = r.ID

	h.send(r.Members, protocol.ChatMessage{Message: msg})

	if h.online(lo.Without(r.Members, self)) {
		r.messages[r.pos[msg.ID]].Status = protocol.StatusDelivered
		h.send([]string{self}, protocol.MessageStatusUpdated{MessageID: msg.ID, Status: protocol.StatusDelivered})
	}
}

func (h *Hub) memberOf(userID, roomID string) (*room, bool) {
	r, ok := h.rooms[roomID]
	if !ok || !slices.Contains(r.Members, userID) {
		return nil, false
	}
	return r, true
}

func (h *Hub) online(userIDs []string) bool {
	for c := range h.clients {
		if slices.Contains(userIDs, c.Identity.ID) {
			return true
		}
	}
	return false
}

// send queues ev for every connected client of userIDs.
func (h *Hub) send(userIDs []string, ev protocol.Event) {
	for c := range h.clients {
		if slices.Contains(userIDs, c.Identity.ID) {
			h.sendTo(c, ev)
		}
	}
}

func (h *Hub) sendTo(c *Client, ev protocol.Event) {
	select {
	case c.Outgoing <- ev:
	default:
		// Channel is full, skip this client
		h.log.Warn("client queue full, skipping", "user", c.Identity.ID, "event", ev.Name())
	}
}

func cloneRoom(r protocol.Room) protocol.Room {
	r.Members = slices.Clone(r.Members)
	return r
}
