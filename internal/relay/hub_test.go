package relay

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/omochice/cipherchat/pkg/protocol"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestHub(opts ...HubOption) *Hub {
	seq := 0
	base := []HubOption{
		WithLogger(logs.GetLoggerFromLevel(slog.LevelDebug)),
		WithIDs(func() string { seq++; return fmt.Sprintf("room-%d", seq) }),
		WithClock(func() time.Time { return epoch }),
	}
	return NewHub(append(base, opts...)...)
}

func newTestClient(id string) *Client {
	return NewClient(nil, protocol.Identity{ID: id, Name: id}, nil)
}

// drain returns the events queued for c.
func drain(c *Client) []protocol.Event {
	var evs []protocol.Event
	for {
		select {
		case ev := <-c.Outgoing:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestHub_Register(t *testing.T) {
	hub := newTestHub()
	hub.Register(newTestClient("u-alice"))

	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}

func TestHub_Register_MultipleClients(t *testing.T) {
	hub := newTestHub()
	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = newTestClient("user")
		hub.Register(clients[i])
	}

	if got := hub.ClientCount(); got != 3 {
		t.Errorf("ClientCount() = %d, want 3", got)
	}

	hub.Unregister(clients[0])
	if got := hub.ClientCount(); got != 2 {
		t.Errorf("ClientCount() = %d, want 2", got)
	}
}

func TestHub_OpenRoomsAndProfiles(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(WithOpenRooms("general", ""))

	hub.Register(NewClient(nil, protocol.Identity{ID: "u-alice", Name: "Alice"}, nil))
	hub.Enroll(protocol.Identity{ID: "u-bob"})

	req.Equal([]protocol.Room{{ID: "general", Name: "general", Members: []string{"u-alice", "u-bob"}}}, hub.Rooms("u-alice"))
	p, ok := hub.Profile("u-alice")
	req.True(ok)
	req.Equal("Alice", p.Name)
	p, _ = hub.Profile("u-bob")
	req.Equal("u-bob", p.Name)

	// enrolling again keeps an edited profile
	p.Name = "Bob"
	hub.PutProfile(p)
	hub.Enroll(protocol.Identity{ID: "u-bob"})
	p, _ = hub.Profile("u-bob")
	req.Equal("Bob", p.Name)
	req.Empty(hub.Rooms("u-carol"))
}

func TestHub_CreateAndJoin(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	alice, bob, carol := newTestClient("u-alice"), newTestClient("u-bob"), newTestClient("u-carol")
	hub.Register(alice)
	hub.Register(bob)
	hub.Register(carol)

	hub.Handle(alice, protocol.CreateRoom{RoomName: "team", Members: []string{"u-bob", "u-alice"}})
	created := protocol.RoomCreated{Room: protocol.Room{ID: "room-1", Name: "team", Members: []string{"u-alice", "u-bob"}}}
	req.Equal([]protocol.Event{created}, drain(alice))
	req.Equal([]protocol.Event{created}, drain(bob))
	req.Empty(drain(carol))

	hub.Handle(alice, protocol.SendChatMessage{ID: "m1", RoomID: "room-1", Content: "ct", Kind: protocol.KindText})
	drain(alice)
	drain(bob)

	hub.Handle(carol, protocol.JoinRoom{RoomID: "room-1"})
	joined := protocol.UserJoined{UserID: "u-carol", RoomID: "room-1"}
	req.Equal([]protocol.Event{joined}, drain(alice))
	req.Equal([]protocol.Event{joined}, drain(bob))
	evs := drain(carol)
	req.Len(evs, 2)
	req.Equal(joined, evs[0])
	initial, ok := evs[1].(protocol.InitialMessages)
	req.True(ok)
	req.Equal("room-1", initial.RoomID)
	req.Len(initial.Messages, 1)
	req.Equal("m1", initial.Messages[0].ID)

	// a member asking again only gets the history
	hub.Handle(carol, protocol.JoinRoom{RoomID: "room-1"})
	req.Empty(drain(alice))
	req.Len(drain(carol), 1)

	// unknown rooms are created on join
	hub.Handle(bob, protocol.JoinRoom{RoomID: "lobby"})
	req.Equal([]protocol.Event{
		protocol.UserJoined{UserID: "u-bob", RoomID: "lobby"},
		protocol.InitialMessages{RoomID: "lobby"},
	}, drain(bob))
}

func TestHub_ChatMessage(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(WithOpenRooms("general"))
	alice, bob := newTestClient("u-alice"), newTestClient("u-bob")
	hub.Register(alice)
	hub.Enroll(bob.Identity)

	send := protocol.SendChatMessage{ID: "m1", RoomID: "general", Content: "ct", Kind: protocol.KindText}

	// Given bob is offline
	hub.Handle(alice, send)
	evs := drain(alice)
	req.Len(evs, 1)
	msg := evs[0].(protocol.ChatMessage).Message
	req.Equal("m1", msg.ID)
	req.Equal(protocol.Identity{ID: "u-alice", Name: "u-alice"}, msg.Author)
	req.Equal(epoch, msg.CreatedAt)
	req.Equal(protocol.StatusSent, msg.Status)

	// When the same id is sent again, it is ignored
	hub.Handle(alice, send)
	req.Empty(drain(alice))

	// When bob is online, alice is told it was delivered
	hub.Register(bob)
	createdAt := epoch.Add(time.Minute)
	hub.Handle(alice, protocol.SendChatMessage{ID: "m2", RoomID: "general", Content: "ct2", CreatedAt: createdAt})
	evs = drain(alice)
	req.Len(evs, 2)
	req.Equal(createdAt, evs[0].(protocol.ChatMessage).Message.CreatedAt)
	req.Equal(protocol.MessageStatusUpdated{MessageID: "m2", Status: protocol.StatusDelivered}, evs[1])
	req.Len(drain(bob), 1)

	// non-members cannot post
	carol := newTestClient("u-carol")
	hub.Handle(carol, protocol.SendChatMessage{ID: "m3", RoomID: "general", Content: "x"})
	req.Empty(drain(alice))
}

func TestHub_TypingGoesToOthers(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(WithOpenRooms("general"))
	alice, bob := newTestClient("u-alice"), newTestClient("u-bob")
	hub.Register(alice)
	hub.Register(bob)

	hub.Handle(alice, protocol.Typing{RoomID: "general", IsTyping: true})
	req.Empty(drain(alice))
	req.Equal([]protocol.Event{protocol.UserTyping{UserID: "u-alice", RoomID: "general", IsTyping: true}}, drain(bob))

	hub.Handle(alice, protocol.Typing{RoomID: "elsewhere", IsTyping: true})
	req.Empty(drain(bob))
}

func TestHub_Leave(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(WithOpenRooms("general"))
	alice, bob := newTestClient("u-alice"), newTestClient("u-bob")
	hub.Register(alice)
	hub.Register(bob)

	hub.Handle(alice, protocol.LeaveRoom{RoomID: "general"})
	left := protocol.UserLeft{UserID: "u-alice", RoomID: "general"}
	req.Equal([]protocol.Event{left}, drain(alice))
	req.Equal([]protocol.Event{left}, drain(bob))
	req.Empty(hub.Rooms("u-alice"))

	hub.Handle(alice, protocol.LeaveRoom{RoomID: "general"})
	req.Empty(drain(bob))
}

func TestHub_MarkRead(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(WithOpenRooms("general"))
	alice, bob := newTestClient("u-alice"), newTestClient("u-bob")
	hub.Register(alice)
	hub.Register(bob)
	hub.Handle(alice, protocol.SendChatMessage{ID: "m1", RoomID: "general", Content: "ct"})
	drain(alice)
	drain(bob)

	hub.Handle(alice, protocol.MarkRead{RoomID: "general", MessageID: "m1"})
	req.Empty(drain(alice))

	hub.Handle(bob, protocol.MarkRead{RoomID: "general", MessageID: "m1"})
	req.Equal([]protocol.Event{protocol.MessageStatusUpdated{MessageID: "m1", Status: protocol.StatusRead}}, drain(alice))

	hub.Handle(bob, protocol.MarkRead{RoomID: "general", MessageID: "m1"})
	hub.Handle(bob, protocol.MarkRead{RoomID: "general", MessageID: "missing"})
	req.Empty(drain(alice))
}

func TestHub_SkipsFullQueue(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(WithOpenRooms("general"))
	alice, bob := newTestClient("u-alice"), newTestClient("u-bob")
	hub.Register(alice)
	hub.Register(bob)

	for i := range OutgoingBuffer + 5 {
		hub.Handle(alice, protocol.Typing{RoomID: "general", IsTyping: i%2 == 0})
	}
	req.Len(drain(bob), OutgoingBuffer)
}
