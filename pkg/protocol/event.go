package protocol

import "time"

// EventName is the wire name of a realtime event.
type EventName string

const (
	EventInitialMessages      EventName = "initial messages"
	EventChatMessage          EventName = "chat message"
	EventUserTyping           EventName = "user typing"
	EventTyping               EventName = "typing"
	EventMessageStatusUpdated EventName = "message status updated"
	EventRoomCreated          EventName = "room created"
	EventCreateRoom           EventName = "create room"
	EventUserJoined           EventName = "user joined"
	EventUserLeft             EventName = "user left"
	EventJoinRoom             EventName = "join room"
	EventLeaveRoom            EventName = "leave room"
	EventMarkRead             EventName = "mark read"
)

// Direction tells which peer emits an event. Inbound events flow from the
// server to the client, Outbound from the client to the server.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Event is the closed set of realtime events. Only types in this package
// implement it, so a type switch over Event can be exhaustive.
type Event interface {
	Name() EventName
	Direction() Direction
	isEvent()
}

// InitialMessages seeds a room with its history, replacing prior content.
type InitialMessages struct {
	RoomID   string        `json:"roomId" validate:"required"`
	Messages []WireMessage `json:"messages" validate:"dive"`
}

// ChatMessage delivers one message to the client.
type ChatMessage struct {
	Message WireMessage `json:"message"`
}

// SendChatMessage asks the server to persist and broadcast a message. The id
// is generated by the client and stays the message id on every peer.
type SendChatMessage struct {
	ID        string    `json:"id" validate:"required"`
	RoomID    string    `json:"roomId" validate:"required"`
	Content   string    `json:"content" validate:"required"`
	Kind      Kind      `json:"kind" validate:"omitempty,oneof=text image video file"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserTyping reports composing activity of a remote identity. RoomID may be
// empty, in which case the receiver attributes it to its active room.
type UserTyping struct {
	UserID   string `json:"userId" validate:"required"`
	RoomID   string `json:"roomId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// Typing is the local presence signal.
type Typing struct {
	RoomID   string `json:"roomId" validate:"required"`
	IsTyping bool   `json:"isTyping"`
}

// MessageStatusUpdated moves a message along its delivery lifecycle.
type MessageStatusUpdated struct {
	MessageID string `json:"messageId" validate:"required"`
	Status    Status `json:"status"`
}

// RoomCreated announces a room the local user is a member of.
type RoomCreated struct {
	Room Room `json:"room"`
}

// CreateRoom requests creation of a room.
type CreateRoom struct {
	RoomName string   `json:"name" validate:"required"`
	Members  []string `json:"members"`
}

// UserJoined is a membership delta adding UserID to RoomID.
type UserJoined struct {
	UserID string `json:"userId" validate:"required"`
	RoomID string `json:"roomId" validate:"required"`
}

// UserLeft is a membership delta removing UserID from RoomID.
type UserLeft struct {
	UserID string `json:"userId" validate:"required"`
	RoomID string `json:"roomId" validate:"required"`
}

// JoinRoom is the local intent to join a room. The server answers with
// initial messages for the room.
type JoinRoom struct {
	RoomID string `json:"roomId" validate:"required"`
}

// LeaveRoom is the local intent to leave a room.
type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"required"`
}

// MarkRead tells the server the local user has seen a message.
type MarkRead struct {
	RoomID    string `json:"roomId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
}

func (InitialMessages) Name() EventName      { return EventInitialMessages }
func (ChatMessage) Name() EventName          { return EventChatMessage }
func (SendChatMessage) Name() EventName      { return EventChatMessage }
func (UserTyping) Name() EventName           { return EventUserTyping }
func (Typing) Name() EventName               { return EventTyping }
func (MessageStatusUpdated) Name() EventName { return EventMessageStatusUpdated }
func (RoomCreated) Name() EventName          { return EventRoomCreated }
func (CreateRoom) Name() EventName           { return EventCreateRoom }
func (UserJoined) Name() EventName           { return EventUserJoined }
func (UserLeft) Name() EventName             { return EventUserLeft }
func (JoinRoom) Name() EventName             { return EventJoinRoom }
func (LeaveRoom) Name() EventName            { return EventLeaveRoom }
func (MarkRead) Name() EventName             { return EventMarkRead }

func (InitialMessages) Direction() Direction      { return Inbound }
func (ChatMessage) Direction() Direction          { return Inbound }
func (SendChatMessage) Direction() Direction      { return Outbound }
func (UserTyping) Direction() Direction           { return Inbound }
func (Typing) Direction() Direction               { return Outbound }
func (MessageStatusUpdated) Direction() Direction { return Inbound }
func (RoomCreated) Direction() Direction          { return Inbound }
func (CreateRoom) Direction() Direction           { return Outbound }
func (UserJoined) Direction() Direction           { return Inbound }
func (UserLeft) Direction() Direction             { return Inbound }
func (JoinRoom) Direction() Direction             { return Outbound }
func (LeaveRoom) Direction() Direction            { return Outbound }
func (MarkRead) Direction() Direction             { return Outbound }

func (InitialMessages) isEvent()      {}
func (ChatMessage) isEvent()          {}
func (SendChatMessage) isEvent()      {}
func (UserTyping) isEvent()           {}
func (Typing) isEvent()               {}
func (MessageStatusUpdated) isEvent() {}
func (RoomCreated) isEvent()          {}
func (CreateRoom) isEvent()           {}
func (UserJoined) isEvent()           {}
func (UserLeft) isEvent()             {}
func (JoinRoom) isEvent()             {}
func (LeaveRoom) isEvent()            {}
func (MarkRead) isEvent()             {}
