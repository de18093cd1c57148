package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Identity is the local or remote user as supplied by the session provider.
type Identity struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Room is a named group conversation. Members is a set; order carries no meaning.
type Room struct {
	ID      string   `json:"id" validate:"required"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Kind represents the kind of content carried by a message
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindFile  Kind = "file"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindFile:
		return true
	default:
		return false
	}
}

// ParseKind converts a wire string to a Kind. An empty string is read as text.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindText, nil
	}
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown content kind %q", s)
	}
	return k, nil
}

// Status is the delivery stage of a message. The zero value is StatusSent and
// the constants are declared in lifecycle order.
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusRead
)

// String returns the wire representation of Status
func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// Before reports whether s is an earlier lifecycle stage than other.
func (s Status) Before(other Status) bool {
	return s < other
}

// ParseStatus converts a wire string to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "sent":
		return StatusSent, nil
	case "delivered":
		return StatusDelivered, nil
	case "read":
		return StatusRead, nil
	default:
		return 0, fmt.Errorf("unknown delivery status %q", s)
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	if s < StatusSent || s > StatusRead {
		return nil, fmt.Errorf("invalid delivery status %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("delivery status must be a string: %w", err)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// WireMessage is a chat message as it travels on the channel. Content is
// always ciphertext.
type WireMessage struct {
	ID        string    `json:"id" validate:"required"`
	RoomID    string    `json:"roomId" validate:"required"`
	Author    Identity  `json:"author"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind" validate:"omitempty,oneof=text image video file"`
	CreatedAt time.Time `json:"createdAt"`
	Status    Status    `json:"status"`
}

// normalize fills defaults a peer may have omitted.
func (m *WireMessage) normalize() {
	if m.Kind == "" {
		m.Kind = KindText
	}
}
