package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedPayload = errors.New("malformed payload")
)

var validate = validator.New()

// Codec converts events to and from transport frames.
type Codec interface {
	// Name identifies the codec in configuration and in the websocket subprotocol.
	Name() string

	// Binary reports whether frames should travel as binary websocket messages.
	Binary() bool

	Marshal(ev Event) ([]byte, error)

	// Unmarshal decodes a frame into an event flowing in the codec's accepted
	// direction. Unknown names yield ErrUnknownEvent, invalid payloads
	// ErrMalformedPayload.
	Unmarshal(data []byte) (Event, error)
}

const (
	CodecJSON  = "json"
	CodecProto = "proto"
)

// NewCodec returns the codec registered under name that decodes events
// travelling in the accept direction.
func NewCodec(name string, accept Direction) (Codec, error) {
	switch name {
	case CodecJSON, "":
		return JSONCodec{accept: accept}, nil
	case CodecProto:
		return ProtoCodec{accept: accept}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

const subprotocolPrefix = "cipherchat.v1+"

// Subprotocol returns the websocket subprotocol advertising c.
func Subprotocol(c Codec) string {
	return subprotocolPrefix + c.Name()
}

// Subprotocols lists every subprotocol a server can accept.
func Subprotocols() []string {
	return []string{subprotocolPrefix + CodecJSON, subprotocolPrefix + CodecProto}
}

// CodecForSubprotocol resolves a negotiated subprotocol. An empty
// subprotocol falls back to JSON.
func CodecForSubprotocol(sub string, accept Direction) (Codec, error) {
	if sub == "" {
		return NewCodec(CodecJSON, accept)
	}
	if len(sub) <= len(subprotocolPrefix) || sub[:len(subprotocolPrefix)] != subprotocolPrefix {
		return nil, fmt.Errorf("unsupported subprotocol %q", sub)
	}
	return NewCodec(sub[len(subprotocolPrefix):], accept)
}

type envelope struct {
	Event   EventName       `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// JSONCodec frames events as {"event": name, "payload": {...}} text messages.
type JSONCodec struct {
	accept Direction
}

func (JSONCodec) Name() string { return CodecJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Marshal(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q payload: %w", ev.Name(), err)
	}
	data, err := json.Marshal(envelope{Event: ev.Name(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q envelope: %w", ev.Name(), err)
	}
	return data, nil
}

func (c JSONCodec) Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return decodeEvent(c.accept, env.Event, env.Payload)
}

// ProtoCodec frames the same envelope as a protobuf google.protobuf.Struct
// carried in binary messages.
type ProtoCodec struct {
	accept Direction
}

func (ProtoCodec) Name() string { return CodecProto }
func (ProtoCodec) Binary() bool { return true }

func (ProtoCodec) Marshal(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q payload: %w", ev.Name(), err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to encode %q payload: %w", ev.Name(), err)
	}
	st, err := structpb.NewStruct(map[string]any{
		"event":   string(ev.Name()),
		"payload": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q envelope: %w", ev.Name(), err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

func (c ProtoCodec) Unmarshal(data []byte) (Event, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	fields := st.GetFields()
	name := EventName(fields["event"].GetStringValue())
	payload := fields["payload"].GetStructValue()
	if payload == nil {
		return nil, fmt.Errorf("%w: %q has no payload", ErrMalformedPayload, name)
	}
	raw, err := json.Marshal(payload.AsMap())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return decodeEvent(c.accept, name, raw)
}

type decoder func(json.RawMessage) (Event, error)

var decoders = map[Direction]map[EventName]decoder{
	Inbound: {
		EventInitialMessages:      decodeAs[InitialMessages],
		EventChatMessage:          decodeAs[ChatMessage],
		EventUserTyping:           decodeAs[UserTyping],
		EventMessageStatusUpdated: decodeAs[MessageStatusUpdated],
		EventRoomCreated:          decodeAs[RoomCreated],
		EventUserJoined:           decodeAs[UserJoined],
		EventUserLeft:             decodeAs[UserLeft],
	},
	Outbound: {
		EventChatMessage: decodeAs[SendChatMessage],
		EventTyping:      decodeAs[Typing],
		EventCreateRoom:  decodeAs[CreateRoom],
		EventJoinRoom:    decodeAs[JoinRoom],
		EventLeaveRoom:   decodeAs[LeaveRoom],
		EventMarkRead:    decodeAs[MarkRead],
	},
}

func decodeEvent(accept Direction, name EventName, payload json.RawMessage) (Event, error) {
	decode, ok := decoders[accept][name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnknownEvent, name, accept)
	}
	return decode(payload)
}

func decodeAs[T Event](payload json.RawMessage) (Event, error) {
	var ev T
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: %q has no payload", ErrMalformedPayload, ev.Name())
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedPayload, ev.Name(), err)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedPayload, ev.Name(), err)
	}
	return normalize(ev), nil
}

// normalize fills wire defaults so handlers never see an empty kind.
func normalize(ev Event) Event {
	switch e := ev.(type) {
	case InitialMessages:
		for i := range e.Messages {
			e.Messages[i].normalize()
		}
		return e
	case ChatMessage:
		e.Message.normalize()
		return e
	case SendChatMessage:
		if e.Kind == "" {
			e.Kind = KindText
		}
		return e
	default:
		return ev
	}
}
