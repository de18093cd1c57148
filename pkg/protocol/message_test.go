package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/omochice/cipherchat/pkg/protocol"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		name   string
		status protocol.Status
		want   string
	}{
		{"sent status", protocol.StatusSent, "sent"},
		{"delivered status", protocol.StatusDelivered, "delivered"},
		{"read status", protocol.StatusRead, "read"},
		{"out of range", protocol.Status(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("Status.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_Before(t *testing.T) {
	if !protocol.StatusSent.Before(protocol.StatusDelivered) {
		t.Error("expected sent before delivered")
	}
	if !protocol.StatusDelivered.Before(protocol.StatusRead) {
		t.Error("expected delivered before read")
	}
	if protocol.StatusRead.Before(protocol.StatusDelivered) {
		t.Error("read must not be before delivered")
	}
	if protocol.StatusRead.Before(protocol.StatusRead) {
		t.Error("a status is not before itself")
	}
}

func TestStatus_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    protocol.Status
		wantErr bool
	}{
		{"decode delivered", `"delivered"`, protocol.StatusDelivered, false},
		{"decode read", `"read"`, protocol.StatusRead, false},
		{"reject unknown", `"seen"`, 0, true},
		{"reject number", `2`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got protocol.Status
			err := json.Unmarshal([]byte(tt.data), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Unmarshal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    protocol.Kind
		wantErr bool
	}{
		{"empty defaults to text", "", protocol.KindText, false},
		{"image", "image", protocol.KindImage, false},
		{"video", "video", protocol.KindVideo, false},
		{"file", "file", protocol.KindFile, false},
		{"unknown", "audio", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvent_Directions(t *testing.T) {
	inbound := []protocol.Event{
		protocol.InitialMessages{}, protocol.ChatMessage{}, protocol.UserTyping{},
		protocol.MessageStatusUpdated{}, protocol.RoomCreated{}, protocol.UserJoined{}, protocol.UserLeft{},
	}
	outbound := []protocol.Event{
		protocol.SendChatMessage{}, protocol.Typing{}, protocol.CreateRoom{},
		protocol.JoinRoom{}, protocol.LeaveRoom{}, protocol.MarkRead{},
	}
	for _, ev := range inbound {
		if ev.Direction() != protocol.Inbound {
			t.Errorf("%q: expected inbound", ev.Name())
		}
	}
	for _, ev := range outbound {
		if ev.Direction() != protocol.Outbound {
			t.Errorf("%q: expected outbound", ev.Name())
		}
	}
	if (protocol.ChatMessage{}).Name() != (protocol.SendChatMessage{}).Name() {
		t.Error("chat message must share one wire name in both directions")
	}
}

func sampleMessage() protocol.WireMessage {
	return protocol.WireMessage{
		ID:        "m1",
		RoomID:    "r1",
		Author:    protocol.Identity{ID: "alice", Name: "Alice"},
		Content:   "Y2lwaGVy",
		Kind:      protocol.KindImage,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:    protocol.StatusDelivered,
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	events := []protocol.Event{
		protocol.InitialMessages{RoomID: "r1", Messages: []protocol.WireMessage{sampleMessage()}},
		protocol.ChatMessage{Message: sampleMessage()},
		protocol.UserTyping{UserID: "bob", RoomID: "r1", IsTyping: true},
		protocol.MessageStatusUpdated{MessageID: "m1", Status: protocol.StatusRead},
		protocol.RoomCreated{Room: protocol.Room{ID: "r1", Name: "general", Members: []string{"alice", "bob"}}},
		protocol.UserJoined{UserID: "bob", RoomID: "r1"},
		protocol.UserLeft{UserID: "bob", RoomID: "r1"},
	}

	for _, name := range []string{protocol.CodecJSON, protocol.CodecProto} {
		encoder, err := protocol.NewCodec(name, protocol.Outbound)
		if err != nil {
			t.Fatalf("NewCodec(%q) error = %v", name, err)
		}
		decoder, err := protocol.NewCodec(name, protocol.Inbound)
		if err != nil {
			t.Fatalf("NewCodec(%q) error = %v", name, err)
		}
		for _, ev := range events {
			t.Run(name+"/"+string(ev.Name()), func(t *testing.T) {
				data, err := encoder.Marshal(ev)
				if err != nil {
					t.Fatalf("Marshal() error = %v", err)
				}
				got, err := decoder.Unmarshal(data)
				if err != nil {
					t.Fatalf("Unmarshal() error = %v", err)
				}
				want, _ := json.Marshal(ev)
				have, _ := json.Marshal(got)
				if string(want) != string(have) {
					t.Errorf("round trip mismatch:\n got %s\nwant %s", have, want)
				}
			})
		}
	}
}

func TestCodec_OutboundChatMessage(t *testing.T) {
	client, _ := protocol.NewCodec(protocol.CodecJSON, protocol.Inbound)
	server, _ := protocol.NewCodec(protocol.CodecJSON, protocol.Outbound)

	data, err := client.Marshal(protocol.SendChatMessage{ID: "m1", RoomID: "r1", Content: "abc"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	ev, err := server.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	msg, ok := ev.(protocol.SendChatMessage)
	if !ok {
		t.Fatalf("expected SendChatMessage, got %T", ev)
	}
	if msg.Kind != protocol.KindText {
		t.Errorf("expected missing kind to default to text, got %q", msg.Kind)
	}
}

func TestCodec_Unmarshal_Rejects(t *testing.T) {
	codec, _ := protocol.NewCodec(protocol.CodecJSON, protocol.Inbound)

	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"not json", `{{`, protocol.ErrMalformedPayload},
		{"unknown event", `{"event":"wave","payload":{}}`, protocol.ErrUnknownEvent},
		{"outbound name on inbound codec", `{"event":"typing","payload":{"roomId":"r1"}}`, protocol.ErrUnknownEvent},
		{"missing payload", `{"event":"user joined"}`, protocol.ErrMalformedPayload},
		{"missing required field", `{"event":"user joined","payload":{"userId":"bob"}}`, protocol.ErrMalformedPayload},
		{"bad status", `{"event":"message status updated","payload":{"messageId":"m1","status":"seen"}}`, protocol.ErrMalformedPayload},
		{"bad kind", `{"event":"chat message","payload":{"message":{"id":"m1","roomId":"r1","author":{"id":"a"},"kind":"audio"}}}`, protocol.ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Unmarshal([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Unmarshal() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCodecForSubprotocol(t *testing.T) {
	jsonCodec, _ := protocol.NewCodec(protocol.CodecJSON, protocol.Inbound)
	protoCodec, _ := protocol.NewCodec(protocol.CodecProto, protocol.Inbound)

	for _, c := range []protocol.Codec{jsonCodec, protoCodec} {
		got, err := protocol.CodecForSubprotocol(protocol.Subprotocol(c), protocol.Outbound)
		if err != nil {
			t.Fatalf("CodecForSubprotocol() error = %v", err)
		}
		if got.Name() != c.Name() || got.Binary() != c.Binary() {
			t.Errorf("CodecForSubprotocol() = %s, want %s", got.Name(), c.Name())
		}
	}

	if got, err := protocol.CodecForSubprotocol("", protocol.Outbound); err != nil || got.Name() != protocol.CodecJSON {
		t.Errorf("empty subprotocol should fall back to json, got %v, %v", got, err)
	}
	if _, err := protocol.CodecForSubprotocol("chat", protocol.Outbound); err == nil {
		t.Error("expected error for foreign subprotocol")
	}
}

func TestCodec_OutboundRequests(t *testing.T) {
	client, err := protocol.NewCodec(protocol.CodecJSON, protocol.Inbound)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	server, err := protocol.NewCodec(protocol.CodecJSON, protocol.Outbound)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	data, err := client.Marshal(protocol.CreateRoom{RoomName: "team", Members: []string{"bob"}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"event":"create room","payload":{"name":"team","members":["bob"]}}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	got, err := server.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	create, ok := got.(protocol.CreateRoom)
	if !ok || create.RoomName != "team" {
		t.Errorf("Unmarshal() = %#v, want create room named team", got)
	}

	if _, err := server.Unmarshal([]byte(`{"event":"create room","payload":{"members":[]}}`)); !errors.Is(err, protocol.ErrMalformedPayload) {
		t.Errorf("Unmarshal() without a name error = %v, want ErrMalformedPayload", err)
	}
}
