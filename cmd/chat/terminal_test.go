package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/omochice/cipherchat/internal/channel"
	"github.com/omochice/cipherchat/internal/chat"
	"github.com/omochice/cipherchat/internal/chat/mocks"
	"github.com/omochice/cipherchat/internal/cipher"
	"github.com/omochice/cipherchat/internal/messages"
	"github.com/omochice/cipherchat/internal/presence"
	"github.com/omochice/cipherchat/pkg/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
		wantArgs []string
	}{
		{"hello there", "", nil},
		{"  /rooms  ", "rooms", []string{}},
		{"/OPEN general", "open", []string{"general"}},
		{"/create team u-bob u-carol", "create", []string{"team", "u-bob", "u-carol"}},
		{"/", "", nil},
		{"a /join x", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, args := parseCommand(tt.line)
			require.Equal(t, tt.wantName, name)
			require.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestWriteRooms(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer

	writeRooms(&buf, []protocol.Room{
		{ID: "general", Name: "general", Members: []string{"u-alice", "u-bob"}},
		{ID: "r-2", Name: "team", Members: []string{"u-alice"}},
	}, "r-2")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	req.GreaterOrEqual(len(lines), 3)
	out := buf.String()
	req.Contains(out, "u-alice, u-bob")
	req.Contains(out, "team")

	var activeLine string
	for _, l := range lines {
		if strings.Contains(l, "r-2") {
			activeLine = l
		}
	}
	req.Contains(activeLine, "*")
}

func TestTerminal_ContinuationLinesSignalTyping(t *testing.T) {
	req := require.New(t)
	mock := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	self := protocol.Identity{ID: "u-alice", Name: "Alice"}

	var mu sync.Mutex
	var sent []protocol.Event
	ch := mocks.NewMockChannel(mock)
	ch.EXPECT().SubscribeAll(gomock.Any()).Return(func() {})
	ch.EXPECT().OnStateChange(gomock.Any()).Return(func() {})
	ch.EXPECT().Connect(gomock.Any(), self).Return(nil)
	ch.EXPECT().State().Return(channel.Connected).AnyTimes()
	ch.EXPECT().Disconnect().AnyTimes()
	ch.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev protocol.Event) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, ev)
		return nil
	}).AnyTimes()
	backend := mocks.NewMockBackend(mock)
	backend.EXPECT().ListRooms(gomock.Any()).Return([]protocol.Room{{ID: "r1", Name: "general", Members: []string{self.ID}}}, nil)

	c, err := cipher.New("terminal-test-key")
	req.NoError(err)
	clock := presence.NewManualClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	ctrl := chat.New(chat.Config{TypingTimeout: time.Minute, PresenceWindow: time.Second},
		ch, backend, messages.New(c, messages.WithLogger(log)), chat.WithLogger(log), chat.WithClock(clock))
	t.Cleanup(ctrl.Close)

	ctx := context.Background()
	req.NoError(ctrl.Start(ctx, self))
	req.NoError(ctrl.OpenRoom(ctx, "r1"))

	var out bytes.Buffer
	term := newTerminal(ctrl, &out)
	defer term.detach()
	req.NoError(term.run(ctx, strings.NewReader("hello \\\nworld\n/quit\n")))

	// Then the continuation line opened a typing signal that the send closed
	msgs := ctrl.Messages()
	req.Len(msgs, 1)
	req.Equal("hello \nworld", msgs[0].Content)

	mu.Lock()
	defer mu.Unlock()
	req.Len(sent, 4)
	req.Equal(protocol.JoinRoom{RoomID: "r1"}, sent[0])
	req.Equal(protocol.Typing{RoomID: "r1", IsTyping: true}, sent[1])
	req.Equal(protocol.Typing{RoomID: "r1", IsTyping: false}, sent[2])
	send, ok := sent[3].(protocol.SendChatMessage)
	req.True(ok)
	req.Equal(msgs[0].ID, send.ID)
}
