package chat

import (
	"context"

	"github.com/omochice/cipherchat/internal/channel"
	"github.com/omochice/cipherchat/pkg/protocol"
)

// handle applies one inbound event. It runs on the session's reader
// goroutine, so events are applied one at a time in arrival order.
func (c *Controller) handle(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.InitialMessages:
		c.store.Seed(ev.RoomID, ev.Messages)
		c.emit(Change{Kind: MessagesChanged, RoomID: ev.RoomID})

	case protocol.ChatMessage:
		msg := ev.Message
		c.typing.Set(msg.RoomID, msg.Author.ID, false)
		if !c.store.IsOpen(msg.RoomID) {
			c.log.Debug("message for a room not opened", "room", msg.RoomID, "id", msg.ID)
			return
		}
		c.store.Append(msg)
		c.emit(Change{Kind: MessagesChanged, RoomID: msg.RoomID})

	case protocol.UserTyping:
		if ev.UserID == c.Identity().ID {
			return
		}
		roomID := ev.RoomID
		if roomID == "" {
			active, ok := c.dir.Active()
			if !ok {
				return
			}
			roomID = active.ID
		}
		c.typing.Set(roomID, ev.UserID, ev.IsTyping)
		c.emit(Change{Kind: TypingChanged, RoomID: roomID})

	case protocol.MessageStatusUpdated:
		if !c.store.UpdateStatus(ev.MessageID, ev.Status) {
			return
		}
		m, _ := c.store.Get(ev.MessageID)
		c.emit(Change{Kind: MessagesChanged, RoomID: m.RoomID})

	case protocol.RoomCreated:
		c.dir.Upsert(ev.Room)
		c.emit(Change{Kind: RoomsChanged, RoomID: ev.Room.ID})

	case protocol.UserJoined:
		if !c.dir.ApplyJoined(ev.UserID, ev.RoomID) {
			return
		}
		c.emit(Change{Kind: RoomsChanged, RoomID: ev.RoomID})

	case protocol.UserLeft:
		if ev.UserID == c.Identity().ID {
			c.forget(ev.RoomID)
			return
		}
		c.dir.ApplyLeft(ev.UserID, ev.RoomID)
		c.typing.Set(ev.RoomID, ev.UserID, false)
		c.emit(Change{Kind: RoomsChanged, RoomID: ev.RoomID})

	case protocol.SendChatMessage, protocol.Typing, protocol.CreateRoom,
		protocol.JoinRoom, protocol.LeaveRoom, protocol.MarkRead:
		c.log.Debug("ignoring outbound event received from server", "event", ev.Name())

	default:
		c.log.Debug("ignoring unhandled event", "event", ev.Name())
	}
}

// stateChanged closes local typing state on loss and asks the server for the
// opened rooms again after a reconnect. Reads are reported again on the new
// connection since a write may have been lost with the old one.
func (c *Controller) stateChanged(state channel.State) {
	switch state {
	case channel.Disconnected:
		c.debouncer.Cancel()
		c.typing.Reset()
		c.mu.Lock()
		clear(c.marked)
		c.mu.Unlock()
	case channel.Connected:
		for _, room := range c.dir.List() {
			if !c.store.IsOpen(room.ID) {
				continue
			}
			if err := c.ch.Send(context.Background(), protocol.JoinRoom{RoomID: room.ID}); err != nil {
				c.log.Warn("failed to rejoin room", "room", room.ID, "error", err)
			}
		}
	}
	c.emit(Change{Kind: StateChanged})
}
