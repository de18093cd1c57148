package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/omochice/cipherchat/internal/api"
	"github.com/omochice/cipherchat/internal/chat"
	"github.com/omochice/cipherchat/internal/messages"
	"github.com/omochice/cipherchat/pkg/protocol"
)

var errQuit = errors.New("quit")

const help = `Commands:
  /rooms                     list rooms
  /open <room>               switch to a room
  /create <name> [member...] create a room
  /join <room>               join a room by id
  /leave [room]              leave a room, the active one by default
  /search <text>             search the active room
  /read                      mark the active room as read
  /attach <path> [kind]      send a file as image, video or file
  /profile [name]            show or rename the profile
  /quit                      exit
Anything else is sent to the active room. End a line with \ to continue
the message on the next line.`

var (
	authorStyle = color.New(color.FgCyan, color.OpBold)
	selfStyle   = color.New(color.FgGreen, color.OpBold)
	noticeStyle = color.New(color.FgYellow)
	errorStyle  = color.New(color.FgRed)
	dimStyle    = color.New(color.FgGray)
)

// terminal is a line oriented surface over a chat.Controller.
type terminal struct {
	ctrl   *chat.Controller
	out    io.Writer
	detach func()

	mu      sync.Mutex
	printed map[string]bool
	typing  []string
}

func newTerminal(ctrl *chat.Controller, out io.Writer) *terminal {
	t := &terminal{ctrl: ctrl, out: out, printed: make(map[string]bool)}
	t.detach = ctrl.OnChange(t.changed)
	return t
}

// parseCommand splits a slash command into its name and arguments. Plain
// text yields an empty name.
func parseCommand(line string) (string, []string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", nil
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func (t *terminal) run(ctx context.Context, in io.Reader) error {
	t.println(help)
	t.renderRooms(t.ctrl.Rooms())

	var draft strings.Builder
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if body, ok := strings.CutSuffix(line, `\`); ok {
			draft.WriteString(body)
			draft.WriteByte('\n')
			if err := t.ctrl.SetTyping(); err != nil {
				t.println(errorStyle.Render("error: " + err.Error()))
			}
			continue
		}
		if draft.Len() > 0 {
			text := draft.String() + line
			draft.Reset()
			if _, err := t.ctrl.SendText(ctx, text); err != nil {
				t.println(errorStyle.Render("error: " + err.Error()))
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		err := t.execute(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			t.println(errorStyle.Render("error: " + err.Error()))
		}
	}
	return scanner.Err()
}

func (t *terminal) execute(ctx context.Context, line string) error {
	name, args := parseCommand(line)
	if name == "" {
		_, err := t.ctrl.SendText(ctx, line)
		return err
	}

	switch name {
	case "quit", "exit":
		return errQuit
	case "help":
		t.println(help)
	case "rooms":
		t.renderRooms(t.ctrl.Rooms())
	case "open":
		if len(args) != 1 {
			return errors.New("usage: /open <room>")
		}
		if err := t.ctrl.OpenRoom(ctx, args[0]); err != nil {
			return err
		}
		room, _ := t.ctrl.ActiveRoom()
		t.println(noticeStyle.Sprintf("*** now in %s ***", room.Name))
		t.printMessages(t.ctrl.Messages())
	case "create":
		if len(args) == 0 {
			return errors.New("usage: /create <name> [member...]")
		}
		return t.ctrl.CreateRoom(ctx, args[0], args[1:])
	case "join":
		if len(args) != 1 {
			return errors.New("usage: /join <room>")
		}
		return t.ctrl.JoinRoom(ctx, args[0])
	case "leave":
		id := ""
		if len(args) > 0 {
			id = args[0]
		} else if room, ok := t.ctrl.ActiveRoom(); ok {
			id = room.ID
		}
		if id == "" {
			return chat.ErrNoActiveRoom
		}
		return t.ctrl.LeaveRoom(ctx, id)
	case "search":
		query := strings.Join(args, " ")
		found := t.ctrl.SearchMessages(query)
		t.println(dimStyle.Sprintf("%d match(es) for %q", len(found), query))
		for _, m := range found {
			t.println(t.format(m))
		}
	case "read":
		return t.ctrl.MarkRead(ctx)
	case "attach":
		return t.attach(ctx, args)
	case "profile":
		return t.profile(ctx, args)
	default:
		return fmt.Errorf("unknown command /%s, try /help", name)
	}
	return nil
}

func (t *terminal) attach(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: /attach <path> [image|video|file]")
	}
	var kind protocol.Kind
	if len(args) == 2 {
		kind = protocol.Kind(args[1])
		if !kind.Valid() || kind == protocol.KindText {
			return fmt.Errorf("unknown attachment kind %q", args[1])
		}
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	_, err = t.ctrl.SendAttachment(ctx, kind, raw)
	return err
}

func (t *terminal) profile(ctx context.Context, args []string) error {
	p, ok := t.ctrl.Profile()
	if !ok {
		var err error
		if p, err = t.ctrl.LoadProfile(ctx); err != nil {
			return err
		}
	}
	if len(args) > 0 {
		p.Name = strings.Join(args, " ")
		updated, err := t.ctrl.UpdateProfile(ctx, p)
		if err != nil {
			return err
		}
		p = updated
	}
	t.renderProfile(p)
	return nil
}

func (t *terminal) changed(change chat.Change) {
	switch change.Kind {
	case chat.MessagesChanged:
		room, ok := t.ctrl.ActiveRoom()
		if ok && room.ID == change.RoomID {
			t.printMessages(t.ctrl.Messages())
		}
	case chat.TypingChanged:
		typing := t.ctrl.Typing()
		t.mu.Lock()
		same := slices.Equal(typing, t.typing)
		t.typing = typing
		t.mu.Unlock()
		if !same && len(typing) > 0 {
			t.println(dimStyle.Sprintf("%s typing...", strings.Join(typing, ", ")))
		}
	case chat.RoomsChanged:
		if change.RoomID != "" {
			if room, ok := t.ctrl.ActiveRoom(); !ok || room.ID != change.RoomID {
				t.println(noticeStyle.Sprintf("*** rooms changed (%s), /rooms to list ***", change.RoomID))
			}
		}
	case chat.StateChanged:
		t.println(noticeStyle.Sprintf("*** %s ***", t.ctrl.State()))
	}
}

// printMessages writes the messages not shown yet.
func (t *terminal) printMessages(msgs []messages.Message) {
	for _, m := range msgs {
		t.mu.Lock()
		seen := t.printed[m.ID]
		t.printed[m.ID] = true
		t.mu.Unlock()
		if !seen {
			t.println(t.format(m))
		}
	}
}

func (t *terminal) format(m messages.Message) string {
	style := authorStyle
	if m.Author.ID == t.ctrl.Identity().ID {
		style = selfStyle
	}
	body := m.Content
	switch {
	case m.Undecryptable:
		body = errorStyle.Render(body)
	case m.Kind != protocol.KindText:
		body = dimStyle.Sprintf("[%s attachment, %d bytes]", m.Kind, len(m.Content))
	}
	return fmt.Sprintf("%s %s: %s", dimStyle.Render(m.CreatedAt.Local().Format("15:04")), style.Render(m.Author.Name), body)
}

func (t *terminal) renderRooms(list []protocol.Room) {
	active, _ := t.ctrl.ActiveRoom()

	t.mu.Lock()
	defer t.mu.Unlock()
	writeRooms(t.out, list, active.ID)
}

func writeRooms(w io.Writer, list []protocol.Room, activeID string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"", "ID", "Name", "Members"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, r := range list {
		marker := ""
		if r.ID == activeID {
			marker = "*"
		}
		table.Append([]string{marker, r.ID, r.Name, strings.Join(r.Members, ", ")})
	}
	table.Render()
}

func (t *terminal) renderProfile(p api.Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	table := tablewriter.NewWriter(t.out)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.AppendBulk([][]string{
		{"id", p.ID},
		{"name", p.Name},
		{"status", p.Status},
		{"bio", p.Bio},
	})
	table.Render()
}

func (t *terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, s)
}
