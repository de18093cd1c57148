// Package messages keeps the decrypted, per-room message log.
package messages

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/cipherchat/pkg/protocol"
)

// UndecryptableContent replaces the body of a message that failed to decrypt.
const UndecryptableContent = "[undecryptable message]"

// Message is the decrypted view of a protocol.WireMessage.
type Message struct {
	ID        string
	RoomID    string
	Author    protocol.Identity
	Content   string
	Kind      protocol.Kind
	CreatedAt time.Time
	Status    protocol.Status

	// Undecryptable is set when Content is UndecryptableContent.
	Undecryptable bool

	// Pending marks a locally submitted message the relay has not echoed yet.
	Pending bool
}

// Cipher is the payload cipher the store encrypts and decrypts with.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Recorder persists the wire form of messages. Failures are logged only.
type Recorder interface {
	Record(msg protocol.WireMessage) error
	Replace(roomID string, msgs []protocol.WireMessage) error
	UpdateStatus(id string, status protocol.Status) error
}

type Option func(*Store)

func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock overrides the timestamp source for locally submitted messages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type room struct {
	msgs []Message
	pos  map[string]int
}

func (r *room) add(m Message) {
	r.pos[m.ID] = len(r.msgs)
	r.msgs = append(r.msgs, m)
}

// Store holds one ordered sequence per opened room. No id appears twice
// across the whole store.
type Store struct {
	mu       sync.RWMutex
	cipher   Cipher
	recorder Recorder
	log      *slog.Logger
	now      func() time.Time

	rooms map[string]*room
	index map[string]string
	// wire forms of local messages not echoed yet
	pending map[string]protocol.WireMessage
}

func New(cipher Cipher, opts ...Option) *Store {
	s := &Store{
		cipher: cipher,
		log:    slog.Default(),
		now:    time.Now,
		rooms:   make(map[string]*room),
		index:   make(map[string]string),
		pending: make(map[string]protocol.WireMessage),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open marks roomID as opened locally so that live messages are kept.
func (s *Store) Open(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open(roomID)
}

func (s *Store) IsOpen(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Drop forgets a room and every message in it.
func (s *Store) Drop(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return
	}
	for _, m := range r.msgs {
		delete(s.index, m.ID)
		delete(s.pending, m.ID)
	}
	delete(s.rooms, roomID)
}

// Seed replaces the sequence of roomID with msgs. Messages that fail to
// decrypt are kept as undecryptable; repeated ids keep their first
// occurrence. Local messages still pending survive after the seeded ones.
func (s *Store) Seed(roomID string, msgs []protocol.WireMessage) {
	kept := s.seed(roomID, msgs)
	if s.recorder != nil {
		if err := s.recorder.Replace(roomID, kept); err != nil {
			s.log.Warn("failed to record seeded messages", "room", roomID, "error", err)
		}
	}
}

// Restore seeds roomID from the local history cache without writing back to it.
func (s *Store) Restore(roomID string, msgs []protocol.WireMessage) {
	s.seed(roomID, msgs)
}

func (s *Store) seed(roomID string, msgs []protocol.WireMessage) []protocol.WireMessage {
	decoded := make([]Message, 0, len(msgs))
	kept := make([]protocol.WireMessage, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, w := range msgs {
		if _, dup := seen[w.ID]; dup || w.ID == "" {
			continue
		}
		seen[w.ID] = struct{}{}
		w.RoomID = roomID
		decoded = append(decoded, s.decrypt(w))
		kept = append(kept, w)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := &room{pos: make(map[string]int, len(decoded))}
	var pending []Message
	if prev, ok := s.rooms[roomID]; ok {
		for _, m := range prev.msgs {
			delete(s.index, m.ID)
			if !m.Pending {
				continue
			}
			if _, echoed := seen[m.ID]; echoed {
				delete(s.pending, m.ID)
				continue
			}
			pending = append(pending, m)
		}
	}
	for _, m := range decoded {
		if other, ok := s.index[m.ID]; ok && other != roomID {
			s.log.Debug("dropping seeded message indexed in another room", "id", m.ID, "room", other)
			continue
		}
		next.add(m)
		s.index[m.ID] = roomID
	}
	for _, m := range pending {
		next.add(m)
		s.index[m.ID] = roomID
		if w, ok := s.pending[m.ID]; ok {
			kept = append(kept, w)
		}
	}
	s.rooms[roomID] = next
	return kept
}

// Append adds a live message to the end of its room. It is ignored unless
// the room is open or the id is already present. An echo of a pending local
// message confirms it in place. Reports whether a new entry was added.
func (s *Store) Append(w protocol.WireMessage) bool {
	if w.ID == "" {
		return false
	}

	s.mu.Lock()
	r, ok := s.rooms[w.RoomID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if roomID, exists := s.index[w.ID]; exists {
		if roomID == w.RoomID {
			s.confirm(r, w)
		}
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	m := s.decrypt(w)

	s.mu.Lock()
	// the room may have been dropped or reseeded while decrypting
	r, ok = s.rooms[w.RoomID]
	if _, exists := s.index[w.ID]; !ok || exists {
		s.mu.Unlock()
		return false
	}
	r.add(m)
	s.index[m.ID] = m.RoomID
	s.mu.Unlock()

	s.record(w)
	return true
}

func (s *Store) confirm(r *room, w protocol.WireMessage) {
	i := r.pos[w.ID]
	m := &r.msgs[i]
	if !m.Pending {
		return
	}
	m.Pending = false
	delete(s.pending, w.ID)
	if m.Status.Before(w.Status) {
		m.Status = w.Status
	}
	if !w.CreatedAt.IsZero() {
		m.CreatedAt = w.CreatedAt
	}
}

// UpdateStatus applies a delivery status to the message with id in any
// room. Statuses never move backwards. Reports whether the status changed.
func (s *Store) UpdateStatus(id string, status protocol.Status) bool {
	s.mu.Lock()
	roomID, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	r := s.rooms[roomID]
	m := &r.msgs[r.pos[id]]
	if !m.Status.Before(status) {
		s.mu.Unlock()
		return false
	}
	m.Status = status
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.UpdateStatus(id, status); err != nil {
			s.log.Warn("failed to record status", "id", id, "error", err)
		}
	}
	return true
}

// SubmitLocal appends an optimistic message authored locally and returns
// the encrypted wire form to transmit. The id it carries is authoritative:
// the relay echoes it back unchanged.
func (s *Store) SubmitLocal(roomID, content string, kind protocol.Kind, author protocol.Identity) (protocol.WireMessage, error) {
	if kind == "" {
		kind = protocol.KindText
	}
	if !kind.Valid() {
		return protocol.WireMessage{}, fmt.Errorf("unknown content kind %q", kind)
	}

	ciphertext, err := s.cipher.Encrypt(content)
	if err != nil {
		return protocol.WireMessage{}, fmt.Errorf("failed to encrypt message: %w", err)
	}

	w := protocol.WireMessage{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Author:    author,
		Content:   ciphertext,
		Kind:      kind,
		CreatedAt: s.now().UTC(),
		Status:    protocol.StatusSent,
	}

	s.mu.Lock()
	r := s.open(roomID)
	r.add(Message{
		ID:        w.ID,
		RoomID:    roomID,
		Author:    author,
		Content:   content,
		Kind:      kind,
		CreatedAt: w.CreatedAt,
		Status:    protocol.StatusSent,
		Pending:   true,
	})
	s.index[w.ID] = roomID
	s.pending[w.ID] = w
	s.mu.Unlock()

	s.record(w)
	return w, nil
}

// Get returns the message with id from any room.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	r := s.rooms[roomID]
	return r.msgs[r.pos[id]], true
}

// Messages returns a snapshot of the room's sequence.
func (s *Store) Messages(roomID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(r.msgs)
}

// Filter yields the room's messages matching match, in order. Each range
// over the result takes a fresh snapshot; the store is never modified. A nil
// match yields everything.
func (s *Store) Filter(roomID string, match func(Message) bool) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, m := range s.Messages(roomID) {
			if match != nil && !match(m) {
				continue
			}
			if !yield(m) {
				return
			}
		}
	}
}

// MatchText matches messages whose content or author name contains query,
// case-insensitively. Undecryptable messages never match a non-empty query.
func MatchText(query string) func(Message) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	return func(m Message) bool {
		if q == "" {
			return true
		}
		if m.Undecryptable {
			return false
		}
		return strings.Contains(strings.ToLower(m.Content), q) ||
			strings.Contains(strings.ToLower(m.Author.Name), q)
	}
}

func (s *Store) open(roomID string) *room {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{pos: make(map[string]int)}
		s.rooms[roomID] = r
	}
	return r
}

func (s *Store) decrypt(w protocol.WireMessage) Message {
	m := Message{
		ID:        w.ID,
		RoomID:    w.RoomID,
		Author:    w.Author,
		Kind:      w.Kind,
		CreatedAt: w.CreatedAt,
		Status:    w.Status,
	}
	if m.Kind == "" {
		m.Kind = protocol.KindText
	}

	plaintext, err := s.cipher.Decrypt(w.Content)
	if err != nil {
		s.log.Debug("message kept as undecryptable", "id", w.ID, "room", w.RoomID, "error", err)
		m.Content = UndecryptableContent
		m.Undecryptable = true
		return m
	}
	m.Content = plaintext
	return m
}

func (s *Store) record(w protocol.WireMessage) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(w); err != nil {
		s.log.Warn("failed to record message", "id", w.ID, "error", err)
	}
}
