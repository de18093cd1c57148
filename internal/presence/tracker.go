package presence

import (
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// DefaultWindow bounds how long a remote typing=true stays valid without a refresh.
const DefaultWindow = 5 * time.Second

// Tracker holds the typing presence of remote identities per room. Entries
// expire implicitly once the window has elapsed since the last signal.
type Tracker struct {
	mu     sync.Mutex
	clock  Clock
	window time.Duration
	rooms  map[string]map[string]time.Time
}

func NewTracker(clock Clock, window time.Duration) *Tracker {
	if clock == nil {
		clock = RealClock{}
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{clock: clock, window: window, rooms: make(map[string]map[string]time.Time)}
}

// Set records a typing signal from userID in roomID.
func (t *Tracker) Set(roomID, userID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.rooms[roomID]
	if !typing {
		if ok {
			delete(users, userID)
			if len(users) == 0 {
				delete(t.rooms, roomID)
			}
		}
		return
	}
	if !ok {
		users = make(map[string]time.Time)
		t.rooms[roomID] = users
	}
	users[userID] = t.clock.Now()
}

// Typing returns the identities currently composing in roomID, sorted.
func (t *Tracker) Typing(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.rooms[roomID]
	now := t.clock.Now()
	for id, seen := range users {
		if now.Sub(seen) >= t.window {
			delete(users, id)
		}
	}
	if len(users) == 0 {
		delete(t.rooms, roomID)
		return nil
	}
	ids := lo.Keys(users)
	slices.Sort(ids)
	return ids
}

// Clear forgets every signal in roomID.
func (t *Tracker) Clear(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomID)
}

// Reset forgets everything.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms = make(map[string]map[string]time.Time)
}
