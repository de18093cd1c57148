// Package rooms tracks the rooms the local identity belongs to and which one
// is active.
package rooms

import (
	"cmp"
	"slices"
	"sync"

	"github.com/omochice/cipherchat/pkg/protocol"
	"github.com/samber/lo"
)

// Directory is safe for concurrent use. Rooms are returned as copies.
type Directory struct {
	mu     sync.RWMutex
	self   string
	rooms  map[string]protocol.Room
	active string
}

// NewDirectory creates an empty directory for the local identity selfID.
func NewDirectory(selfID string) *Directory {
	return &Directory{self: selfID, rooms: make(map[string]protocol.Room)}
}

// Reset forgets every room and rebinds the directory to selfID.
func (d *Directory) Reset(selfID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.self = selfID
	d.rooms = make(map[string]protocol.Room)
	d.active = ""
}

// List returns every known room ordered by name, then id.
func (d *Directory) List() []protocol.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := make([]protocol.Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		list = append(list, clone(r))
	}
	slices.SortFunc(list, func(a, b protocol.Room) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return list
}

func (d *Directory) Get(id string) (protocol.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[id]
	return clone(r), ok
}

// Active returns the active room, if any.
func (d *Directory) Active() (protocol.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.active == "" {
		return protocol.Room{}, false
	}
	r, ok := d.rooms[d.active]
	return clone(r), ok
}

// SetActive makes id the active room. Unknown ids are ignored.
func (d *Directory) SetActive(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[id]; !ok {
		return false
	}
	d.active = id
	return true
}

// Upsert adds room or replaces the stored copy.
func (d *Directory) Upsert(room protocol.Room) {
	room.Members = lo.Uniq(lo.Compact(room.Members))
	if room.Name == "" {
		room.Name = room.ID
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[room.ID] = clone(room)
}

// Remove forgets a room, clearing the active reference if it pointed there.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(id)
}

// ApplyJoined adds userID to the room's members. A join of the local identity
// to an unknown room creates a placeholder named after the id. It reports
// whether the room is known afterwards.
func (d *Directory) ApplyJoined(userID, roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rooms[roomID]
	if !ok {
		if userID != d.self {
			return false
		}
		r = protocol.Room{ID: roomID, Name: roomID}
	}
	if !slices.Contains(r.Members, userID) {
		r.Members = append(slices.Clone(r.Members), userID)
	}
	d.rooms[roomID] = r
	return true
}

// ApplyLeft removes userID from the room's members. When the local identity
// leaves, the room itself is removed.
func (d *Directory) ApplyLeft(userID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if userID == d.self {
		d.remove(roomID)
		return
	}
	r, ok := d.rooms[roomID]
	if !ok {
		return
	}
	r.Members = lo.Without(r.Members, userID)
	d.rooms[roomID] = r
}

func (d *Directory) remove(id string) {
	delete(d.rooms, id)
	if d.active == id {
		d.active = ""
	}
}

func clone(r protocol.Room) protocol.Room {
	r.Members = slices.Clone(r.Members)
	return r
}
