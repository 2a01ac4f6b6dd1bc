// Package presence tracks which display names are joined to each chat room.
package presence

import (
	"fmt"
	"slices"
	"sync"

	"github.com/coldvault/broker/internal/model"
)

// Registry maps a room to the ordered set of names currently joined to it.
// It is the single authority that can reject a join.
type Registry struct {
	rooms map[string][]string
	mu    sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string][]string),
	}
}

// Add registers name in room. Names are compared case-sensitively.
func (r *Registry) Add(room, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.Contains(r.rooms[room], name) {
		return fmt.Errorf("%w: %q in room %q", model.ErrNameTaken, name, room)
	}
	r.rooms[room] = append(r.rooms[room], name)
	return nil
}

// Remove unregisters name from room and reports whether it was present.
func (r *Registry) Remove(room, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.rooms[room]
	idx := slices.Index(names, name)
	if idx < 0 {
		return false
	}

	names = slices.Delete(names, idx, idx+1)
	if len(names) == 0 {
		delete(r.rooms, room)
	} else {
		r.rooms[room] = names
	}
	return true
}

// Contains reports whether name is joined to room.
func (r *Registry) Contains(room, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.rooms[room], name)
}

// Snapshot returns the names joined to room in join order.
// The result is never nil so it encodes as an empty JSON array.
func (r *Registry) Snapshot(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.rooms[room]))
	copy(names, r.rooms[room])
	return names
}

// Count returns how many names are joined to room.
func (r *Registry) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Rooms returns the rooms that currently have at least one name, sorted.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		rooms = append(rooms, room)
	}
	slices.Sort(rooms)
	return rooms
}
