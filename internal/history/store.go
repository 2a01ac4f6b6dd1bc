// Package history keeps a bounded, ordered log of chat messages per room.
package history

import (
	"sync"

	"github.com/coldvault/broker/internal/buffer"
	"github.com/coldvault/broker/internal/model"
)

// DefaultLimit is the number of messages retained per room when no limit is configured.
const DefaultLimit = 50

// Store holds the retained history of every room. Each room keeps at most
// limit messages; older ones are evicted first.
type Store struct {
	limit int
	rooms map[string]*buffer.Ring[model.ChatMessage]
	mu    sync.RWMutex
}

// NewStore creates a Store retaining up to limit messages per room.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		limit: limit,
		rooms: make(map[string]*buffer.Ring[model.ChatMessage]),
	}
}

// Append adds msg to the end of room's history.
func (s *Store) Append(room string, msg model.ChatMessage) {
	s.ring(room).Push(msg)
}

// Replay returns the retained history of room, oldest first. Calling it
// twice without an Append in between returns identical sequences.
func (s *Store) Replay(room string) []model.ChatMessage {
	s.mu.RLock()
	ring, ok := s.rooms[room]
	s.mu.RUnlock()

	if !ok {
		return []model.ChatMessage{}
	}
	return ring.Items()
}

// Len returns the number of retained messages for room.
func (s *Store) Len(room string) int {
	s.mu.RLock()
	ring, ok := s.rooms[room]
	s.mu.RUnlock()

	if !ok {
		return 0
	}
	return ring.Len()
}

// Limit returns the per-room retention bound.
func (s *Store) Limit() int {
	return s.limit
}

func (s *Store) ring(room string) *buffer.Ring[model.ChatMessage] {
	s.mu.RLock()
	ring, ok := s.rooms[room]
	s.mu.RUnlock()
	if ok {
		return ring
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ring, ok := s.rooms[room]; ok {
		return ring
	}
	ring = buffer.NewRing[model.ChatMessage](s.limit)
	s.rooms[room] = ring
	return ring
}
