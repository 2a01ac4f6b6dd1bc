package chat

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

// State is the lifecycle position of a participant.
type State int

const (
	StateUnjoined State = iota
	StateJoined
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Outbox is where events for a participant are queued.
type Outbox interface {
	ID() string

	// Send queues a frame without blocking and reports whether it was
	// accepted. A full queue disconnects the participant.
	Send(data []byte) bool
}

// Participant is one chat connection.
type Participant struct {
	out Outbox

	mu    sync.Mutex
	name  string
	room  *Room
	state State
}

// NewParticipant creates an unjoined participant writing to out.
func NewParticipant(out Outbox) *Participant {
	return &Participant{out: out}
}

// ID returns the connection identifier of the participant.
func (p *Participant) ID() string {
	return p.out.ID()
}

// Name returns the display name, empty until joined.
func (p *Participant) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// State returns the lifecycle state.
func (p *Participant) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Room is a named chat room. All of its appends and broadcasts happen
// under mu, so every member sees messages in history order.
type Room struct {
	name string

	mu      sync.Mutex
	members []*Participant
}

func newRoom(name string) *Room {
	return &Room{name: name}
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// addLocked inserts a member. Caller must hold r.mu.
func (r *Room) addLocked(p *Participant) {
	r.members = append(r.members, p)
}

// removeLocked deletes a member. Caller must hold r.mu.
func (r *Room) removeLocked(p *Participant) bool {
	i := slices.Index(r.members, p)
	if i < 0 {
		return false
	}
	r.members = slices.Delete(r.members, i, i+1)
	return true
}

// broadcastLocked queues a frame to every member. Members whose queue is
// full are disconnected by their connection; the rest are unaffected.
// Caller must hold r.mu.
func (r *Room) broadcastLocked(frame []byte, log *zap.Logger) {
	for _, m := range r.members {
		if !m.out.Send(frame) {
			log.Debug("Dropped frame for member",
				zap.String("room", r.name),
				zap.String("conn_id", m.ID()))
		}
	}
}
