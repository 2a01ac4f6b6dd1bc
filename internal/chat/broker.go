// Package chat implements the chat room broker: named participants join a
// room, see its recent history, and exchange messages with everyone
// present.
package chat

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/coldvault/broker/internal/history"
	"github.com/coldvault/broker/internal/model"
	"github.com/coldvault/broker/internal/presence"
)

// DefaultRoom is the room used when a connection does not name one.
const DefaultRoom = "community"

// RoomInfo summarizes a room for introspection.
type RoomInfo struct {
	Name     string `json:"name"`
	Users    int    `json:"users"`
	Messages int    `json:"messages"`
}

// Broker owns every chat room. Rooms are created on first join and kept
// for the lifetime of the broker.
type Broker struct {
	presence    *presence.Registry
	history     *history.Store
	defaultRoom string
	log         *zap.Logger
	now         func() time.Time

	mu    sync.Mutex
	rooms map[string]*Room
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithDefaultRoom sets the room used when none is named.
func WithDefaultRoom(name string) BrokerOption {
	return func(b *Broker) {
		if name != "" {
			b.defaultRoom = name
		}
	}
}

// WithClock sets the time source for message timestamps.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a new chat Broker.
func NewBroker(registry *presence.Registry, store *history.Store, log *zap.Logger, opts ...BrokerOption) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Broker{
		presence:    registry,
		history:     store,
		defaultRoom: DefaultRoom,
		log:         log,
		now:         time.Now,
		rooms:       make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DefaultRoom returns the room used when none is named.
func (b *Broker) DefaultRoom() string {
	return b.defaultRoom
}

func (b *Broker) room(name string) *Room {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rooms[name]
	if !ok {
		r = newRoom(name)
		b.rooms[name] = r
		b.log.Info("Room created", zap.String("room", name))
	}
	return r
}

func (b *Broker) newMessage(kind model.MessageKind, sender, text string) model.ChatMessage {
	return model.ChatMessage{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Sender:    sender,
		Text:      text,
		Timestamp: b.now(),
	}
}

// Join admits p to roomName under name. The joiner receives the room's
// history before any live message; everyone present, the joiner included,
// then sees the join notice followed by the new user list.
func (b *Broker) Join(p *Participant, roomName, name string) error {
	if roomName == "" {
		roomName = b.defaultRoom
	}
	if name == "" {
		name = DefaultName
	}
	if len([]rune(name)) > MaxNameLength {
		return fmt.Errorf("%w: username is longer than %d characters", model.ErrMalformedMessage, MaxNameLength)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateJoined:
		return fmt.Errorf("%w: already in %s as %s", model.ErrAlreadyJoined, p.room.name, p.name)
	case StateLeft:
		return model.ErrSessionClosed
	}

	r := b.room(roomName)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := b.presence.Add(roomName, name); err != nil {
		return err
	}

	replay, err := Encode(HistoryEvent{Messages: b.history.Replay(roomName)})
	if err != nil {
		b.presence.Remove(roomName, name)
		return err
	}

	p.name = name
	p.room = r
	p.state = StateJoined
	r.addLocked(p)
	p.out.Send(replay)

	b.appendLocked(r, b.newMessage(model.MessageKindSystem, "", name+" joined the community!"))
	b.broadcastUsersLocked(r)

	b.log.Info("Participant joined",
		zap.String("room", roomName),
		zap.String("user", name),
		zap.String("conn_id", p.ID()),
		zap.Int("users", b.presence.Count(roomName)))
	return nil
}

// Send posts text from p to its room.
func (b *Broker) Send(p *Participant, text string) error {
	if text == "" {
		return fmt.Errorf("%w: text must not be empty", model.ErrMalformedMessage)
	}
	if len([]rune(text)) > MaxTextLength {
		return fmt.Errorf("%w: text is longer than %d characters", model.ErrMalformedMessage, MaxTextLength)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateJoined {
		return model.ErrNotJoined
	}

	r := p.room
	r.mu.Lock()
	defer r.mu.Unlock()

	b.appendLocked(r, b.newMessage(model.MessageKindUser, p.name, text))
	return nil
}

// Leave removes p from its room. It is safe to call more than once. A
// participant that never joined is left untouched and may still join.
func (b *Broker) Leave(p *Participant) {
	b.leave(p, false)
}

// Disconnect is the implicit leave of a closing connection. Unlike Leave it
// also retires a participant that never joined.
func (b *Broker) Disconnect(p *Participant) {
	b.leave(p, true)
}

func (b *Broker) leave(p *Participant, retire bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateJoined {
		if retire {
			p.state = StateLeft
		}
		return
	}
	p.state = StateLeft

	r := p.room
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(p)
	b.presence.Remove(r.name, p.name)

	b.appendLocked(r, b.newMessage(model.MessageKindSystem, "", p.name+" left the community"))
	b.broadcastUsersLocked(r)

	b.log.Info("Participant left",
		zap.String("room", r.name),
		zap.String("user", p.name),
		zap.String("conn_id", p.ID()),
		zap.Int("users", b.presence.Count(r.name)))
}

// appendLocked records msg in the room history and broadcasts it. Caller
// must hold r.mu.
func (b *Broker) appendLocked(r *Room, msg model.ChatMessage) {
	b.history.Append(r.name, msg)

	frame, err := Encode(MessageEvent{Message: msg})
	if err != nil {
		b.log.Error("Failed to encode message", zap.Error(err))
		return
	}
	r.broadcastLocked(frame, b.log)
}

// broadcastUsersLocked sends the presence list to every member. Caller
// must hold r.mu.
func (b *Broker) broadcastUsersLocked(r *Room) {
	frame, err := Encode(UserListEvent{Users: b.presence.Snapshot(r.name)})
	if err != nil {
		b.log.Error("Failed to encode user list", zap.Error(err))
		return
	}
	r.broadcastLocked(frame, b.log)
}

// Users returns the presence list of a room in join order.
func (b *Broker) Users(room string) []string {
	return b.presence.Snapshot(room)
}

// History returns the retained messages of a room, oldest first.
func (b *Broker) History(room string) []model.ChatMessage {
	return b.history.Replay(room)
}

// Rooms lists every room created so far.
func (b *Broker) Rooms() []RoomInfo {
	b.mu.Lock()
	names := lo.Keys(b.rooms)
	b.mu.Unlock()
	slices.Sort(names)

	infos := make([]RoomInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, RoomInfo{
			Name:     name,
			Users:    b.presence.Count(name),
			Messages: b.history.Len(name),
		})
	}
	return infos
}
