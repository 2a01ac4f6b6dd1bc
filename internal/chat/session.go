package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/coldvault/broker/internal/model"
)

// Conn is the connection a chat session writes to.
type Conn interface {
	Outbox

	// ReportMalformed counts an undecodable frame and reports whether the
	// connection was closed because of it.
	ReportMalformed() bool

	// ClearMalformed resets the malformed frame counter.
	ClearMalformed()
}

// Session adapts one connection to the broker.
type Session struct {
	broker *Broker
	conn   Conn
	room   string
	p      *Participant
	log    *zap.Logger
}

// NewSession creates the chat session for conn. room is the room named by
// the connection path; a join frame may override it.
func (b *Broker) NewSession(conn Conn, room string) *Session {
	return &Session{
		broker: b,
		conn:   conn,
		room:   room,
		p:      NewParticipant(conn),
		log:    b.log.With(zap.String("conn_id", conn.ID())),
	}
}

// Participant returns the participant behind the session.
func (s *Session) Participant() *Participant {
	return s.p
}

// HandleMessage decodes one client frame and applies it.
func (s *Session) HandleMessage(_ context.Context, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		s.log.Debug("Rejected chat frame", zap.Error(err))
		s.reply(errorEvent(err))
		s.conn.ReportMalformed()
		return
	}
	s.conn.ClearMalformed()

	switch m := msg.(type) {
	case JoinMessage:
		room := m.Room
		if room == "" {
			room = s.room
		}
		err = s.broker.Join(s.p, room, m.Username)
	case TextMessage:
		err = s.broker.Send(s.p, m.Text)
	case LeaveMessage:
		s.broker.Leave(s.p)
	case PingMessage:
		s.reply(PongEvent{})
	}

	if err != nil {
		s.reply(errorEvent(err))
	}
}

// Close performs the implicit leave of a closing connection.
func (s *Session) Close() {
	s.broker.Disconnect(s.p)
}

func (s *Session) reply(ev Event) {
	frame, err := Encode(ev)
	if err != nil {
		s.log.Error("Failed to encode event", zap.Error(err))
		return
	}
	s.conn.Send(frame)
}

func errorEvent(err error) ErrorEvent {
	ev := ErrorEvent{Message: err.Error()}
	switch {
	case errors.Is(err, model.ErrNameTaken):
		ev.Code = CodeNameTaken
	case errors.Is(err, model.ErrNotJoined):
		ev.Code = CodeNotJoined
	case errors.Is(err, model.ErrAlreadyJoined):
		ev.Code = CodeAlreadyJoined
	case errors.Is(err, model.ErrSessionClosed):
		ev.Code = CodeSessionClosed
	default:
		ev.Code = CodeMalformedMessage
	}
	return ev
}
