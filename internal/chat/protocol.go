package chat

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/coldvault/broker/internal/model"
)

const (
	// MaxNameLength is the longest display name accepted on join.
	MaxNameLength = 32

	// MaxTextLength is the longest chat message accepted.
	MaxTextLength = 2000

	// DefaultName is used when a participant joins without a name.
	DefaultName = "Anonymous"
)

var validate = validator.New()

// ClientMessage is a frame sent by a chat participant. The concrete types
// are JoinMessage, TextMessage, LeaveMessage and PingMessage.
type ClientMessage interface {
	clientMessage()
}

// JoinMessage asks to enter a room under a display name.
type JoinMessage struct {
	Username string `validate:"max=32"`
	Room     string `validate:"omitempty,max=64,excludesall=/?#"`
}

// TextMessage posts text to the participant's room.
type TextMessage struct {
	Text string `validate:"required,max=2000"`
}

// LeaveMessage leaves the room without closing the connection.
type LeaveMessage struct{}

// PingMessage is an application-level keepalive.
type PingMessage struct{}

func (JoinMessage) clientMessage()  {}
func (TextMessage) clientMessage()  {}
func (LeaveMessage) clientMessage() {}
func (PingMessage) clientMessage()  {}

type inbound struct {
	Type     string  `json:"type"`
	Username *string `json:"username"`
	Room     string  `json:"room"`
	Text     string  `json:"text"`
}

// Decode parses and validates a client frame.
func Decode(data []byte) (ClientMessage, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON", model.ErrMalformedMessage)
	}

	var msg ClientMessage
	switch in.Type {
	case "join":
		join := JoinMessage{Username: DefaultName, Room: in.Room}
		if in.Username != nil && *in.Username != "" {
			join.Username = *in.Username
		}
		msg = join
	case "message":
		msg = TextMessage{Text: in.Text}
	case "leave":
		return LeaveMessage{}, nil
	case "ping":
		return PingMessage{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", model.ErrMalformedMessage, in.Type)
	}

	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrMalformedMessage, describe(err))
	}
	return msg, nil
}

func describe(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return err.Error()
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "max":
		return fmt.Sprintf("%s is longer than %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// ErrorCode classifies an error event.
type ErrorCode string

const (
	CodeNameTaken        ErrorCode = "NAME_TAKEN"
	CodeMalformedMessage ErrorCode = "MALFORMED_MESSAGE"
	CodeNotJoined        ErrorCode = "NOT_JOINED"
	CodeAlreadyJoined    ErrorCode = "ALREADY_JOINED"
	CodeSessionClosed    ErrorCode = "SESSION_CLOSED"
)

// Event is a frame sent to chat participants. The concrete types are
// HistoryEvent, MessageEvent, UserListEvent, ErrorEvent and PongEvent.
type Event interface {
	event()
}

// HistoryEvent replays a room's retained messages to a new participant.
type HistoryEvent struct {
	Messages []model.ChatMessage
}

// MessageEvent delivers one user or system message.
type MessageEvent struct {
	Message model.ChatMessage
}

// UserListEvent carries the room's presence list.
type UserListEvent struct {
	Users []string
}

// ErrorEvent reports a rejected request to its sender only.
type ErrorEvent struct {
	Code    ErrorCode
	Message string
}

// PongEvent answers a PingMessage.
type PongEvent struct{}

func (HistoryEvent) event()  {}
func (MessageEvent) event()  {}
func (UserListEvent) event() {}
func (ErrorEvent) event()    {}
func (PongEvent) event()     {}

// WireMessage is the JSON form of a chat message.
type WireMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// ToWire converts a history entry to its JSON form.
func ToWire(m model.ChatMessage) WireMessage {
	return WireMessage{
		ID:        m.ID,
		Type:      string(m.Kind),
		User:      m.Sender,
		Text:      m.Text,
		Timestamp: m.Clock(),
	}
}

// ToWireList converts a slice of history entries, never returning nil.
func ToWireList(msgs []model.ChatMessage) []WireMessage {
	return lo.Map(msgs, func(m model.ChatMessage, _ int) WireMessage {
		return ToWire(m)
	})
}

type historyFrame struct {
	Type     string        `json:"type"`
	Messages []WireMessage `json:"messages"`
}

type userListFrame struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type errorFrame struct {
	Type    string    `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type pongFrame struct {
	Type string `json:"type"`
}

// Encode renders an event as a JSON text frame.
func Encode(ev Event) ([]byte, error) {
	var frame any
	switch e := ev.(type) {
	case HistoryEvent:
		frame = historyFrame{Type: "history", Messages: ToWireList(e.Messages)}
	case MessageEvent:
		frame = ToWire(e.Message)
	case UserListEvent:
		users := e.Users
		if users == nil {
			users = []string{}
		}
		frame = userListFrame{Type: "user_list", Users: users}
	case ErrorEvent:
		frame = errorFrame{Type: "error", Code: e.Code, Message: e.Message}
	case PongEvent:
		frame = pongFrame{Type: "pong"}
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
	return json.Marshal(frame)
}
