package ws

import (
	"encoding/json"
	"fmt"

	"github.com/coldvault/broker/internal/model"
)

type intent struct {
	Cmd  *string `json:"cmd"`
	Type string  `json:"type"`
}

// Classify determines the protocol of a connection from its first frame:
// a frame carrying "cmd" opens a command session, a chat join opens a chat
// session.
func Classify(first []byte) (Protocol, error) {
	var in intent
	if err := json.Unmarshal(first, &in); err != nil {
		return ProtocolUnknown, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}

	switch {
	case in.Cmd != nil:
		return ProtocolCommand, nil
	case in.Type == "join":
		return ProtocolChat, nil
	default:
		return ProtocolUnknown, fmt.Errorf("%w: cannot determine protocol", model.ErrMalformedMessage)
	}
}
