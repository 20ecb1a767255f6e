// Package server defines the wire protocol frames exchanged with chat clients
// and the strict parsing rules applied to inbound traffic.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/modchat/relay/internal/moderation"
)

// Frame type discriminators. Inbound frames are join or message; the relay
// additionally emits system frames.
const (
	TypeJoin   = "join"
	TypeChat   = "message"
	TypeSystem = "system"
)

// Inbound is a client-submitted frame, one of the two known variants.
type Inbound struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Message  string `json:"message,omitempty"`
}

// ChatFrame is the relayed form of a chat message: the sender's fields plus
// the moderation verdict. The verdict is advisory metadata; flagged messages
// are still delivered.
type ChatFrame struct {
	Type         string             `json:"type"`
	Username     string             `json:"username"`
	Message      string             `json:"message"`
	FilterResult moderation.Verdict `json:"filter_result"`
}

// SystemFrame carries relay-generated notices such as join announcements.
type SystemFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewJoinNotice builds the system frame announcing a user joining a room.
func NewJoinNotice(username string) SystemFrame {
	return SystemFrame{Type: TypeSystem, Message: fmt.Sprintf("%s has joined the room.", username)}
}

// ParseInbound decodes a raw client frame against the two known variants.
// Unknown types and unrecognized fields are rejected rather than forwarded;
// the caller treats the error as a per-frame protocol violation, never as a
// session-fatal condition.
func ParseInbound(raw []byte) (Inbound, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var msg Inbound
	if err := dec.Decode(&msg); err != nil {
		return Inbound{}, fmt.Errorf("decoding frame: %w", err)
	}

	switch msg.Type {
	case TypeJoin:
		if msg.Username == "" {
			return Inbound{}, fmt.Errorf("join frame missing username")
		}
	case TypeChat:
		if msg.Username == "" {
			return Inbound{}, fmt.Errorf("chat frame missing username")
		}
	default:
		return Inbound{}, fmt.Errorf("unknown frame type %q", msg.Type)
	}
	return msg, nil
}
