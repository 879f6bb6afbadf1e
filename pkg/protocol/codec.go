// ABOUTME: JSON wire form of control messages
// ABOUTME: Quit is the bare string "quit"; snapshots use a type/payload envelope
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// envelope mirrors the type/payload framing used on the websocket
type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode renders a message for the wire
func Encode(msg Message) ([]byte, error) {
	switch msg.Kind {
	case KindQuit:
		return json.Marshal(string(KindQuit))
	case KindSnapshot:
		payload, err := json.Marshal(msg.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		return json.Marshal(envelope{Type: KindSnapshot, Payload: payload})
	default:
		return nil, fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

// Decode parses a wire message. Unknown kinds decode without error and
// carry their kind so the receiver can ignore them.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		return Message{Kind: Kind(s)}, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if env.Type != KindSnapshot {
		return Message{Kind: env.Type}, nil
	}

	var raw map[string]Peer
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &raw); err != nil {
			return Message{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}

	snap := make(Snapshot, len(raw))
	for key, p := range raw {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return Message{}, fmt.Errorf("bad peer id %q: %w", key, err)
		}
		p.ID = uint32(id)
		snap[p.ID] = p
	}
	return Message{Kind: KindSnapshot, Snapshot: snap}, nil
}
