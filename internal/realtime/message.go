// Package realtime is the synchronization engine between the ground station
// backend and local state: the WebSocket connection lifecycle, the pause gate,
// the event dispatcher and the outbound command channel.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types.
const (
	TypeTelemetry  = "telemetry"
	TypeBuffer     = "buffer"
	TypeLog        = "log"
	TypeErrorRaise = "error_raise"
	TypeErrorClear = "error_clear"
)

var (
	// ErrUnknownType is returned by Dispatch for an unrecognized message type.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMalformedPayload is returned by Dispatch when a payload does not
	// decode for its message type.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrMalformedFrame is returned by DecodeMessage for frames that are not
	// a {"type", "data"} object.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Message is one inbound event as sent by the backend.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeMessage parses a raw text frame.
func DecodeMessage(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return msg, nil
}
