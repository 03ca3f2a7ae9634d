package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// DefaultWriteTimeout bounds a single outbound write.
const DefaultWriteTimeout = 5 * time.Second

// Sender transmits one outbound frame.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// CommandChannel serializes operator commands onto the connection.
//
// Sends are fire-and-forget: nothing is acknowledged or retried, a closed
// link silently drops the command, and write failures are only logged.
// This is not a delivery guarantee; the vehicle link has its own control path.
type CommandChannel struct {
	sender  Sender
	timeout time.Duration

	sent    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// NewCommandChannel creates a channel writing through sender.
func NewCommandChannel(sender Sender, writeTimeout time.Duration) *CommandChannel {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &CommandChannel{sender: sender, timeout: writeTimeout}
}

type namedCommand struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type rawCommand struct {
	Type string     `json:"type"`
	Msg  rawPayload `json:"msg"`
}

type rawPayload struct {
	Command any   `json:"command"`
	Params  []any `json:"params"`
}

type clientLog struct {
	Type    string        `json:"type"`
	Message clientLogBody `json:"message"`
}

type clientLogBody struct {
	LogID     string         `json:"log_id"`
	Variables map[string]any `json:"variables"`
}

// SendNamed sends {"type":"command","message":action}.
func (c *CommandChannel) SendNamed(action string) {
	c.send(namedCommand{Type: "command", Message: action})
}

// SendRaw sends {"type":"command_raw","msg":{"command":command,"params":params}}.
// command must be a string or a number; anything else is logged and dropped.
func (c *CommandChannel) SendRaw(command any, params []any) {
	if !validRawCommand(command) {
		log.Printf("⚠️  realtime: raw command must be a string or number, got %T\n", command)
		c.failed.Add(1)
		return
	}
	if params == nil {
		params = []any{}
	}
	c.send(rawCommand{Type: "command_raw", Msg: rawPayload{Command: command, Params: params}})
}

// SendLog asks the backend to record a log entry on the client's behalf.
func (c *CommandChannel) SendLog(identifier string, variables map[string]any) {
	if variables == nil {
		variables = map[string]any{}
	}
	c.send(clientLog{Type: "log", Message: clientLogBody{LogID: identifier, Variables: variables}})
}

func (c *CommandChannel) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("⚠️  realtime: encode command: %v\n", err)
		c.failed.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	switch err := c.sender.Send(ctx, data); {
	case errors.Is(err, ErrNotOpen):
		c.skipped.Add(1)
	case err != nil:
		c.failed.Add(1)
		log.Printf("⚠️  realtime: command write failed: %v\n", err)
	default:
		c.sent.Add(1)
	}
}

func validRawCommand(command any) bool {
	switch command.(type) {
	case string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

// CommandStats counts command outcomes.
type CommandStats struct {
	Sent    uint64 `json:"sent"`
	Skipped uint64 `json:"skipped_not_open"`
	Failed  uint64 `json:"failed"`
}

// Stats returns command counters.
func (c *CommandChannel) Stats() CommandStats {
	return CommandStats{
		Sent:    c.sent.Load(),
		Skipped: c.skipped.Load(),
		Failed:  c.failed.Load(),
	}
}

// String implements fmt.Stringer for log lines.
func (s CommandStats) String() string {
	return fmt.Sprintf("sent=%d skipped=%d failed=%d", s.Sent, s.Skipped, s.Failed)
}
