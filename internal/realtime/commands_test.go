package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsSilentWhenDisconnected(t *testing.T) {
	b := newFakeBackend(t)
	m := NewConnManager(ConnConfig{URL: b.url()}, func(Message) {})
	c := NewCommandChannel(m, 0)

	assert.NotPanics(t, func() {
		c.SendNamed("ARM")
		c.SendRaw("MAV_CMD_NAV_RETURN_TO_LAUNCH", nil)
		c.SendLog("UI0001", nil)
	})

	assert.Equal(t, CommandStats{Skipped: 3}, c.Stats())
	assert.Equal(t, 0, b.connCount())
	b.expectNoFrame(t, 50*time.Millisecond)
}

func TestCommandWireFormat(t *testing.T) {
	b := newFakeBackend(t)
	m := NewConnManager(ConnConfig{URL: b.url()}, func(Message) {})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	b.waitConn(t)
	waitState(t, m.State, Open)

	c := NewCommandChannel(m, time.Second)

	c.SendNamed("takeoff")
	assert.JSONEq(t, `{"type":"command","message":"takeoff"}`, b.expectFrame(t))

	c.SendRaw(400, []any{1, 21196})
	assert.JSONEq(t, `{"type":"command_raw","msg":{"command":400,"params":[1,21196]}}`, b.expectFrame(t))

	c.SendRaw("SET_MODE", nil)
	assert.JSONEq(t, `{"type":"command_raw","msg":{"command":"SET_MODE","params":[]}}`, b.expectFrame(t))

	c.SendLog("UI0100", map[string]any{"user": "op1"})
	assert.JSONEq(t, `{"type":"log","message":{"log_id":"UI0100","variables":{"user":"op1"}}}`, b.expectFrame(t))

	assert.Equal(t, uint64(4), c.Stats().Sent)
}

func TestCommandRejectsInvalidRawCommand(t *testing.T) {
	c := NewCommandChannel(sendFunc(func(context.Context, []byte) error {
		t.Fatal("invalid command must not be sent")
		return nil
	}), 0)

	c.SendRaw(map[string]any{"x": 1}, nil)
	assert.Equal(t, uint64(1), c.Stats().Failed)
}

func TestCommandWriteFailureIsOnlyCounted(t *testing.T) {
	c := NewCommandChannel(sendFunc(func(context.Context, []byte) error {
		return errors.New("broken pipe")
	}), 0)

	assert.NotPanics(t, func() { c.SendNamed("land") })
	assert.Equal(t, CommandStats{Failed: 1}, c.Stats())
}

func TestCommandUsesWriteTimeout(t *testing.T) {
	var deadline time.Time
	c := NewCommandChannel(sendFunc(func(ctx context.Context, _ []byte) error {
		deadline, _ = ctx.Deadline()
		return nil
	}), 250*time.Millisecond)

	start := time.Now()
	c.SendNamed("arm")
	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, start.Add(250*time.Millisecond), deadline, 100*time.Millisecond)
}

type sendFunc func(ctx context.Context, data []byte) error

func (f sendFunc) Send(ctx context.Context, data []byte) error { return f(ctx, data) }
