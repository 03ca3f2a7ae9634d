package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (s *sinkRecorder) add(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *sinkRecorder) all() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func TestConnManagerReconnectsOnceAfterDelay(t *testing.T) {
	b := newFakeBackend(t)
	const delay = 150 * time.Millisecond

	m := NewConnManager(ConnConfig{URL: b.url(), ReconnectDelay: delay}, func(Message) {})

	var mu sync.Mutex
	var states []ConnState
	m.OnStateChange(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	first := b.waitConn(t)
	waitState(t, m.State, Open)

	closedAt := time.Now()
	first.CloseNow()

	b.waitConn(t)
	assert.GreaterOrEqual(t, time.Since(closedAt), delay, "reconnect must wait the fixed delay")
	waitState(t, m.State, Open)

	// One disconnect, one reconnect: no burst of attempts.
	time.Sleep(3 * delay)
	assert.Equal(t, 2, b.connCount())
	assert.Equal(t, uint64(2), m.Stats().Attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnState{Connecting, Open, Disconnected, Connecting, Open}, states)
}

func TestConnManagerRetriesDialFailures(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	m := NewConnManager(ConnConfig{URL: url, ReconnectDelay: 30 * time.Millisecond}, func(Message) {})
	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return m.Stats().Attempts >= 3 },
		3*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, Open, m.State())

	m.Stop()
	after := m.Stats().Attempts
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, m.Stats().Attempts, "no attempts after Stop")
	assert.Equal(t, Disconnected, m.State())
}

func TestConnManagerStopCancelsPendingReconnect(t *testing.T) {
	b := newFakeBackend(t)
	m := NewConnManager(ConnConfig{URL: b.url(), ReconnectDelay: 10 * time.Second}, func(Message) {})
	require.NoError(t, m.Start(context.Background()))

	conn := b.waitConn(t)
	waitState(t, m.State, Open)
	conn.CloseNow()
	waitState(t, m.State, Disconnected)

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the reconnect timer")
	}
	assert.Equal(t, 1, b.connCount())
}

func TestConnManagerStopIsIdempotent(t *testing.T) {
	b := newFakeBackend(t)
	m := NewConnManager(ConnConfig{URL: b.url()}, func(Message) {})

	require.NoError(t, m.Start(context.Background()))
	b.waitConn(t)
	waitState(t, m.State, Open)

	assert.NotPanics(t, func() {
		m.Stop()
		m.Stop()
	})
	assert.Equal(t, Disconnected, m.State())
	assert.Error(t, m.Start(context.Background()), "a stopped manager cannot restart")

	never := NewConnManager(ConnConfig{URL: b.url()}, func(Message) {})
	assert.NotPanics(t, never.Stop)
}

func TestConnManagerDropsUnparseableFrames(t *testing.T) {
	b := newFakeBackend(t)
	sink := &sinkRecorder{}
	m := NewConnManager(ConnConfig{URL: b.url()}, sink.add)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	conn := b.waitConn(t)
	waitState(t, m.State, Open)

	b.send(t, conn, `this is not json`)
	b.send(t, conn, `{"data":{}}`)
	b.send(t, conn, `{"type":"telemetry","data":{"ALT":1}}`)

	require.Eventually(t, func() bool { return len(sink.all()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, TypeTelemetry, sink.all()[0].Type)
	assert.Equal(t, uint64(2), m.Stats().ParseErrors)
	assert.Equal(t, Open, m.State(), "bad frames do not close the connection")
}

func TestConnManagerSendRequiresOpen(t *testing.T) {
	m := NewConnManager(ConnConfig{URL: "ws://127.0.0.1:1"}, func(Message) {})
	assert.ErrorIs(t, m.Send(context.Background(), []byte(`{}`)), ErrNotOpen)
}

func TestConnManagerRequiresURL(t *testing.T) {
	m := NewConnManager(ConnConfig{}, func(Message) {})
	assert.Error(t, m.Start(context.Background()))
}
