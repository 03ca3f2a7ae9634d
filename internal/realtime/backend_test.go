package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a WebSocket relay standing in for the ground station
// backend. It records every accepted connection and every inbound frame.
type fakeBackend struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted []time.Time

	acceptCh chan *websocket.Conn
	frames   chan []byte
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{
		acceptCh: make(chan *websocket.Conn, 16),
		frames:   make(chan []byte, 64),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.accepted = append(b.accepted, time.Now())
	b.mu.Unlock()
	b.acceptCh <- conn

	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		b.frames <- data
	}
}

func (b *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBackend) connCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// waitConn returns the next accepted connection.
func (b *fakeBackend) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.acceptCh:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (b *fakeBackend) send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
}

// expectFrame returns the next frame the client sent.
func (b *fakeBackend) expectFrame(t *testing.T) string {
	t.Helper()
	select {
	case f := <-b.frames:
		return string(f)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame from client")
		return ""
	}
}

func (b *fakeBackend) expectNoFrame(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case f := <-b.frames:
		t.Fatalf("unexpected frame from client: %s", f)
	case <-time.After(wait):
	}
}

func waitState(t *testing.T, state func() ConnState, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return state() == want },
		3*time.Second, 5*time.Millisecond, "state never became %s", want)
}
