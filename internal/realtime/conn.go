package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// DefaultReconnectDelay is the fixed wait between a disconnect and the next
// connection attempt.
const DefaultReconnectDelay = 2 * time.Second

// DefaultReadLimit caps a single inbound frame.
const DefaultReadLimit = 4 << 20

// ErrNotOpen is returned by Send when there is no open connection.
var ErrNotOpen = errors.New("connection not open")

// ConnState is the connection manager's lifecycle state.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Open
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// ConnConfig configures a ConnManager.
type ConnConfig struct {
	URL            string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	ReadLimit      int64
	Header         http.Header
}

// ConnManager owns the WebSocket to the backend. It runs a single loop:
//
//	Disconnected -> Connecting -> Open -> Disconnected -> (delay) -> Connecting ...
//
// Every way out of Open (dial error, read error, remote close, Stop) lands
// in Disconnected, and while running exactly one reconnect is scheduled per
// disconnect on a timer that Stop cancels.
type ConnManager struct {
	cfg  ConnConfig
	sink func(Message)

	mu      sync.Mutex
	state   ConnState
	conn    *websocket.Conn
	hooks   []func(ConnState)
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	stopOnce sync.Once

	attempts    atomic.Uint64
	connects    atomic.Uint64
	frames      atomic.Uint64
	parseErrors atomic.Uint64

	parseLog rate.Sometimes
}

// NewConnManager creates a manager delivering decoded messages to sink.
func NewConnManager(cfg ConnConfig, sink func(Message)) *ConnManager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	return &ConnManager{
		cfg:      cfg,
		sink:     sink,
		done:     make(chan struct{}),
		parseLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// OnStateChange registers fn to be called on every state transition, from
// the connection loop goroutine. Register hooks before Start.
func (m *ConnManager) OnStateChange(fn func(ConnState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Start launches the connection loop. It returns immediately; connection
// failures are handled by the loop, never returned.
func (m *ConnManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("connection manager already started")
	}
	if m.cfg.URL == "" {
		return fmt.Errorf("websocket URL is required")
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
	return nil
}

// Stop cancels any pending reconnect, closes the active connection and waits
// for the loop to exit. Safe to call more than once, and before Start.
func (m *ConnManager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		started := m.started
		m.started = true // a later Start is refused
		cancel := m.cancel
		m.mu.Unlock()

		if !started {
			return
		}
		cancel()
		<-m.done
	})
}

// State returns the current lifecycle state.
func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send writes data as one text frame. It returns ErrNotOpen when no
// connection is open.
func (m *ConnManager) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if conn == nil || state != Open {
		return ErrNotOpen
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (m *ConnManager) run(ctx context.Context) {
	defer close(m.done)

	for {
		m.setState(Connecting, nil)
		m.attempts.Add(1)

		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("⚠️  realtime: connect to %s failed: %v\n", m.cfg.URL, err)
			}
		} else {
			m.connects.Add(1)
			m.setState(Open, conn)
			log.Printf("🔌 realtime: connected to %s\n", m.cfg.URL)

			m.readLoop(ctx, conn)
			conn.CloseNow()
		}

		m.setState(Disconnected, nil)
		if ctx.Err() != nil {
			return
		}

		timer := time.NewTimer(m.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *ConnManager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, m.cfg.URL, &websocket.DialOptions{
		HTTPHeader: m.cfg.Header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(m.cfg.ReadLimit)
	return conn, nil
}

// readLoop forwards frames until the connection ends.
func (m *ConnManager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
				websocket.CloseStatus(err) == websocket.StatusGoingAway:
				log.Printf("🔌 realtime: connection closed by backend\n")
			default:
				log.Printf("⚠️  realtime: read error: %v\n", err)
			}
			return
		}
		m.frames.Add(1)

		if typ != websocket.MessageText {
			m.parseError(fmt.Errorf("unexpected %v frame", typ))
			continue
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			m.parseError(err)
			continue
		}
		m.sink(msg)
	}
}

func (m *ConnManager) parseError(err error) {
	m.parseErrors.Add(1)
	m.parseLog.Do(func() {
		log.Printf("⚠️  realtime: dropping frame: %v\n", err)
	})
}

func (m *ConnManager) setState(s ConnState, conn *websocket.Conn) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.conn = conn
	hooks := m.hooks
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(s)
	}
}

// ConnStats counts connection activity.
type ConnStats struct {
	State       string `json:"state"`
	URL         string `json:"url"`
	Attempts    uint64 `json:"attempts"`
	Connects    uint64 `json:"connects"`
	Frames      uint64 `json:"frames"`
	ParseErrors uint64 `json:"parse_errors"`
}

// Stats returns connection counters.
func (m *ConnManager) Stats() ConnStats {
	return ConnStats{
		State:       m.State().String(),
		URL:         m.cfg.URL,
		Attempts:    m.attempts.Load(),
		Connects:    m.connects.Load(),
		Frames:      m.frames.Load(),
		ParseErrors: m.parseErrors.Load(),
	}
}
