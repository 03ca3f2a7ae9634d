package realtime

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// DefaultMaxPending bounds the number of messages held while paused.
const DefaultMaxPending = 10000

// OverflowPolicy decides which message is lost when the paused queue is full.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued message to make room.
	DropOldest OverflowPolicy = "drop-oldest"
	// DropNewest discards the arriving message.
	DropNewest OverflowPolicy = "drop-newest"
)

// ParseOverflowPolicy validates s. An empty string selects DropOldest.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case "", DropOldest:
		return DropOldest, nil
	case DropNewest:
		return DropNewest, nil
	default:
		return "", fmt.Errorf("invalid overflow policy %q (want %s or %s)", s, DropOldest, DropNewest)
	}
}

// Handler consumes messages released by the gate.
type Handler interface {
	Dispatch(Message) error
}

// GateConfig configures a PauseGate.
type GateConfig struct {
	MaxPending int
	Overflow   OverflowPolicy

	// OnGap is called after a resume that had to drop messages, with the
	// number dropped during that pause. Called without the gate lock held.
	OnGap func(dropped uint64)
}

// PauseGate sits in front of the dispatcher. While paused it queues messages
// in arrival order; on resume it replays the queue before any later message.
//
// OnMessage and SetPaused share one mutex, so the gate is also the single
// point through which every store mutation flows.
type PauseGate struct {
	mu      sync.Mutex
	paused  bool
	pending []Message

	// Latest historical batch received while paused. Held outside the
	// bounded queue so it never evicts live messages.
	backfill []Message

	// dropped during the current pause
	gapDrops uint64

	handler    Handler
	maxPending int
	overflow   OverflowPolicy
	onGap      func(uint64)

	dropped  atomic.Uint64
	replayed atomic.Uint64
}

// NewPauseGate creates an unpaused gate feeding h.
func NewPauseGate(h Handler, cfg GateConfig) *PauseGate {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.Overflow == "" {
		cfg.Overflow = DropOldest
	}
	return &PauseGate{
		handler:    h,
		maxPending: cfg.MaxPending,
		overflow:   cfg.Overflow,
		onGap:      cfg.OnGap,
	}
}

// OnMessage dispatches msg now, or queues it while paused.
func (g *PauseGate) OnMessage(msg Message) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.paused {
		// Dispatcher errors are logged where they occur.
		_ = g.handler.Dispatch(msg)
		return
	}

	if len(g.pending) >= g.maxPending {
		g.dropped.Add(1)
		g.gapDrops++
		if g.overflow == DropNewest {
			if g.gapDrops == 1 {
				log.Printf("⚠️  realtime: pause queue full (%d), dropping newest messages\n", g.maxPending)
			}
			return
		}
		if g.gapDrops == 1 {
			log.Printf("⚠️  realtime: pause queue full (%d), dropping oldest messages\n", g.maxPending)
		}
		g.pending[0] = Message{}
		g.pending = g.pending[1:]
	}
	g.pending = append(g.pending, msg)
}

// OnBackfill applies a batch of historical log records. While paused the
// batch is held aside and replayed after the live queue on resume; a newer
// batch replaces an older one, since each fetch returns the full history.
// Backfill records never count against MaxPending.
func (g *PauseGate) OnBackfill(batch []Message) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		g.backfill = batch
		return
	}
	for _, msg := range batch {
		_ = g.handler.Dispatch(msg)
	}
}

// SetPaused engages or releases the gate. Releasing replays every queued
// message in arrival order before returning; messages arriving meanwhile
// wait on the gate lock and are applied afterwards.
func (g *PauseGate) SetPaused(paused bool) {
	g.mu.Lock()
	if paused == g.paused {
		g.mu.Unlock()
		return
	}
	if paused {
		g.paused = true
		g.mu.Unlock()
		return
	}

	queued := g.pending
	g.pending = nil
	for _, msg := range queued {
		_ = g.handler.Dispatch(msg)
	}
	g.replayed.Add(uint64(len(queued)))

	for _, msg := range g.backfill {
		_ = g.handler.Dispatch(msg)
	}
	g.backfill = nil
	g.paused = false

	gaps := g.gapDrops
	g.gapDrops = 0
	g.mu.Unlock()

	if gaps > 0 {
		log.Printf("⚠️  realtime: resumed with gaps, %d messages dropped while paused\n", gaps)
		if g.onGap != nil {
			g.onGap(gaps)
		}
	}
}

// Paused reports whether the gate is engaged.
func (g *PauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Pending returns the number of queued messages.
func (g *PauseGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Dropped returns the total number of messages lost to overflow.
func (g *PauseGate) Dropped() uint64 {
	return g.dropped.Load()
}

// GateStats describes the gate.
type GateStats struct {
	Paused          bool           `json:"paused"`
	Pending         int            `json:"pending"`
	BackfillPending int            `json:"backfill_pending"`
	MaxPending      int            `json:"max_pending"`
	Overflow        OverflowPolicy `json:"overflow"`
	Dropped         uint64         `json:"dropped"`
	Replayed        uint64         `json:"replayed"`
}

// Stats returns a snapshot of gate state.
func (g *PauseGate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateStats{
		Paused:          g.paused,
		Pending:         len(g.pending),
		BackfillPending: len(g.backfill),
		MaxPending:      g.maxPending,
		Overflow:        g.overflow,
		Dropped:         g.dropped.Load(),
		Replayed:        g.replayed.Load(),
	}
}
