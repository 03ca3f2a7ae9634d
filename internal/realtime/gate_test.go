package realtime

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Handler that remembers the order messages were dispatched in.
type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) Dispatch(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, string(msg.Data))
	return nil
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func msg(tag string) Message {
	return Message{Type: TypeTelemetry, Data: json.RawMessage(tag)}
}

func TestPauseGatePassThrough(t *testing.T) {
	rec := &recorder{}
	g := NewPauseGate(rec, GateConfig{})

	g.OnMessage(msg("1"))
	g.OnMessage(msg("2"))

	assert.Equal(t, []string{"1", "2"}, rec.order())
	assert.False(t, g.Paused())
	assert.Equal(t, 0, g.Pending())
}

func TestPauseGateReplaysInArrivalOrder(t *testing.T) {
	rec := &recorder{}
	g := NewPauseGate(rec, GateConfig{})

	g.SetPaused(true)
	g.OnMessage(msg("m1"))
	g.OnMessage(msg("m2"))
	g.OnMessage(msg("m3"))

	assert.Empty(t, rec.order(), "nothing dispatched while paused")
	assert.Equal(t, 3, g.Pending())

	g.SetPaused(false)
	g.OnMessage(msg("m4"))

	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, rec.order())
	assert.Equal(t, 0, g.Pending())
	assert.Equal(t, uint64(3), g.Stats().Replayed)
}

func TestPauseGateRedundantTransitions(t *testing.T) {
	rec := &recorder{}
	g := NewPauseGate(rec, GateConfig{})

	g.SetPaused(false)
	g.SetPaused(true)
	g.OnMessage(msg("a"))
	g.SetPaused(true)
	assert.Equal(t, 1, g.Pending(), "re-pausing keeps the queue")

	g.SetPaused(false)
	g.SetPaused(false)
	assert.Equal(t, []string{"a"}, rec.order())
}

// Messages racing a resume must never overtake the replayed queue.
func TestPauseGateResumeRacingLiveMessages(t *testing.T) {
	rec := &recorder{}
	g := NewPauseGate(rec, GateConfig{})

	g.SetPaused(true)
	for i := 0; i < 100; i++ {
		g.OnMessage(msg("q" + strconv.Itoa(i)))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			g.OnMessage(msg("l" + strconv.Itoa(i)))
		}
	}()
	g.SetPaused(false)
	wg.Wait()

	order := rec.order()
	require.Len(t, order, 200)

	// Queued messages keep their relative order.
	var queued []string
	for _, s := range order {
		if s[0] == 'q' {
			queued = append(queued, s)
		}
	}
	for i, s := range queued {
		assert.Equal(t, "q"+strconv.Itoa(i), s)
	}

	// Every live message that arrived after the resume was dispatched
	// after the last replayed one.
	lastQueued := -1
	for i, s := range order {
		if s == "q99" {
			lastQueued = i
		}
	}
	for i, s := range order {
		if s[0] == 'l' && i < lastQueued {
			// A live message may only precede the replay if it was queued,
			// which would have made it part of the replay itself.
			t.Fatalf("live message %s dispatched before replay finished", s)
		}
	}
}

func TestPauseGateDropOldest(t *testing.T) {
	rec := &recorder{}
	var gaps []uint64
	g := NewPauseGate(rec, GateConfig{
		MaxPending: 2,
		OnGap:      func(n uint64) { gaps = append(gaps, n) },
	})

	g.SetPaused(true)
	g.OnMessage(msg("1"))
	g.OnMessage(msg("2"))
	g.OnMessage(msg("3"))
	g.OnMessage(msg("4"))

	assert.Equal(t, 2, g.Pending())
	assert.Equal(t, uint64(2), g.Dropped())

	g.SetPaused(false)
	assert.Equal(t, []string{"3", "4"}, rec.order())
	assert.Equal(t, []uint64{2}, gaps)

	// A clean pause/resume afterwards reports no gap.
	g.SetPaused(true)
	g.OnMessage(msg("5"))
	g.SetPaused(false)
	assert.Equal(t, []uint64{2}, gaps)
	assert.Equal(t, uint64(2), g.Dropped())
}

func TestPauseGateDropNewest(t *testing.T) {
	rec := &recorder{}
	g := NewPauseGate(rec, GateConfig{MaxPending: 2, Overflow: DropNewest})

	g.SetPaused(true)
	g.OnMessage(msg("1"))
	g.OnMessage(msg("2"))
	g.OnMessage(msg("3"))

	g.SetPaused(false)
	assert.Equal(t, []string{"1", "2"}, rec.order())
	assert.Equal(t, uint64(1), g.Dropped())
}

func TestPauseGateBackfillDoesNotEvictLiveMessages(t *testing.T) {
	rec := &recorder{}
	var gaps []uint64
	g := NewPauseGate(rec, GateConfig{
		MaxPending: 2,
		OnGap:      func(n uint64) { gaps = append(gaps, n) },
	})

	g.SetPaused(true)
	g.OnMessage(msg("1"))
	g.OnMessage(msg("2"))
	g.OnBackfill([]Message{msg("h1"), msg("h2"), msg("h3")})
	// a later fetch returns the full history and supersedes the first
	g.OnBackfill([]Message{msg("h1"), msg("h2"), msg("h3"), msg("h4")})

	stats := g.Stats()
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 4, stats.BackfillPending)
	assert.Zero(t, stats.Dropped)
	assert.Empty(t, rec.order(), "nothing applied while paused")

	g.SetPaused(false)
	assert.Equal(t, []string{"1", "2", "h1", "h2", "h3", "h4"}, rec.order())
	assert.Empty(t, gaps)
	assert.Zero(t, g.Stats().BackfillPending)

	g.OnBackfill([]Message{msg("h5")})
	assert.Equal(t, "h5", rec.order()[6], "unpaused backfill applies immediately")
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)

	p, err = ParseOverflowPolicy("drop-newest")
	require.NoError(t, err)
	assert.Equal(t, DropNewest, p)

	_, err = ParseOverflowPolicy("block")
	assert.Error(t, err)
}

func TestPauseGateSetPausedDoesNotBlockReaders(t *testing.T) {
	g := NewPauseGate(&recorder{}, GateConfig{})
	done := make(chan struct{})
	go func() {
		g.SetPaused(true)
		_ = g.Paused()
		_ = g.Stats()
		g.SetPaused(false)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gate deadlocked")
	}
}
