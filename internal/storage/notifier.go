package storage

import "sync"

// Notifier fans out change signals to observers such as the operator console
// WebSocket or the terminal watch view.
type Notifier struct {
	mu          sync.Mutex
	subscribers map[uint64]chan struct{}
	nextID      uint64
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[uint64]chan struct{}),
	}
}

// Subscribe returns a notification channel and an unsubscribe function.
// The channel is buffered with capacity 1 so rapid changes coalesce into a
// single pending signal; observers re-read the stores when woken.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	ch := make(chan struct{}, 1)
	n.subscribers[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subscribers, id)
		})
	}

	return ch, unsubscribe
}

// Notify sends a non-blocking signal to every subscriber.
// Safe to call on a nil Notifier.
func (n *Notifier) Notify() {
	if n == nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// A signal is already pending.
		}
	}
}

// Count returns the number of active subscribers.
func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers)
}
