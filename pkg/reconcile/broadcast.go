package reconcile

import "sync"

// Broadcast fans a value out to any number of subscribers and remembers the
// last one, so a subscriber that joins late starts from the current value.
//
// Each subscriber has a mailbox of one: a slow reader never blocks Publish and
// only ever sees the newest value once it reads again.
type Broadcast[T any] struct {
	mu     sync.Mutex
	last   T
	has    bool
	closed bool
	subs   map[chan T]struct{}
}

// NewBroadcast returns an empty broadcast.
func NewBroadcast[T any]() *Broadcast[T] {
	return &Broadcast[T]{subs: make(map[chan T]struct{})}
}

// NewBroadcastWith returns a broadcast seeded with v.
func NewBroadcastWith[T any](v T) *Broadcast[T] {
	b := NewBroadcast[T]()
	b.last, b.has = v, true
	return b
}

// Publish records v as the latest value and delivers it to every subscriber.
func (b *Broadcast[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last, b.has = v, true
	for ch := range b.subs {
		offer(ch, v)
	}
}

// Last returns the most recent value and whether one was ever published.
func (b *Broadcast[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.has
}

// Subscribe returns a channel that immediately holds the last value (if any)
// followed by live values, and a cancel func that closes it. The channel is
// also closed when the broadcast is closed.
func (b *Broadcast[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.has {
		ch <- b.last
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Close closes every subscriber channel; later publishes are dropped.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// offer replaces whatever is waiting in the mailbox with v. Callers hold the
// lock, so this is the only sender and the send cannot block.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
