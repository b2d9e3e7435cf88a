package events

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus fans published events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event and the drop is logged.
//
// All methods are safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	buffer  int
	closed  bool
	dropped atomic.Int64
}

type subscription struct {
	names []Name
	ch    chan Event
}

func (s *subscription) wants(n Name) bool {
	return len(s.names) == 0 || slices.Contains(s.names, n)
}

// BusOption configures a [Bus].
type BusOption func(*Bus)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{subs: make(map[uint64]*subscription), buffer: DefaultBuffer}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe returns a channel receiving every published event whose name is in
// names, or every event when names is empty. The returned cancel function
// unsubscribes and closes the channel; it is idempotent.
func (b *Bus) Subscribe(names ...Name) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{names: slices.Clone(names), ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish delivers e to every interested subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	name := e.EventName()
	for _, s := range b.subs {
		if !s.wants(name) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			slog.Warn("events: subscriber buffer full, event dropped", "event", name, "key", e.Key())
		}
	}
}

// Dropped returns the number of deliveries skipped because a subscriber was
// full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close unsubscribes everyone and closes their channels. Later publishes are
// ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}

var _ Publisher = (*Bus)(nil)
