package bus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus is an in-process publish/subscribe event bus. Delivery never blocks the
// publisher: an event that does not fit a subscriber's buffer is dropped for
// that subscriber and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscription
	dropped atomic.Uint64
}

// subscription matches an event when its kind starts with any of prefixes.
// An empty prefix matches everything.
type subscription struct {
	prefixes []string
	ch       chan Event
}

func (s *subscription) matches(kind string) bool {
	for _, p := range s.prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Emit publishes an event of the given kind stamped with the current time.
// Emitting on a nil Bus is a no-op.
func (b *Bus) Emit(kind string, payload any) {
	if b == nil {
		return
	}
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Publish delivers evt to every matching subscriber, in subscription order.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(evt.Kind) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of the events whose kind starts with namespace,
// buffered to bufSize, and a function that ends the subscription.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(bufSize, []string{namespace})
}

// SubscribeKinds is Subscribe for several namespaces sharing one channel.
func (b *Bus) SubscribeKinds(bufSize int, namespaces ...string) (<-chan Event, func()) {
	return b.subscribe(bufSize, slices.Clone(namespaces))
}

func (b *Bus) subscribe(bufSize int, prefixes []string) (<-chan Event, func()) {
	sub := &subscription{prefixes: prefixes, ch: make(chan Event, bufSize)}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool { return s == sub })
			b.mu.Unlock()
		})
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
