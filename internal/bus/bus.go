package bus

import (
	"sort"
	"strings"
	"sync"
)

// Handler is a synchronous event callback.
type Handler func(Event)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Subscribers either receive events on a buffered channel (Subscribe) or are
// invoked synchronously on the publishing goroutine (Handle).
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]*subscription
	handlers map[int]*handlerEntry
	next     int
}

type subscription struct {
	namespace string
	ch        chan Event
}

type handlerEntry struct {
	namespace string
	fn        Handler
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs:     make(map[int]*subscription),
		handlers: make(map[int]*handlerEntry),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of event.Kind.
// Handlers run after the bus lock is released, so a handler may publish or
// unsubscribe without deadlocking.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
	var ids []int
	for id, h := range b.handlers {
		if strings.HasPrefix(evt.Kind, h.namespace) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	fns := make([]Handler, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.handlers[id].fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Handle registers fn for every event whose kind starts with namespace.
// Handlers are invoked in registration order. Returns an unsubscribe function.
func (b *Bus) Handle(namespace string, fn Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = &handlerEntry{namespace: namespace, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}
