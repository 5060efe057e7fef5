package core

import "sync"

// Handler receives the published event name and its payload
type Handler[K comparable, P any] func(event K, payload P)

type subscription[K comparable, P any] struct {
	id      uint64
	handler Handler[K, P]
}

// EventBus delivers named events to subscribers synchronously, in subscription order.
// The zero value is ready to use.
type EventBus[K comparable, P any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[K][]subscription[K, P]
}

// NewEventBus creates an empty bus
func NewEventBus[K comparable, P any]() *EventBus[K, P] {
	return &EventBus[K, P]{}
}

// Subscribe registers h for event and returns a function removing exactly this registration.
// Calling the returned function more than once is a no-op.
func (b *EventBus[K, P]) Subscribe(event K, h Handler[K, P]) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers == nil {
		b.handlers = make(map[K][]subscription[K, P])
	}
	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], subscription[K, P]{id: id, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(event, id) })
	}
}

func (b *EventBus[K, P]) remove(event K, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[event]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// copy-on-write so a publish holding the old slice is unaffected
		next := make([]subscription[K, P], 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, event)
		} else {
			b.handlers[event] = next
		}
		return
	}
}

// Publish calls every handler registered for event when the publish starts.
// Handlers run outside the bus lock and may subscribe or unsubscribe freely.
func (b *EventBus[K, P]) Publish(event K, payload P) {
	b.mu.Lock()
	snapshot := b.handlers[event]
	b.mu.Unlock()

	for _, s := range snapshot {
		s.handler(event, payload)
	}
}

// Len returns the number of handlers registered for event
func (b *EventBus[K, P]) Len(event K) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}
