package websocket

import (
	"sync"

	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

// Handler receives one decoded inbound frame
type Handler func(frame protocol.Frame)

type subscription struct {
	id      uint64
	handler Handler
}

// Dispatcher routes inbound frames to every handler subscribed to the
// frame's kind, in subscription order.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[protocol.Kind][]subscription
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs: make(map[protocol.Kind][]subscription),
	}
}

// Subscribe registers handler for kind and returns a function that removes it.
// Subscribing never replaces an earlier handler.
func (d *Dispatcher) Subscribe(kind protocol.Kind, handler Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.subs[kind] = append(d.subs[kind], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { d.unsubscribe(kind, id) })
	}
}

func (d *Dispatcher) unsubscribe(kind protocol.Kind, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[kind]
	for i, sub := range subs {
		if sub.id == id {
			d.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Dispatch delivers frame to the subscribers of its kind. It reports whether
// anyone was listening.
func (d *Dispatcher) Dispatch(frame protocol.Frame) bool {
	d.mu.RLock()
	subs := d.subs[frame.Kind()]
	d.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(frame)
	}
	return len(subs) > 0
}
