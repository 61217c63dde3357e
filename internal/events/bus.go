// Package events provides the in-process publish/subscribe bus used by the
// store, the sync engine and the print job processor to announce state changes.
package events

import (
	"log/slog"
	"sync"
)

// Handler receives an event payload. Handlers must not assume any ordering
// between subscribers of the same event.
type Handler func(payload any)

// Bus is a named-event registry with per-handler error isolation: a panicking
// subscriber is logged and never blocks other subscribers or the emitter.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]Handler
}

// NewBus creates an empty bus. logger may not be nil.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
	}
}

// On registers a handler for eventName and returns an unsubscribe function.
// Unsubscribing twice is a no-op.
func (b *Bus) On(eventName string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.handlers[eventName]
	if !ok {
		set = make(map[int]Handler)
		b.handlers[eventName] = set
	}

	id := b.nextID
	b.nextID++
	set[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventName], id)
	}
}

// Emit delivers payload to every handler registered for eventName,
// synchronously, in unspecified order. Panics inside a handler are recovered
// and logged.
func (b *Bus) Emit(eventName string, payload any) {
	b.mu.Lock()
	set := b.handlers[eventName]
	// Снимок под локом: подписка/отписка из обработчика не должна
	// взаимодействовать с текущей рассылкой.
	snapshot := make([]Handler, 0, len(set))
	for _, h := range set {
		snapshot = append(snapshot, h)
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		b.invoke(eventName, h, payload)
	}
}

func (b *Bus) invoke(eventName string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", eventName, "panic", r)
		}
	}()
	h(payload)
}
