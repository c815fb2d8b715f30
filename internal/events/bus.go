// Package events fans out line activity to in-process subscribers: the
// websocket hub, the MQTT bridge and Lua scripts.
package events

import (
	"log/slog"
	"sync"
)

type Type string

const (
	FrameRX     Type = "frame_rx"
	FrameTX     Type = "frame_tx"
	DecodeError Type = "decode_error"
	LinkControl Type = "link_control"
)

type Event struct {
	Type Type       `json:"type"`
	Data FrameEvent `json:"data"`
}

type Handler func(Event)

type subscription struct {
	id      uint64
	types   map[Type]bool // nil: every type
	handler Handler
}

// Bus delivers events synchronously in subscription order. A panicking
// handler is logged and does not affect the others.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With("component", "events")}
}

// On subscribes handler to the given types. It returns an unsubscribe func.
func (b *Bus) On(handler Handler, types ...Type) func() {
	var set map[Type]bool
	if len(types) > 0 {
		set = make(map[Type]bool, len(types))
		for _, t := range types {
			set[t] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, types: set, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// OnAll subscribes handler to every event type.
func (b *Bus) OnAll(handler Handler) func() {
	return b.On(handler)
}

func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.types == nil || s.types[ev.Type] {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "type", ev.Type, "panic", r)
		}
	}()
	h(ev)
}
