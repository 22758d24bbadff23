// Package stream fans published values out to live subscribers.
package stream

import (
	"context"
	"sync"
)

const defaultBuffer = 16

// Hub fan-outs values to all active subscribers (SSE clients).
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	next   int
	buffer int
}

// New returns an empty hub whose subscriber channels hold buffer values.
func New[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub[T]{subs: make(map[int]chan T), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive values.
// The channel is closed when the provided context ends.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers v to every subscriber with room in its buffer. Slow
// subscribers miss values instead of blocking the publisher.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub[T]) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
