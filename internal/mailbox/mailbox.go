// Package mailbox provides an unbounded, goroutine-safe FIFO used to hand
// work and messages between goroutines without ever blocking the sender.
package mailbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close, and by Pop once a closed
// mailbox has been drained.
var ErrClosed = errors.New("mailbox: closed")

// Mailbox is an unbounded FIFO. Any number of goroutines may Push; a single
// consumer is expected to Pop or drain via Ready and TryPop.
//
// The notify channel has capacity 1 so that a Push never blocks and a
// waiting consumer is woken at least once per batch of pushes.
type Mailbox[T any] struct {
	notify chan struct{}

	mu     sync.Mutex
	items  []T
	head   int
	closed bool
}

// New creates a Mailbox with initial capacity n.
func New[T any](n int) *Mailbox[T] {
	return &Mailbox[T]{
		notify: make(chan struct{}, 1),
		items:  make([]T, 0, n),
	}
}

// Push appends v. It returns ErrClosed if the mailbox has been closed.
func (m *Mailbox[T]) Push(v T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.items = append(m.items, v)
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// TryPop removes the head item without blocking.
func (m *Mailbox[T]) TryPop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popLocked()
}

func (m *Mailbox[T]) popLocked() (T, bool) {
	var zero T
	if m.head >= len(m.items) {
		return zero, false
	}
	v := m.items[m.head]
	m.items[m.head] = zero
	m.head++
	if m.head == len(m.items) {
		m.items = m.items[:0]
		m.head = 0
	}
	return v, true
}

// Pop removes the head item, blocking until one is available, the mailbox
// is closed and drained, or ctx is done.
func (m *Mailbox[T]) Pop(ctx context.Context) (T, error) {
	for {
		m.mu.Lock()
		v, ok := m.popLocked()
		closed := m.closed
		m.mu.Unlock()
		if ok {
			return v, nil
		}
		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-m.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Ready returns a channel that receives after pushes. It is closed by
// Close. Consumers that select on Ready should drain with TryPop.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.notify
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) - m.head
}

// Close stops further pushes. Items already queued can still be popped.
// Close is idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.notify)
}
