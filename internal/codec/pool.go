package codec

import "sync"

// Pool recycles per-channel or per-plane buffers. Buffers are keyed by
// index (channel number or plane number) so that a returned buffer is
// handed back out for the same slot. Pool is safe for concurrent use.
type Pool[T any] struct {
	mu   sync.Mutex
	free map[int][][]T
	max  int
}

// NewPool creates a pool retaining at most maxPerIndex idle buffers per
// index. maxPerIndex <= 0 means 8.
func NewPool[T any](maxPerIndex int) *Pool[T] {
	if maxPerIndex <= 0 {
		maxPerIndex = 8
	}
	return &Pool[T]{free: make(map[int][][]T), max: maxPerIndex}
}

// Get returns a buffer of length n for index. Reused buffers are not
// cleared.
func (p *Pool[T]) Get(index, n int) []T {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.free[index]
	for i := len(list) - 1; i >= 0; i-- {
		if cap(list[i]) < n {
			continue
		}
		buf := list[i][:n]
		list[i] = list[len(list)-1]
		list[len(list)-1] = nil
		p.free[index] = list[:len(list)-1]
		return buf
	}
	return make([]T, n)
}

// Put returns buf to the slot for index. Nil buffers and buffers beyond
// the retention limit are dropped.
func (p *Pool[T]) Put(index int, buf []T) {
	if buf == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free[index]) >= p.max {
		return
	}
	p.free[index] = append(p.free[index], buf[:cap(buf)])
}

// Idle returns the number of idle buffers held for index.
func (p *Pool[T]) Idle(index int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free[index])
}
