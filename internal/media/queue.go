package media

// Queue is the ordered buffer of demultiplexed frames awaiting decode.
// Insertion order is arrival order, which the container guarantees is also
// presentation order. Queue is not safe for concurrent use; the demuxer and
// the scheduler both touch it from the worker loop only.
type Queue struct {
	frames []*Frame
	head   int
}

// NewQueue creates an empty queue with room for n frames.
func NewQueue(n int) *Queue {
	return &Queue{frames: make([]*Frame, 0, n)}
}

// Push appends a frame to the tail.
func (q *Queue) Push(f *Frame) {
	q.frames = append(q.frames, f)
}

// Peek returns the head frame without removing it, or nil if empty.
func (q *Queue) Peek() *Frame {
	if q.head >= len(q.frames) {
		return nil
	}
	return q.frames[q.head]
}

// Pop removes and returns the head frame, or nil if empty.
func (q *Queue) Pop() *Frame {
	if q.head >= len(q.frames) {
		return nil
	}
	f := q.frames[q.head]
	q.frames[q.head] = nil
	q.head++

	// Compact once the consumed prefix dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.frames) {
		n := copy(q.frames, q.frames[q.head:])
		clear(q.frames[n:])
		q.frames = q.frames[:n]
		q.head = 0
	}
	return f
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	return len(q.frames) - q.head
}

// Reset drops every queued frame.
func (q *Queue) Reset() {
	clear(q.frames)
	q.frames = q.frames[:0]
	q.head = 0
}
