package host

import (
	"context"

	"github.com/zsiec/flvplay/internal/mailbox"
)

// Sink receives worker-to-host messages. Send must not block the caller.
type Sink interface {
	Send(Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Message)

// Send calls f(m).
func (f SinkFunc) Send(m Message) { f(m) }

// Outbox is an unbounded asynchronous Sink. The worker sends into it; a
// transport goroutine drains it with Next.
type Outbox struct {
	mb *mailbox.Mailbox[Message]
}

// NewOutbox creates an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{mb: mailbox.New[Message](64)}
}

// Send enqueues m. Messages sent after Close are dropped.
func (o *Outbox) Send(m Message) {
	_ = o.mb.Push(m)
}

// Next blocks until a message is available. It returns mailbox.ErrClosed
// once the outbox is closed and drained, or ctx.Err().
func (o *Outbox) Next(ctx context.Context) (Message, error) {
	return o.mb.Pop(ctx)
}

// Len returns the number of undelivered messages.
func (o *Outbox) Len() int {
	return o.mb.Len()
}

// Close stops accepting messages. Queued messages remain readable.
func (o *Outbox) Close() {
	o.mb.Close()
}
