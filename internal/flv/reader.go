package flv

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/zsiec/flvplay/internal/media"
)

// DefaultReadSize is the read buffer used by ReadFrames when size <= 0.
const DefaultReadSize = 64 * 1024

// ReadFrames returns a lazy, unbounded sequence of frames demultiplexed from
// r. The sequence ends cleanly at io.EOF (including a truncated final tag)
// and yields a non-nil error once for any other read failure or context
// cancellation.
func ReadFrames(ctx context.Context, r io.Reader, size int) iter.Seq2[*media.Frame, error] {
	if size <= 0 {
		size = DefaultReadSize
	}
	return func(yield func(*media.Frame, error) bool) {
		d := NewDemuxer(nil)
		buf := make([]byte, size)
		for {
			for {
				f, err := d.Poll()
				if errors.Is(err, ErrNeedMore) {
					break
				}
				if errors.Is(err, io.EOF) {
					return
				}
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(f, nil) {
					return
				}
			}

			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			n, err := r.Read(buf)
			if n > 0 {
				d.Feed(buf[:n])
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					d.Close()
				} else {
					d.CloseWithError(err)
				}
			}
		}
	}
}
