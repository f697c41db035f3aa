package flv

import (
	"io"
	"log/slog"

	"github.com/zsiec/flvplay/internal/media"
)

type parseState uint8

const (
	stateHeader parseState = iota
	stateTagHeader
	statePayload
)

// Demuxer turns a chunked tagged byte stream into frames. It first skips the
// fixed global header, then loops forever over tags: a 15-byte block (the
// previous tag size followed by the tag header) and then exactly
// PayloadLength payload bytes.
//
// Bytes beyond the current request are retained for the next request and
// partial requests wait for more chunks. The accumulation buffer and the
// parse state are the only state carried across chunks.
//
// Demuxer is not safe for concurrent use.
type Demuxer struct {
	log *slog.Logger

	state   parseState
	need    int
	pending TagHeader

	buf []byte
	off int

	closed bool
	err    error
	stats  Stats
}

// NewDemuxer creates a Demuxer positioned before the global header. If log
// is nil, slog.Default() is used.
func NewDemuxer(log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	return &Demuxer{
		log:   log.With("component", "flv-demuxer"),
		state: stateHeader,
		need:  HeaderSize,
	}
}

// Feed appends a chunk to the accumulation buffer. The chunk is copied, so
// callers may reuse it. Chunks fed after Close are ignored.
func (d *Demuxer) Feed(chunk []byte) {
	if d.closed || len(chunk) == 0 {
		return
	}
	// Drop the consumed prefix before growing.
	if d.off > 0 && d.off >= len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, chunk...)
}

// Close marks the end of input. Frames already complete in the buffer are
// still returned by Poll; a truncated trailing tag is discarded and Poll then
// reports io.EOF.
func (d *Demuxer) Close() {
	d.closed = true
}

// CloseWithError marks the end of input caused by a transport failure. Poll
// returns err instead of further frames. A nil err is equivalent to Close.
func (d *Demuxer) CloseWithError(err error) {
	d.closed = true
	if d.err == nil {
		d.err = err
	}
}

// Poll returns the next frame. It returns ErrNeedMore when the buffered bytes
// do not complete the current request, io.EOF once the input is closed and
// drained, or the error passed to CloseWithError.
func (d *Demuxer) Poll() (*media.Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	for {
		if d.buffered() < d.need {
			if !d.closed {
				return nil, ErrNeedMore
			}
			if rem := d.buffered(); rem > 0 {
				d.log.Debug("discarding truncated tail", "bytes", rem, "need", d.need)
				d.off += rem
			}
			return nil, io.EOF
		}

		block := d.buf[d.off : d.off+d.need]
		d.off += d.need
		d.stats.Bytes += int64(len(block))

		switch d.state {
		case stateHeader:
			d.state = stateTagHeader
			d.need = tagBlockSize

		case stateTagHeader:
			h, err := ParseTagHeader(block[PrevTagSizeLen:])
			if err != nil {
				return nil, err
			}
			d.pending = h
			d.state = statePayload
			d.need = int(h.PayloadLength)

		case statePayload:
			h := d.pending
			d.state = stateTagHeader
			d.need = tagBlockSize
			d.stats.Tags++

			if h.Type != TagTypeAudio && h.Type != TagTypeVideo {
				d.stats.SkippedTags++
				continue
			}

			payload := make([]byte, len(block))
			copy(payload, block)
			if h.Type == TagTypeAudio {
				return media.NewAudioFrame(h.Timestamp, payload), nil
			}
			return media.NewVideoFrame(h.Timestamp, payload), nil
		}
	}
}

// Stats returns a snapshot of the demuxer counters.
func (d *Demuxer) Stats() Stats {
	return d.stats
}

func (d *Demuxer) buffered() int {
	return len(d.buf) - d.off
}
