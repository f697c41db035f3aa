// Package codec defines the boundary between the scheduler and the external
// audio/video decoders.
//
// A Decoder accepts raw tag payloads and reports results asynchronously
// through the sink it was constructed with. Sinks may be called zero or more
// times per Decode, before or after Decode returns. Plane and sample slices
// passed to a sink are owned by the decoder and are only valid for the
// duration of the call.
package codec

import (
	"errors"
	"fmt"

	"github.com/zsiec/flvplay/internal/media"
)

// Sentinel errors shared by decoder implementations.
var (
	ErrUnsupportedCodec = errors.New("codec: unsupported codec")
	ErrNotConfigured    = errors.New("codec: decoder not configured")
	ErrShortPayload     = errors.New("codec: short payload")
)

// AudioSink receives decoded audio.
type AudioSink interface {
	// ConfigureAudio announces the output format before the first
	// AudioReady.
	ConfigureAudio(channels, sampleRate int)
	// AudioReady delivers one planar float32 buffer per channel.
	AudioReady(buffers [][]float32)
}

// VideoSink receives decoded pictures.
type VideoSink interface {
	// ConfigureVideo announces the picture size before the first
	// VideoReady.
	ConfigureVideo(width, height int)
	// VideoReady delivers one I420 picture: a full-size luma plane and two
	// quarter-size chroma planes. pts is the composition time offset.
	VideoReady(pts int64, y, u, v []byte)
}

// Callbacks is the capability set a presentation layer implements so it can
// be injected into both decoders of a session.
type Callbacks interface {
	AudioSink
	VideoSink
}

// Decoder is one external decoder instance.
type Decoder interface {
	// Decode submits one payload. A returned error is a DecoderError
	// candidate and is forwarded to the host unchanged.
	Decode(payload []byte) error
	// Reset releases internal buffers. The decoder may be reused after a
	// fresh configuration payload.
	Reset()
}

// Factory creates the decoder pair for a session.
type Factory interface {
	NewAudio(sink AudioSink) Decoder
	NewVideo(sink VideoSink) Decoder
}

// DecoderError wraps a failure raised by a decoder. It is opaque to the
// pipeline and surfaced to the host as-is.
type DecoderError struct {
	Target media.Target
	Err    error
}

func (e *DecoderError) Error() string {
	return fmt.Sprintf("codec: %s decoder: %v", e.Target, e.Err)
}

func (e *DecoderError) Unwrap() error {
	return e.Err
}
