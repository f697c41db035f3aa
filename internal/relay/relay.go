// Package relay turns decoder output into host messages. Video pictures are
// rendered into an image by an external Renderer when one is available;
// otherwise the raw I420 planes are copied into pooled buffers and handed to
// the host. Decoded audio is always forwarded as planar buffers.
package relay

import (
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/flvplay/internal/codec"
	"github.com/zsiec/flvplay/internal/host"
)

// Renderer converts I420 planes into a displayable image. It stands in for
// the GPU pipeline owned by the host platform.
type Renderer interface {
	Configure(width, height int) error
	Render(y, u, v []byte) (*host.Image, error)
}

// Metrics supplies the timing figures attached to every video frame.
type Metrics interface {
	// Bitrate is the current ingest estimate in bits per second.
	Bitrate() float64
	// Delay is the latest scheduler delay in milliseconds.
	Delay() int64
}

// Options configures a Relay.
type Options struct {
	Renderer         Renderer
	Metrics          Metrics
	ForceNoOffscreen bool
	Log              *slog.Logger
}

// Relay implements codec.Callbacks on behalf of a session.
type Relay struct {
	log      *slog.Logger
	sink     host.Sink
	renderer Renderer
	metrics  Metrics
	force    bool

	width, height int
	render        bool

	planes  *codec.Pool[byte]
	samples *codec.Pool[float32]

	videoFrames  atomic.Int64
	audioFrames  atomic.Int64
	renderErrors atomic.Int64
}

var _ codec.Callbacks = (*Relay)(nil)

// New creates a Relay that sends to sink.
func New(sink host.Sink, opts Options) *Relay {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:      log.With("component", "relay"),
		sink:     sink,
		renderer: opts.Renderer,
		metrics:  opts.Metrics,
		force:    opts.ForceNoOffscreen,
		planes:   codec.NewPool[byte](4),
		samples:  codec.NewPool[float32](8),
	}
}

// ConfigureAudio forwards the audio format to the host.
func (r *Relay) ConfigureAudio(channels, sampleRate int) {
	r.sink.Send(host.AudioConfigured(channels, sampleRate))
}

// AudioReady copies each channel into a pooled buffer and transfers the set
// to the host.
func (r *Relay) AudioReady(buffers [][]float32) {
	out := make([][]float32, len(buffers))
	for i, b := range buffers {
		out[i] = r.samples.Get(i, len(b))
		copy(out[i], b)
	}
	r.audioFrames.Add(1)
	r.sink.Send(host.AudioFrame(out))
}

// ConfigureVideo records the picture size, prepares the renderer and
// forwards the size to the host. A renderer that fails to configure is
// bypassed in favour of raw planes.
func (r *Relay) ConfigureVideo(width, height int) {
	r.width, r.height = width, height
	r.render = r.renderer != nil && !r.force
	if r.render {
		if err := r.renderer.Configure(width, height); err != nil {
			r.log.Warn("renderer unavailable, sending raw planes", "error", err)
			r.render = false
		}
	}
	r.sink.Send(host.VideoConfigured(width, height))
}

// VideoReady forwards one decoded picture with the current metrics.
func (r *Relay) VideoReady(pts int64, y, u, v []byte) {
	if r.width == 0 || r.height == 0 {
		r.log.Warn("picture before video configuration, dropping", "pts", pts)
		return
	}
	size := r.width * r.height
	qsize := size >> 2
	if len(y) < size || len(u) < qsize || len(v) < qsize {
		r.log.Warn("short planes, dropping", "pts", pts, "y", len(y), "u", len(u), "v", len(v))
		return
	}
	y, u, v = y[:size], u[:qsize], v[:qsize]

	var bitrate float64
	var delay int64
	if r.metrics != nil {
		bitrate = r.metrics.Bitrate()
		delay = r.metrics.Delay()
	}

	if r.render {
		img, err := r.renderer.Render(y, u, v)
		if err == nil {
			r.videoFrames.Add(1)
			r.sink.Send(host.VideoFrame(pts, bitrate, delay, img, nil))
			return
		}
		r.renderErrors.Add(1)
		r.log.Warn("render failed, sending raw planes", "pts", pts, "error", err)
	}

	planes := make([][]byte, 3)
	for i, p := range [][]byte{y, u, v} {
		planes[i] = r.planes.Get(i, len(p))
		copy(planes[i], p)
	}
	r.videoFrames.Add(1)
	r.sink.Send(host.VideoFrame(pts, bitrate, delay, nil, planes))
}

// Recycle returns the buffers of a delivered message to the pools. The
// caller must not use m's buffers afterwards.
func (r *Relay) Recycle(m host.Message) {
	switch m.Kind {
	case host.KindAudioFrame:
		for i, b := range m.Buffers {
			r.samples.Put(i, b)
		}
	case host.KindVideoFrame:
		for i, p := range m.Planes {
			r.planes.Put(i, p)
		}
	}
}

// Stats is a snapshot of relay counters.
type Stats struct {
	VideoFrames  int64
	AudioFrames  int64
	RenderErrors int64
	// IdlePlanes is the number of recycled picture planes awaiting reuse.
	IdlePlanes int
}

// Stats returns the relay counters. Safe to call from any goroutine.
func (r *Relay) Stats() Stats {
	return Stats{
		VideoFrames:  r.videoFrames.Load(),
		AudioFrames:  r.audioFrames.Load(),
		RenderErrors: r.renderErrors.Load(),
		IdlePlanes:   r.planes.Idle(0) + r.planes.Idle(1) + r.planes.Idle(2),
	}
}
