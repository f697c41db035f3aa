// Package session wires one playback session together: byte source,
// demultiplexer, frame queue, scheduler, decoders and relay. A Session is
// driven entirely from the worker loop; callbacks from the source goroutine
// are marshalled onto the loop through Config.Post and ignored once the
// session is closed.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/flvplay/internal/captions"
	"github.com/zsiec/flvplay/internal/codec"
	"github.com/zsiec/flvplay/internal/flv"
	"github.com/zsiec/flvplay/internal/host"
	"github.com/zsiec/flvplay/internal/media"
	"github.com/zsiec/flvplay/internal/relay"
	"github.com/zsiec/flvplay/internal/scheduler"
	"github.com/zsiec/flvplay/internal/source"
)

// Sentinel errors.
var (
	ErrAlreadyPlaying = errors.New("session: already playing")
	ErrClosed         = errors.New("session: closed")
)

// State is the session lifecycle state. Closed is terminal.
type State uint8

// Lifecycle states.
const (
	Idle State = iota
	Playing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config configures a Session.
type Config struct {
	// Factory creates the session's decoder pair.
	Factory codec.Factory
	// Sink receives host messages. It must not block.
	Sink host.Sink
	// Post runs f on the worker loop. It must not block.
	Post func(f func())

	Mode          scheduler.Mode
	VideoBufferMs uint32
	Policy        scheduler.Policy
	Clock         scheduler.Clock

	Source           source.Options
	Renderer         relay.Renderer
	ForceNoOffscreen bool
	Captions         bool

	Log *slog.Logger
}

// Session is one play-to-close lifetime. It is not safe for concurrent use
// except for Stats, Bitrate and Delay.
type Session struct {
	ID        string
	StartedAt time.Time

	log  *slog.Logger
	cfg  Config
	sink host.Sink

	state  State
	closed atomic.Bool

	framing  source.Framing
	handle   *source.Handle
	meter    *source.Meter
	demux    *flv.Demuxer
	queue    *media.Queue
	sched    *scheduler.Scheduler
	schedSt  scheduler.State
	relay    *relay.Relay
	audio    codec.Decoder
	video    codec.Decoder
	captions *captions.Extractor
	ticker   *time.Ticker
	ended    bool

	recordErrors int64
	decodeErrors atomic.Int64
}

// New creates an idle Session.
func New(cfg Config) *Session {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Policy.TickInterval <= 0 {
		cfg.Policy = scheduler.DefaultPolicy()
	}
	id := uuid.NewString()
	s := &Session{
		ID:   id,
		log:  cfg.Log.With("component", "session", "session", id),
		cfg:  cfg,
		sink: cfg.Sink,
	}
	s.schedSt.Mode = cfg.Mode
	s.schedSt.VideoBufferTarget = cfg.VideoBufferMs
	return s
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Start transitions Idle to Playing: it classifies url, opens the byte
// source, creates the decoders and starts the tick timer.
func (s *Session) Start(ctx context.Context, url string) error {
	switch s.state {
	case Playing:
		return ErrAlreadyPlaying
	case Closed:
		return ErrClosed
	}

	_, framing, err := source.Classify(url)
	if err != nil {
		return err
	}
	s.framing = framing

	s.queue = media.NewQueue(256)
	if framing == source.FramingTagged {
		s.demux = flv.NewDemuxer(s.log)
	}
	if s.cfg.Captions {
		s.captions = captions.NewExtractor(s.log)
	}
	s.meter = source.NewMeter()
	s.relay = relay.New(s.sink, relay.Options{
		Renderer:         s.cfg.Renderer,
		Metrics:          s,
		ForceNoOffscreen: s.cfg.ForceNoOffscreen,
		Log:              s.log,
	})
	cb := &guardedCallbacks{closed: &s.closed, next: s.relay}
	s.audio = s.cfg.Factory.NewAudio(cb)
	s.video = s.cfg.Factory.NewVideo(cb)
	s.sched = scheduler.New(&s.schedSt, s.queue, s, s.cfg.Clock, s.log)
	s.sched.SetPolicy(s.cfg.Policy)

	opts := s.cfg.Source
	opts.Meter = s.meter
	opts.Log = s.log
	handle, err := source.Open(ctx, url, source.Handlers{
		OnChunk: func(b []byte) { s.cfg.Post(func() { s.onChunk(b) }) },
		OnEnd:   func() { s.cfg.Post(s.onEnd) },
		OnError: func(err error) { s.cfg.Post(func() { s.onError(err) }) },
	}, opts)
	if err != nil {
		s.audio.Reset()
		s.video.Reset()
		return err
	}
	s.handle = handle

	s.ticker = time.NewTicker(s.sched.Policy().TickInterval)
	s.StartedAt = time.Now()
	s.state = Playing
	s.log.Info("playing", "url", url, "framing", framing.String(), "mode", s.schedSt.Mode.String(),
		"video_buffer_ms", s.schedSt.VideoBufferTarget)
	return nil
}

// TickC returns the tick channel, or nil when not playing.
func (s *Session) TickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

// Tick runs one scheduling step.
func (s *Session) Tick() {
	if s.state != Playing {
		return
	}
	s.sched.Tick()
}

// Close transitions Playing to Closed: it cancels the source, stops the
// tick timer, resets both decoders and clears the scheduler anchor. After
// Close returns no decode call is made. Close is a no-op unless playing.
func (s *Session) Close() {
	if s.state != Playing {
		return
	}
	s.state = Closed
	s.closed.Store(true)

	s.handle.Cancel()
	s.ticker.Stop()
	s.ticker = nil
	s.audio.Reset()
	s.video.Reset()
	s.schedSt.Reset()
	s.queue.Reset()
	if s.captions != nil {
		s.captions.Reset()
	}

	st := s.Stats()
	s.log.Info("closed",
		"bytes", st.Source.BytesReceived, "reads", st.Source.ReadCount,
		"decoded_audio", st.Scheduler.DecodedAudio, "decoded_video", st.Scheduler.DecodedVideo,
		"dropped", st.Scheduler.Dropped, "uptime_ms", time.Since(s.StartedAt).Milliseconds())
}

func (s *Session) onChunk(chunk []byte) {
	if s.state != Playing {
		return
	}
	if s.framing == source.FramingRecord {
		f, err := flv.ParseRecord(chunk)
		if err != nil {
			s.recordErrors++
			s.log.Debug("skipping record", "error", err)
			return
		}
		s.push(f)
		return
	}
	s.demux.Feed(chunk)
	s.drainDemuxer()
}

func (s *Session) drainDemuxer() {
	for {
		f, err := s.demux.Poll()
		if err != nil {
			if !errors.Is(err, flv.ErrNeedMore) && !errors.Is(err, io.EOF) {
				s.log.Warn("demux failed", "error", err)
			}
			return
		}
		s.push(f)
	}
}

func (s *Session) push(f *media.Frame) {
	if s.captions != nil && f.IsVideo() {
		for _, c := range s.captions.Extract(f) {
			s.sink.Send(host.Caption(c.PTS, c.Channel, c.Text))
		}
	}
	s.queue.Push(f)
}

func (s *Session) onEnd() {
	if s.state != Playing || s.ended {
		return
	}
	s.ended = true
	if s.demux != nil {
		s.demux.Close()
		s.drainDemuxer()
	}
	s.log.Info("source ended", "queued", s.queue.Len())
	s.sink.Send(host.Ended(s.ID))
}

func (s *Session) onError(err error) {
	if s.state != Playing {
		return
	}
	s.log.Error("transport failed", "error", err)
	s.sink.Send(host.Error(s.ID, err))
	s.Close()
}

// DecodeAudio hands an audio payload to the audio decoder.
func (s *Session) DecodeAudio(payload []byte) {
	if err := s.audio.Decode(payload); err != nil {
		s.decoderError(media.AudioDecoder, err)
	}
}

// DecodeVideo hands a video payload to the video decoder.
func (s *Session) DecodeVideo(payload []byte) {
	if err := s.video.Decode(payload); err != nil {
		s.decoderError(media.VideoDecoder, err)
	}
}

func (s *Session) decoderError(target media.Target, err error) {
	s.decodeErrors.Add(1)
	derr := &codec.DecoderError{Target: target, Err: err}
	s.log.Warn("decode failed", "target", target.String(), "error", err)
	s.sink.Send(host.Error(s.ID, derr))
}

// Bitrate returns the ingest bitrate estimate in bits per second.
func (s *Session) Bitrate() float64 {
	if s.meter == nil {
		return 0
	}
	return s.meter.Bitrate()
}

// Delay returns the latest scheduler delay in milliseconds.
func (s *Session) Delay() int64 {
	if s.sched == nil {
		return 0
	}
	return s.sched.Delay()
}

// SetVideoBuffer sets the buffer target in milliseconds.
func (s *Session) SetVideoBuffer(ms uint32) {
	s.schedSt.VideoBufferTarget = ms
}

// VideoBuffer returns the buffer target in milliseconds.
func (s *Session) VideoBuffer() uint32 {
	return s.schedSt.VideoBufferTarget
}

// SetMode switches between live and on-demand scheduling.
func (s *Session) SetMode(m scheduler.Mode) {
	s.schedSt.Mode = m
	if m == scheduler.OnDemand {
		s.schedSt.DroppingUntilKeyframe = false
	}
}

// SetPolicy replaces the scheduler tuning and retimes the tick timer.
func (s *Session) SetPolicy(p scheduler.Policy) {
	s.cfg.Policy = p
	if s.sched == nil {
		return
	}
	s.sched.SetPolicy(p)
	if s.ticker != nil {
		s.ticker.Reset(s.sched.Policy().TickInterval)
	}
}

// Relay returns the session's relay, or nil before Start.
func (s *Session) Relay() *relay.Relay {
	return s.relay
}

// Stats is a snapshot of session telemetry.
type Stats struct {
	State        string
	Queued       int
	Source       source.Stats
	Scheduler    scheduler.Stats
	Relay        relay.Stats
	Demux        flv.Stats
	RecordErrors int64
	DecodeErrors int64
	Bitrate      float64
}

// Stats returns a snapshot. Queue depth and demux counters are only
// consistent when called from the worker loop.
func (s *Session) Stats() Stats {
	st := Stats{
		State:        s.state.String(),
		RecordErrors: s.recordErrors,
		DecodeErrors: s.decodeErrors.Load(),
	}
	if s.queue != nil {
		st.Queued = s.queue.Len()
	}
	if s.meter != nil {
		st.Source = s.meter.Stats()
		st.Bitrate = s.meter.Bitrate()
	}
	if s.sched != nil {
		st.Scheduler = s.sched.Stats()
	}
	if s.relay != nil {
		st.Relay = s.relay.Stats()
	}
	if s.demux != nil {
		st.Demux = s.demux.Stats()
	}
	return st
}

// guardedCallbacks forwards decoder output to the relay until the session
// closes.
type guardedCallbacks struct {
	closed *atomic.Bool
	next   codec.Callbacks
}

func (g *guardedCallbacks) ConfigureAudio(channels, sampleRate int) {
	if !g.closed.Load() {
		g.next.ConfigureAudio(channels, sampleRate)
	}
}

func (g *guardedCallbacks) AudioReady(buffers [][]float32) {
	if !g.closed.Load() {
		g.next.AudioReady(buffers)
	}
}

func (g *guardedCallbacks) ConfigureVideo(width, height int) {
	if !g.closed.Load() {
		g.next.ConfigureVideo(width, height)
	}
}

func (g *guardedCallbacks) VideoReady(pts int64, y, u, v []byte) {
	if !g.closed.Load() {
		g.next.VideoReady(pts, y, u, v)
	}
}

var _ scheduler.Dispatcher = (*Session)(nil)

// String implements fmt.Stringer for log output.
func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s)", s.ID, s.state)
}
