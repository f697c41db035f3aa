package scheduler

import (
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/flvplay/internal/media"
)

// Dispatcher hands frame payloads to the decoders. Calls are fire-and-forget:
// decoded output and decoder failures come back through the decoder
// callbacks, never through the return path.
type Dispatcher interface {
	DecodeAudio(payload []byte)
	DecodeVideo(payload []byte)
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	DecodedAudio int64
	DecodedVideo int64
	Dropped      int64
	DropEpisodes int64
	CurrentDelay int64
}

// Scheduler is the periodic consumer of the frame queue. Tick must be called
// from the same goroutine that pushes into the queue.
type Scheduler struct {
	log      *slog.Logger
	state    *State
	queue    *media.Queue
	dispatch Dispatcher
	clock    Clock
	policy   Policy

	decodedAudio atomic.Int64
	decodedVideo atomic.Int64
	dropped      atomic.Int64
	dropEpisodes atomic.Int64
	delay        atomic.Int64
}

// New creates a Scheduler over queue and state. A nil clock uses
// SystemClock; a nil log uses slog.Default().
func New(state *State, queue *media.Queue, dispatch Dispatcher, clock Clock, log *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:      log.With("component", "scheduler"),
		state:    state,
		queue:    queue,
		dispatch: dispatch,
		clock:    clock,
		policy:   DefaultPolicy(),
	}
}

// SetPolicy replaces the tuning constants. Zero fields keep their defaults.
func (s *Scheduler) SetPolicy(p Policy) {
	if p.TickInterval <= 0 {
		p.TickInterval = DefaultTickInterval
	}
	if p.CatchUp < 0 {
		p.CatchUp = DefaultCatchUp
	}
	s.policy = p
}

// Policy returns the active tuning constants.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Tick runs one scheduling step.
func (s *Scheduler) Tick() {
	if s.queue.Len() == 0 {
		return
	}
	if s.state.Mode == Live && s.state.DroppingUntilKeyframe {
		s.dropStep()
		return
	}

	now := s.clock.Now()
	head := s.queue.Peek()
	d, ok := s.state.Delay(head.Timestamp, now)
	if !ok {
		s.decode(s.queue.Pop())
		return
	}
	s.delay.Store(d)

	target := int64(s.state.VideoBufferTarget)
	if s.state.Mode == Live && d > target+s.policy.CatchUp.Milliseconds() {
		s.state.DroppingUntilKeyframe = true
		s.dropEpisodes.Add(1)
		s.log.Debug("delay over budget, dropping video until keyframe",
			"delay_ms", d, "target_ms", target, "queued", s.queue.Len())
		return
	}

	for d > target {
		s.decode(s.queue.Pop())
		head = s.queue.Peek()
		if head == nil {
			return
		}
		d, _ = s.state.Delay(head.Timestamp, now)
		s.delay.Store(d)
	}
}

// dropStep pops exactly one frame while catching up. Audio is always
// decoded; video is discarded until a keyframe, which is decoded and ends
// the episode.
func (s *Scheduler) dropStep() {
	f := s.queue.Pop()
	switch {
	case !f.IsVideo():
		s.decode(f)
	case f.IsKeyframe():
		s.state.DroppingUntilKeyframe = false
		s.decode(f)
		s.log.Debug("resumed at keyframe", "ts", f.Timestamp, "queued", s.queue.Len())
	default:
		s.dropped.Add(1)
	}
}

func (s *Scheduler) decode(f *media.Frame) {
	if f.IsVideo() {
		s.decodedVideo.Add(1)
		s.dispatch.DecodeVideo(f.Payload)
		return
	}
	s.decodedAudio.Add(1)
	s.dispatch.DecodeAudio(f.Payload)
}

// Stats returns a snapshot of the counters. Safe to call from any goroutine.
func (s *Scheduler) Stats() Stats {
	return Stats{
		DecodedAudio: s.decodedAudio.Load(),
		DecodedVideo: s.decodedVideo.Load(),
		Dropped:      s.dropped.Load(),
		DropEpisodes: s.dropEpisodes.Load(),
		CurrentDelay: s.delay.Load(),
	}
}

// Delay returns the most recent delay measurement in milliseconds. Safe to
// call from any goroutine.
func (s *Scheduler) Delay() int64 {
	return s.delay.Load()
}
