// Package scheduler drains the frame queue on a fixed tick and decides which
// frames reach the decoders. In live mode it trades smoothness for latency by
// discarding backlog video until the next keyframe; in on-demand mode it only
// catches up.
package scheduler

import (
	"time"
)

// Mode selects the scheduling policy.
type Mode uint8

// Scheduling modes.
const (
	Live Mode = iota
	OnDemand
)

func (m Mode) String() string {
	switch m {
	case Live:
		return "live"
	case OnDemand:
		return "vod"
	default:
		return "unknown"
	}
}

// State is the per-session scheduler state. It is owned by the session and
// handed to the Scheduler by pointer; nothing else shares it.
type State struct {
	firstTimestamp uint32
	startWallClock time.Time
	anchored       bool

	// CurrentDelay is the last computed delay in milliseconds. Positive
	// means local playback is behind the source timeline.
	CurrentDelay int64

	DroppingUntilKeyframe bool
	VideoBufferTarget     uint32
	Mode                  Mode
}

// Delay measures how far the local clock has drifted from the source
// timeline since the anchor frame:
//
//	delay = (now - startWallClock) - (ts - firstTimestamp)
//
// The first call after a reset anchors the timeline on ts and now and
// reports ok=false. Later calls store the result in CurrentDelay.
func (s *State) Delay(ts uint32, now time.Time) (delay int64, ok bool) {
	if !s.anchored {
		s.firstTimestamp = ts
		s.startWallClock = now
		s.anchored = true
		return 0, false
	}
	elapsed := now.Sub(s.startWallClock).Milliseconds()
	s.CurrentDelay = elapsed - (int64(ts) - int64(s.firstTimestamp))
	return s.CurrentDelay, true
}

// Anchored reports whether the first frame has been observed.
func (s *State) Anchored() bool {
	return s.anchored
}

// Reset clears the timeline anchor and the catch-up state. The buffer
// target and mode are configuration and survive a reset.
func (s *State) Reset() {
	s.firstTimestamp = 0
	s.startWallClock = time.Time{}
	s.anchored = false
	s.CurrentDelay = 0
	s.DroppingUntilKeyframe = false
}

// Policy holds the scheduler's tuning constants.
type Policy struct {
	// TickInterval is how often Tick runs.
	TickInterval time.Duration
	// CatchUp is how far past VideoBufferTarget the delay may grow in live
	// mode before video is dropped until the next keyframe.
	CatchUp time.Duration
}

// Default policy values.
const (
	DefaultTickInterval = 10 * time.Millisecond
	DefaultCatchUp      = 1000 * time.Millisecond
)

// DefaultPolicy returns the reference tick interval and catch-up threshold.
func DefaultPolicy() Policy {
	return Policy{TickInterval: DefaultTickInterval, CatchUp: DefaultCatchUp}
}

// Clock is the wall-clock source for delay measurement.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
