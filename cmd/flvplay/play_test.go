package main

import (
	"testing"

	"github.com/zsiec/flvplay/internal/session"
)

func TestPlaybackOutcome(t *testing.T) {
	t.Parallel()

	playing := session.Playing.String()
	tests := []struct {
		name    string
		st      session.Stats
		ended   bool
		errored bool
		want    error
	}{
		{"decoding", session.Stats{State: playing, Queued: 3}, false, false, nil},
		{"decoder error keeps playing", session.Stats{State: playing}, false, true, nil},
		{"decoder error then end", session.Stats{State: playing}, true, true, errStreamDone},
		{"ended with queued frames", session.Stats{State: playing, Queued: 2}, true, false, nil},
		{"ended and drained", session.Stats{State: playing}, true, false, errStreamDone},
		{"transport error closes session", session.Stats{State: session.Closed.String()}, false, true, errPlaybackFailed},
		{"play never started", session.Stats{}, false, true, errPlaybackFailed},
		{"before play", session.Stats{}, false, false, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := playbackOutcome(tc.st, tc.ended, tc.errored); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}
