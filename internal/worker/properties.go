package worker

import (
	"fmt"
	"time"

	"github.com/zsiec/flvplay/internal/host"
	"github.com/zsiec/flvplay/internal/session"
)

// Property names understood by getProperty and setProperty. Any other name
// is stored and returned verbatim.
const (
	PropVideoBuffer      = "videoBuffer"
	PropVOD              = "vod"
	PropTickInterval     = "tickInterval"
	PropCatchUp          = "catchUp"
	PropForceNoOffscreen = "forceNoOffscreen"
	PropCaptions         = "captions"

	// Read-only.
	PropDelay = "delay"
	PropBPS   = "bps"
	PropState = "state"
)

func (w *Worker) property(name string) any {
	switch name {
	case PropVideoBuffer:
		return int64(w.settings.VideoBufferMs)
	case PropVOD:
		return w.settings.VOD
	case PropTickInterval:
		return w.settings.TickInterval.Milliseconds()
	case PropCatchUp:
		return w.settings.CatchUp.Milliseconds()
	case PropForceNoOffscreen:
		return w.settings.ForceNoOffscreen
	case PropCaptions:
		return w.settings.Captions
	case PropDelay:
		if w.sess == nil {
			return int64(0)
		}
		return w.sess.Delay()
	case PropBPS:
		if w.sess == nil {
			return float64(0)
		}
		return w.sess.Bitrate()
	case PropState:
		if w.sess == nil {
			return session.Idle.String()
		}
		return w.sess.State().String()
	default:
		return w.props[name]
	}
}

func (w *Worker) setProperty(name string, v any) error {
	switch name {
	case PropVideoBuffer:
		ms, err := nonNegative(name, v)
		if err != nil {
			return err
		}
		w.settings.VideoBufferMs = uint32(min(ms, int64(^uint32(0))))
		if w.sess != nil {
			w.sess.SetVideoBuffer(w.settings.VideoBufferMs)
		}

	case PropVOD:
		b, err := host.Bool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		w.settings.VOD = b
		if w.sess != nil {
			w.sess.SetMode(w.settings.mode())
		}

	case PropTickInterval, PropCatchUp:
		ms, err := nonNegative(name, v)
		if err != nil {
			return err
		}
		d := time.Duration(ms) * time.Millisecond
		if name == PropTickInterval {
			if d <= 0 {
				return fmt.Errorf("%s: %w: must be positive", name, host.ErrBadValue)
			}
			w.settings.TickInterval = d
		} else {
			w.settings.CatchUp = d
		}
		if w.sess != nil {
			w.sess.SetPolicy(w.settings.policy())
		}

	case PropForceNoOffscreen, PropCaptions:
		b, err := host.Bool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if name == PropForceNoOffscreen {
			w.settings.ForceNoOffscreen = b
		} else {
			w.settings.Captions = b
		}

	case PropDelay, PropBPS, PropState:
		return fmt.Errorf("%w: %s", ErrReadOnly, name)

	default:
		w.props[name] = v
	}
	return nil
}

func nonNegative(name string, v any) (int64, error) {
	n, err := host.Int(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: %w: %d is negative", name, host.ErrBadValue, n)
	}
	return n, nil
}
