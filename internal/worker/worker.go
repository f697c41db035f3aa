// Package worker runs the single playback event loop. Commands from the
// host, chunks from the byte source and scheduler ticks are all serialized
// onto one goroutine, so the session, queue and scheduler need no locks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/flvplay/internal/codec"
	"github.com/zsiec/flvplay/internal/host"
	"github.com/zsiec/flvplay/internal/mailbox"
	"github.com/zsiec/flvplay/internal/relay"
	"github.com/zsiec/flvplay/internal/scheduler"
	"github.com/zsiec/flvplay/internal/session"
	"github.com/zsiec/flvplay/internal/source"
)

// Sentinel errors reported to the host.
var (
	ErrUnknownCommand = errors.New("worker: unknown command")
	ErrReadOnly       = errors.New("worker: read-only property")
	ErrStopped        = errors.New("worker: stopped")
)

// Settings are the player options that seed each new session.
type Settings struct {
	VideoBufferMs    uint32
	VOD              bool
	TickInterval     time.Duration
	CatchUp          time.Duration
	ForceNoOffscreen bool
	Captions         bool
}

// DefaultSettings returns a one second live buffer with the default
// scheduler policy.
func DefaultSettings() Settings {
	return Settings{
		VideoBufferMs: 1000,
		TickInterval:  scheduler.DefaultTickInterval,
		CatchUp:       scheduler.DefaultCatchUp,
		Captions:      true,
	}
}

func (s Settings) mode() scheduler.Mode {
	if s.VOD {
		return scheduler.OnDemand
	}
	return scheduler.Live
}

func (s Settings) policy() scheduler.Policy {
	return scheduler.Policy{TickInterval: s.TickInterval, CatchUp: s.CatchUp}
}

// Config configures a Worker.
type Config struct {
	Factory  codec.Factory
	Sink     host.Sink
	Settings Settings
	Source   source.Options
	Renderer relay.Renderer
	Clock    scheduler.Clock
	Log      *slog.Logger
}

// Worker owns at most one active session and the command surface around
// it.
type Worker struct {
	log  *slog.Logger
	cfg  Config
	sink host.Sink
	mb   *mailbox.Mailbox[func()]

	ctx      context.Context
	settings Settings
	props    map[string]any
	sess     *session.Session
}

// New creates a Worker. Call Run to start its loop.
func New(cfg Config) *Worker {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Worker{
		log:      cfg.Log.With("component", "worker"),
		cfg:      cfg,
		sink:     cfg.Sink,
		mb:       mailbox.New[func()](64),
		ctx:      context.Background(),
		settings: cfg.Settings,
		props:    make(map[string]any),
	}
}

// Post schedules f on the worker loop. It never blocks. Work posted after
// the loop has stopped is dropped.
func (w *Worker) Post(f func()) {
	_ = w.mb.Push(f)
}

// Handle schedules a host command.
func (w *Worker) Handle(cmd host.Command) {
	w.Post(func() { w.handle(cmd) })
}

// Recycle returns the buffers of a delivered message to the active
// session's pools.
func (w *Worker) Recycle(m host.Message) {
	if m.Kind != host.KindAudioFrame && m.Kind != host.KindVideoFrame {
		return
	}
	w.Post(func() {
		if w.sess != nil && w.sess.Relay() != nil {
			w.sess.Relay().Recycle(m)
		}
	})
}

// Run announces readiness to the host and processes work until ctx is
// done. The active session is closed on return.
func (w *Worker) Run(ctx context.Context) error {
	w.ctx = ctx
	w.sink.Send(host.DecoderReady())
	w.log.Debug("worker ready")

	defer func() {
		w.closeSession()
		w.mb.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.mb.Ready():
			for {
				f, ok := w.mb.TryPop()
				if !ok {
					break
				}
				f()
			}
		case <-w.tickC():
			w.sess.Tick()
		}
	}
}

func (w *Worker) tickC() <-chan time.Time {
	if w.sess == nil {
		return nil
	}
	return w.sess.TickC()
}

// Stats returns the active session's telemetry, collected on the loop.
func (w *Worker) Stats(ctx context.Context) (session.Stats, error) {
	ch := make(chan session.Stats, 1)
	if err := w.mb.Push(func() {
		var st session.Stats
		if w.sess != nil {
			st = w.sess.Stats()
		}
		ch <- st
	}); err != nil {
		return session.Stats{}, ErrStopped
	}
	select {
	case st := <-ch:
		return st, nil
	case <-ctx.Done():
		return session.Stats{}, ctx.Err()
	}
}

func (w *Worker) handle(cmd host.Command) {
	var err error
	switch cmd.Cmd {
	case host.CmdInit:
		err = w.init(cmd.Options)
	case host.CmdPlay:
		err = w.play(cmd.URL)
	case host.CmdClose:
		w.closeSession()
	case host.CmdGetProperty:
		w.sink.Send(host.PropertyValue(cmd.Name, w.property(cmd.Name)))
	case host.CmdSetProperty:
		err = w.setProperty(cmd.Name, cmd.Value)
	case host.CmdSetVideoBufferMs:
		err = w.setProperty(PropVideoBuffer, cmd.Value)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Cmd)
	}
	if err != nil {
		w.log.Warn("command failed", "cmd", cmd.Cmd, "error", err)
		w.sink.Send(host.Error(w.sessionID(), err))
	}
}

func (w *Worker) init(options map[string]any) error {
	var errs []error
	for name, v := range options {
		if err := w.setProperty(name, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) play(url string) error {
	if w.sess != nil && w.sess.State() == session.Playing {
		return session.ErrAlreadyPlaying
	}

	sess := session.New(session.Config{
		Factory:          w.cfg.Factory,
		Sink:             w.sink,
		Post:             w.Post,
		Mode:             w.settings.mode(),
		VideoBufferMs:    w.settings.VideoBufferMs,
		Policy:           w.settings.policy(),
		Clock:            w.cfg.Clock,
		Source:           w.cfg.Source,
		Renderer:         w.cfg.Renderer,
		ForceNoOffscreen: w.settings.ForceNoOffscreen,
		Captions:         w.settings.Captions,
		Log:              w.cfg.Log,
	})
	if err := sess.Start(w.ctx, url); err != nil {
		return err
	}
	w.sess = sess
	return nil
}

func (w *Worker) closeSession() {
	if w.sess != nil {
		w.sess.Close()
	}
}

func (w *Worker) sessionID() string {
	if w.sess == nil {
		return ""
	}
	return w.sess.ID
}
