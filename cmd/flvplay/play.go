package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/flvplay/internal/codec/probe"
	"github.com/zsiec/flvplay/internal/host"
	"github.com/zsiec/flvplay/internal/session"
	"github.com/zsiec/flvplay/internal/worker"
)

var (
	playVOD           bool
	playVideoBufferMs uint32
	playDuration      time.Duration
	statsInterval     time.Duration
)

var playCmd = &cobra.Command{
	Use:   "play <url>",
	Short: "Play a stream headlessly and log pacing stats",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

func init() {
	f := playCmd.Flags()
	f.BoolVar(&playVOD, "vod", false, "on-demand pacing instead of live catch-up")
	f.Uint32Var(&playVideoBufferMs, "video-buffer-ms", 0, "buffer target in ms (overrides player.video_buffer_ms)")
	f.DurationVar(&playDuration, "duration", 0, "stop after this long (0 plays until the stream ends)")
	f.DurationVar(&statsInterval, "stats-interval", 2*time.Second, "stats log interval")
}

var (
	errPlaybackFailed = errors.New("playback failed")
	errStreamDone     = errors.New("stream done")
)

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	settings := cfg.Settings()
	if cmd.Flags().Changed("vod") {
		settings.VOD = playVOD
	}
	if cmd.Flags().Changed("video-buffer-ms") {
		settings.VideoBufferMs = playVideoBufferMs
	}

	ctx, cancel := signalContext()
	defer cancel()
	if playDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, playDuration)
		defer stop()
	}

	var (
		wk      *worker.Worker
		ended   atomic.Bool
		errored atomic.Bool
	)
	sink := host.SinkFunc(func(m host.Message) {
		switch m.Kind {
		case host.KindAudioConfigured:
			slog.Info("audio configured", "channels", m.Channels, "sample_rate", m.SampleRate)
		case host.KindVideoConfigured:
			slog.Info("video configured", "width", m.Width, "height", m.Height)
		case host.KindCaption:
			slog.Info("caption", "channel", m.Channel, "pts", m.PTS, "text", m.Text)
		case host.KindEnded:
			slog.Info("stream ended")
			ended.Store(true)
		case host.KindError:
			slog.Error("playback error", "error", m.Error)
			errored.Store(true)
		case host.KindAudioFrame, host.KindVideoFrame:
			wk.Recycle(m)
		}
	})
	wk = worker.New(worker.Config{
		Factory:  probe.Factory{},
		Sink:     sink,
		Settings: settings,
		Source:   cfg.SourceOptions(),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wk.Run(ctx)
	})
	wk.Handle(host.Command{Cmd: host.CmdPlay, URL: args[0]})

	g.Go(func() error {
		t := time.NewTicker(statsInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
			st, err := wk.Stats(ctx)
			if err != nil {
				return nil
			}
			slog.Info("stats",
				"state", st.State,
				"delay_ms", st.Scheduler.CurrentDelay,
				"bitrate_bps", int64(st.Bitrate),
				"queued", st.Queued,
				"audio", st.Scheduler.DecodedAudio,
				"video", st.Scheduler.DecodedVideo,
				"dropped", st.Scheduler.Dropped,
				"bytes", st.Source.BytesReceived,
				"idle_planes", st.Relay.IdlePlanes)
			if err := playbackOutcome(st, ended.Load(), errored.Load()); err != nil {
				return err
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, errStreamDone) {
		return nil
	}
	return err
}

// playbackOutcome reports whether headless playback is over. An error
// that leaves the session playing, such as a decoder rejecting a payload,
// does not stop it; a closed session or a play that never started does.
func playbackOutcome(st session.Stats, ended, errored bool) error {
	switch {
	case st.State == session.Closed.String():
		return errPlaybackFailed
	case errored && st.State != session.Playing.String():
		return errPlaybackFailed
	case ended && st.Queued == 0:
		return errStreamDone
	}
	return nil
}
