package origin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/flvplay/internal/source"
)

// srtPayloadSize is the largest live-mode SRT message.
const srtPayloadSize = 1316

// SRTServer plays library assets to SRT callers. The caller's stream id
// names the asset.
type SRTServer struct {
	log     *slog.Logger
	lib     *Library
	latency time.Duration
}

// NewSRTServer creates an SRT listener-mode origin. latency <= 0 keeps the
// library default. If log is nil, slog.Default() is used.
func NewSRTServer(lib *Library, latency time.Duration, log *slog.Logger) *SRTServer {
	if log == nil {
		log = slog.Default()
	}
	return &SRTServer{
		log:     log.With("component", "origin-srt"),
		lib:     lib,
		latency: latency,
	}
}

// ListenAndServe accepts callers on addr until ctx is cancelled.
func (s *SRTServer) ListenAndServe(ctx context.Context, addr string) error {
	cfg := srtgo.DefaultConfig()
	if s.latency > 0 {
		source.SetNanos(&cfg.Latency, s.latency)
	}
	l, err := srtgo.Listen(addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if _, ok := s.lib.Get(assetKey(req.StreamID)); !ok {
			return srtgo.RejPeer
		}
		return 0
	})
	s.log.Info("listening", "addr", addr)

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.play(ctx, conn)
	}
}

// play writes the asset and then holds the connection until the caller
// leaves, so nothing queued is lost to an early close.
func (s *SRTServer) play(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	key := assetKey(conn.StreamID())
	a, ok := s.lib.Get(key)
	if !ok {
		return
	}
	s.log.Info("caller connected", "key", key, "remote", conn.RemoteAddr())

	for off := 0; off < len(a.Data); off += srtPayloadSize {
		end := min(off+srtPayloadSize, len(a.Data))
		if _, err := conn.Write(a.Data[off:end]); err != nil {
			s.log.Debug("srt write failed", "key", key, "error", err)
			return
		}
	}

	buf := make([]byte, srtPayloadSize)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}
	s.log.Info("caller left", "key", key, "bytes", len(a.Data))
}
