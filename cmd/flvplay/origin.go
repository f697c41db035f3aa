package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/flvplay/internal/flvgen"
	"github.com/zsiec/flvplay/internal/origin"
)

var (
	originAddr    string
	originSRTAddr string
	originFiles   []string
	originDemo    time.Duration
)

var originCmd = &cobra.Command{
	Use:   "origin",
	Short: "Serve FLV files over HTTP, WebSocket and SRT for local testing",
	Long: `origin serves each asset as
  http://ADDR/live/KEY.flv   ws://ADDR/ws/KEY.flv   ws://ADDR/ws/KEY
  srt://SRT_ADDR?streamid=KEY`,
	RunE: runOrigin,
}

func init() {
	f := originCmd.Flags()
	f.StringVar(&originAddr, "addr", ":8481", "HTTP/WebSocket listen address")
	f.StringVar(&originSRTAddr, "srt-addr", "", "SRT listen address (empty disables SRT)")
	f.StringArrayVar(&originFiles, "file", nil, "asset as KEY=PATH (repeatable)")
	f.DurationVar(&originDemo, "demo", 30*time.Second, "length of the generated \"demo\" asset (0 disables it)")
	rootCmd.AddCommand(originCmd)
}

func runOrigin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lib := origin.NewLibrary(nil)
	for _, spec := range originFiles {
		key, path, ok := strings.Cut(spec, "=")
		if !ok || key == "" {
			return fmt.Errorf("--file %q: want KEY=PATH", spec)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, ok := lib.Add(key, data); !ok {
			return fmt.Errorf("--file %q: duplicate key", spec)
		}
	}
	if originDemo > 0 {
		var buf bytes.Buffer
		if _, err := flvgen.Write(&buf, flvgen.Options{
			Duration: originDemo,
			Audio:    true,
			Cues:     []flvgen.Cue{{At: time.Second, Text: "flvplay demo"}},
		}); err != nil {
			return fmt.Errorf("generate demo: %w", err)
		}
		lib.Add("demo", buf.Bytes())
	}

	ctx, cancel := signalContext()
	defer cancel()

	httpSrv := &http.Server{
		Addr:        originAddr,
		Handler:     origin.NewServer(lib, 0, nil).Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("origin listening", "addr", originAddr, "assets", len(lib.List()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("origin server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if originSRTAddr != "" {
		srtSrv := origin.NewSRTServer(lib, cfg.SourceOptions().SRTLatency, nil)
		g.Go(func() error {
			return srtSrv.ListenAndServe(ctx, originSRTAddr)
		})
	}

	return g.Wait()
}
