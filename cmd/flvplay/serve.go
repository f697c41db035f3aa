package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/flvplay/internal/certs"
	"github.com/zsiec/flvplay/internal/codec/probe"
	"github.com/zsiec/flvplay/internal/hostws"
)

var (
	listenAddr string
	serveTLS   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the playback worker over WebSocket",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides listen_addr)")
	serveCmd.Flags().BoolVar(&serveTLS, "tls", false, "serve wss with a self-signed certificate")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := hostws.NewServer(hostws.Options{
		Factory:  probe.Factory{},
		Settings: cfg.Settings(),
		Source:   cfg.SourceOptions(),
	})
	httpSrv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     srv.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	if serveTLS {
		cert, err := certs.Generate(certs.MaxValidity)
		if err != nil {
			return fmt.Errorf("generate certificate: %w", err)
		}
		httpSrv.TLSConfig = cert.ServerConfig()
		slog.Info("certificate generated",
			"fingerprint", cert.FingerprintHex(),
			"expires", cert.Leaf.NotAfter.Format(time.RFC3339))
	}

	slog.Info("flvplay starting", "version", version, "addr", cfg.ListenAddr, "path", hostws.Path, "tls", serveTLS)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if serveTLS {
			err = httpSrv.ListenAndServeTLS("", "")
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("host server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
