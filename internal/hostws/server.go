// Package hostws exposes the playback worker over WebSocket. Each
// connection owns one worker. Commands arrive as JSON text frames or
// msgpack binary frames; worker messages leave as msgpack binary frames.
package hostws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/flvplay/internal/codec"
	"github.com/zsiec/flvplay/internal/host"
	"github.com/zsiec/flvplay/internal/relay"
	"github.com/zsiec/flvplay/internal/source"
	"github.com/zsiec/flvplay/internal/worker"
)

// Path is the WebSocket endpoint served by Handler.
const Path = "/worker"

const writeTimeout = 10 * time.Second

var (
	// ErrBadCommand is reported to the client when a frame does not decode
	// to a command.
	ErrBadCommand = errors.New("hostws: bad command")

	errDisconnected = errors.New("hostws: client disconnected")
)

// Options configures a Server.
type Options struct {
	Factory  codec.Factory
	Settings worker.Settings
	Source   source.Options
	Renderer relay.Renderer
	Log      *slog.Logger
}

// Server accepts host connections.
type Server struct {
	log      *slog.Logger
	opts     Options
	upgrader websocket.Upgrader

	active   atomic.Int64
	total    atomic.Int64
	outboxes sync.Map // *host.Outbox -> struct{}
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Server{
		log:  opts.Log.With("component", "hostws"),
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the worker endpoint and a
// health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.serveWorker)
	mux.HandleFunc("/healthz", s.serveHealth)
	return mux
}

// Health is the JSON body of the health endpoint.
type Health struct {
	Status      string `json:"status"`
	Connections int64  `json:"connections"`
	Served      int64  `json:"served"`
	// Pending counts worker messages not yet written to any client.
	Pending int `json:"pending"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Health{
		Status:      "ok",
		Connections: s.active.Load(),
		Served:      s.total.Load(),
		Pending:     s.pending(),
	})
}

func (s *Server) pending() int {
	n := 0
	s.outboxes.Range(func(k, _ any) bool {
		n += k.(*host.Outbox).Len()
		return true
	})
	return n
}

func (s *Server) serveWorker(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	s.active.Add(1)
	s.total.Add(1)
	defer s.active.Add(-1)

	log := s.log.With("remote", r.RemoteAddr)
	log.Info("host connected")

	err = s.serveConn(r.Context(), conn, log)
	if err != nil && !errors.Is(err, errDisconnected) {
		log.Warn("host connection failed", "error", err)
	}
	log.Info("host disconnected")
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, log *slog.Logger) error {
	out := host.NewOutbox()
	s.outboxes.Store(out, struct{}{})
	defer func() {
		s.outboxes.Delete(out)
		if n := out.Len(); n > 0 {
			log.Debug("dropping undelivered messages", "count", n)
		}
	}()

	wk := worker.New(worker.Config{
		Factory:  s.opts.Factory,
		Sink:     out,
		Settings: s.opts.Settings,
		Source:   s.opts.Source,
		Renderer: s.opts.Renderer,
		Log:      log,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wk.Run(ctx)
	})

	g.Go(func() error {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
					return errDisconnected
				}
				return fmt.Errorf("read: %w", err)
			}
			cmd, err := decodeCommand(mt, data)
			if err != nil {
				out.Send(host.Error("", err))
				continue
			}
			log.Debug("command", "cmd", cmd.Cmd)
			wk.Handle(cmd)
		}
	})

	g.Go(func() error {
		for {
			m, err := out.Next(ctx)
			if err != nil {
				return nil
			}
			data, err := msgpack.Marshal(&m)
			if err != nil {
				return fmt.Errorf("encode %s: %w", m.Kind, err)
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			wk.Recycle(m)
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		out.Close()
		_ = conn.Close()
		return nil
	})

	return g.Wait()
}

func decodeCommand(mt int, data []byte) (host.Command, error) {
	var cmd host.Command
	switch mt {
	case websocket.TextMessage:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&cmd); err != nil {
			return cmd, fmt.Errorf("%w: %v", ErrBadCommand, err)
		}
	case websocket.BinaryMessage:
		if err := msgpack.Unmarshal(data, &cmd); err != nil {
			return cmd, fmt.Errorf("%w: %v", ErrBadCommand, err)
		}
	default:
		return cmd, fmt.Errorf("%w: message type %d", ErrBadCommand, mt)
	}
	if cmd.Cmd == "" {
		return cmd, fmt.Errorf("%w: missing cmd", ErrBadCommand)
	}
	return cmd, nil
}
