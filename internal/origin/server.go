package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/flvplay/internal/flv"
)

// DefaultChunkSize is the write size for HTTP and tagged WebSocket output.
const DefaultChunkSize = 4096

// Server serves library assets over HTTP and WebSocket.
type Server struct {
	log       *slog.Logger
	lib       *Library
	chunkSize int
	upgrader  websocket.Upgrader
}

// NewServer creates a Server. chunkSize <= 0 selects DefaultChunkSize. If
// log is nil, slog.Default() is used.
func NewServer(lib *Library, chunkSize int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Server{
		log:       log.With("component", "origin"),
		lib:       lib,
		chunkSize: chunkSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// AssetInfo is the JSON listing entry for one asset.
type AssetInfo struct {
	Key     string `json:"key"`
	Bytes   int    `json:"bytes"`
	AddedAt int64  `json:"addedAt"`
}

// Handler routes:
//
//	GET /live/{key}.flv  chunked HTTP body
//	GET /ws/{key}.flv    WebSocket, raw container chunks
//	GET /ws/{key}        WebSocket, one record per frame
//	GET /assets          JSON listing
//	DELETE /assets/{key} remove an asset
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /live/{file}", s.serveHTTP)
	mux.HandleFunc("GET /ws/{file}", s.serveWS)
	mux.HandleFunc("GET /assets", s.serveList)
	mux.HandleFunc("DELETE /assets/{key...}", s.serveRemove)
	return mux
}

func (s *Server) serveRemove(w http.ResponseWriter, r *http.Request) {
	if !s.lib.Remove(assetKey(r.PathValue("key"))) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveList(w http.ResponseWriter, r *http.Request) {
	assets := s.lib.List()
	infos := make([]AssetInfo, len(assets))
	for i, a := range assets {
		infos[i] = AssetInfo{Key: a.Key, Bytes: len(a.Data), AddedAt: a.AddedAt.UnixMilli()}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(infos)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lib.Get(assetKey(r.PathValue("file")))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/x-flv")
	fl, _ := w.(http.Flusher)
	for off := 0; off < len(a.Data); off += s.chunkSize {
		end := min(off+s.chunkSize, len(a.Data))
		if _, err := w.Write(a.Data[off:end]); err != nil {
			s.log.Debug("http write failed", "key", a.Key, "error", err)
			return
		}
		if fl != nil {
			fl.Flush()
		}
	}
	s.log.Debug("http asset served", "key", a.Key, "bytes", len(a.Data))
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	a, ok := s.lib.Get(assetKey(file))
	if !ok {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	tagged := len(file) > 4 && file[len(file)-4:] == ".flv"
	if tagged {
		err = s.writeChunks(conn, a.Data)
	} else {
		err = s.writeRecords(r.Context(), conn, a.Data)
	}
	if err != nil {
		s.log.Debug("websocket write failed", "key", a.Key, "error", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func (s *Server) writeChunks(conn *websocket.Conn, data []byte) error {
	for off := 0; off < len(data); off += s.chunkSize {
		end := min(off+s.chunkSize, len(data))
		if err := conn.WriteMessage(websocket.BinaryMessage, data[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) writeRecords(ctx context.Context, conn *websocket.Conn, data []byte) error {
	var unit []byte
	for f, err := range flv.ReadFrames(ctx, bytes.NewReader(data), 0) {
		if err != nil {
			return fmt.Errorf("demux asset: %w", err)
		}
		unit = flv.AppendRecord(unit[:0], f)
		if err := conn.WriteMessage(websocket.BinaryMessage, unit); err != nil {
			return err
		}
	}
	return nil
}
