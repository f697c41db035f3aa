// Package source delivers a remote byte stream as a sequence of chunks.
//
// Open classifies the URL, starts the matching transport in a background
// goroutine, and reports through Handlers: zero or more OnChunk calls, then
// exactly one of OnEnd or OnError. Handle.Cancel aborts the transport and
// guarantees that no OnChunk call happens after it returns.
package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the network transport a URL is fetched with.
type Transport uint8

// Transports.
const (
	TransportHTTP Transport = iota
	TransportWebSocket
	TransportSRT
)

func (t Transport) String() string {
	switch t {
	case TransportHTTP:
		return "http"
	case TransportWebSocket:
		return "websocket"
	case TransportSRT:
		return "srt"
	default:
		return "unknown"
	}
}

// Framing is how the delivered bytes are structured.
type Framing uint8

// Framings.
const (
	// FramingTagged is a continuous tagged container byte stream with no
	// relation between chunk and tag boundaries.
	FramingTagged Framing = iota
	// FramingRecord delivers one simple record per chunk.
	FramingRecord
)

func (f Framing) String() string {
	if f == FramingRecord {
		return "record"
	}
	return "tagged"
}

// Defaults.
const (
	DefaultReadBufferSize = 64 * 1024
	DefaultDialTimeout    = 10 * time.Second
	DefaultSRTLatency     = 120 * time.Millisecond
)

// Sentinel errors.
var (
	ErrUnsupportedScheme = errors.New("source: unsupported scheme")
	ErrHTTPStatus        = errors.New("source: unexpected HTTP status")
	ErrDialTimeout       = errors.New("source: dial timed out")
)

// TransportError reports a failed fetch. It is terminal for the session.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("source: %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Handlers receive the output of an open source. OnChunk owns the slice it
// is given. Handlers are called from the source goroutine, except that
// OnChunk is never called after Cancel has returned.
type Handlers struct {
	OnChunk func(chunk []byte)
	OnEnd   func()
	OnError func(err error)
}

// Options tunes the transports. Zero values select the defaults.
type Options struct {
	// HTTP3 fetches http(s) URLs over HTTP/3. h3:// URLs always use it.
	HTTP3          bool
	ReadBufferSize int
	DialTimeout    time.Duration
	SRTLatency     time.Duration

	// TLSConfig, if set, is used for https, wss and HTTP/3 connections.
	TLSConfig  *tls.Config
	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// Meter, if set, records every chunk delivered.
	Meter *Meter
	Log   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.SRTLatency <= 0 {
		o.SRTLatency = DefaultSRTLatency
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

// Classify inspects the URL scheme to pick the transport and the path
// suffix to pick the framing. HTTP and SRT always carry the tagged
// container; WebSocket carries it only for .flv paths and simple records
// otherwise.
func Classify(rawURL string) (Transport, Framing, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, 0, fmt.Errorf("source: parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "h3":
		return TransportHTTP, FramingTagged, nil
	case "ws", "wss":
		if strings.HasSuffix(strings.ToLower(u.Path), ".flv") {
			return TransportWebSocket, FramingTagged, nil
		}
		return TransportWebSocket, FramingRecord, nil
	case "srt":
		return TransportSRT, FramingTagged, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// reader runs a transport until it ends, calling deliver per chunk.
type reader func(ctx context.Context, deliver func([]byte)) error

// Handle controls an open source.
type Handle struct {
	URL       string
	Transport Transport
	Framing   Framing

	log      *slog.Logger
	handlers Handlers
	meter    *Meter
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	canceled bool
	once     sync.Once
}

// Open starts fetching rawURL. Connection setup happens in the background;
// failures arrive through OnError. Open itself only fails for URLs that
// cannot be classified.
func Open(ctx context.Context, rawURL string, h Handlers, opts Options) (*Handle, error) {
	tr, fr, err := Classify(rawURL)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	var run reader
	switch tr {
	case TransportHTTP:
		run = httpReader(rawURL, opts)
	case TransportWebSocket:
		run = wsReader(rawURL, opts)
	case TransportSRT:
		run = srtReader(rawURL, opts)
	}

	ctx, cancel := context.WithCancel(ctx)
	hd := &Handle{
		URL:       rawURL,
		Transport: tr,
		Framing:   fr,
		log:       opts.Log.With("component", "source", "transport", tr.String()),
		handlers:  h,
		meter:     opts.Meter,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	hd.log.Info("opening", "url", rawURL, "framing", fr.String())

	go func() {
		err := run(ctx, hd.deliver)
		cancel()
		hd.finish(err)
	}()
	return hd, nil
}

func (h *Handle) deliver(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled {
		return
	}
	if h.meter != nil {
		h.meter.RecordRead(len(chunk))
	}
	if h.handlers.OnChunk != nil {
		h.handlers.OnChunk(chunk)
	}
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		canceled := h.canceled
		h.canceled = true
		h.mu.Unlock()

		if err == nil || canceled || errors.Is(err, context.Canceled) {
			h.log.Info("ended", "canceled", canceled)
			if h.handlers.OnEnd != nil {
				h.handlers.OnEnd()
			}
		} else {
			terr := &TransportError{URL: h.URL, Err: err}
			h.log.Warn("transport failed", "error", err)
			if h.handlers.OnError != nil {
				h.handlers.OnError(terr)
			}
		}
		close(h.done)
	})
}

// Cancel aborts the transport. After Cancel returns no further OnChunk call
// is made, and the terminal callback, if it has not fired yet, is OnEnd.
// Cancel is idempotent and does not wait for the transport goroutine.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.canceled = true
	h.mu.Unlock()
	h.cancel()
}

// Done is closed after the terminal callback has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
