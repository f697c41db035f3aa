package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtReadBufferSize fits ten 1316-byte SRT payloads.
const srtReadBufferSize = 1316 * 10

// srtReader pulls from an SRT listener in caller mode. The stream id is
// taken from the streamid query parameter.
func srtReader(rawURL string, opts Options) reader {
	return func(ctx context.Context, deliver func([]byte)) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return err
		}

		cfg := srtgo.DefaultConfig()
		SetNanos(&cfg.Latency, opts.SRTLatency)
		sid := u.Query().Get("streamid")
		if sid != "" {
			cfg.StreamID = sid
		}

		conn, err := dialSRT(ctx, func() (*srtgo.Conn, error) { return srtgo.Dial(u.Host, cfg) }, opts)
		if err != nil {
			return err
		}
		defer conn.Close()
		opts.Log.Debug("srt connected", "addr", u.Host, "stream_id", sid)

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		buf := make([]byte, srtReadBufferSize)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				deliver(chunk)
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("srt read: %w", err)
			}
		}
	}
}

// SetNanos stores d in an SRT config field expressed in nanoseconds,
// whatever integer type the field uses.
func SetNanos[T ~int | ~int32 | ~int64 | ~uint32 | ~uint64](dst *T, d time.Duration) {
	*dst = T(d.Nanoseconds())
}

// dialSRT runs dial with a timeout. A connection that completes after the
// timeout or cancellation is closed in the background.
func dialSRT(ctx context.Context, dial func() (*srtgo.Conn, error), opts Options) (*srtgo.Conn, error) {
	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := dial()
		ch <- dialResult{conn, err}
	}()

	drain := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	timer := time.NewTimer(opts.DialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt dial: %w", res.err)
		}
		return res.conn, nil
	case <-timer.C:
		drain()
		return nil, fmt.Errorf("%w after %s", ErrDialTimeout, opts.DialTimeout)
	case <-ctx.Done():
		drain()
		return nil, ctx.Err()
	}
}
