package source

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// wsReader delivers every binary message as one chunk. Text messages are
// ignored. A normal close from the server ends the stream.
func wsReader(rawURL string, opts Options) reader {
	return func(ctx context.Context, deliver func([]byte)) error {
		dialer := opts.Dialer
		if dialer == nil {
			dialer = &websocket.Dialer{
				HandshakeTimeout: opts.DialTimeout,
				ReadBufferSize:   opts.ReadBufferSize,
				TLSClientConfig:  opts.TLSConfig,
			}
		}

		conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
		if err != nil {
			if resp != nil {
				return fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
			}
			return fmt.Errorf("websocket dial: %w", err)
		}
		defer conn.Close()

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("websocket read: %w", err)
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			deliver(data)
		}
	}
}
