package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/quic-go/quic-go/http3"
)

// httpReader streams a chunked HTTP response body. h3:// URLs, or any
// http(s) URL when opts.HTTP3 is set, go over HTTP/3 as https.
func httpReader(rawURL string, opts Options) reader {
	return func(ctx context.Context, deliver func([]byte)) error {
		target, useH3, err := httpTarget(rawURL, opts.HTTP3)
		if err != nil {
			return err
		}

		client := opts.HTTPClient
		switch {
		case useH3:
			tlsConf := &tls.Config{}
			if opts.TLSConfig != nil {
				tlsConf = opts.TLSConfig.Clone()
			}
			tlsConf.NextProtos = []string{http3.NextProtoH3}
			tr := &http3.Transport{TLSClientConfig: tlsConf}
			defer tr.Close()
			client = &http.Client{Transport: tr}
		case client != nil:
		case opts.TLSConfig != nil:
			tr := http.DefaultTransport.(*http.Transport).Clone()
			tr.TLSClientConfig = opts.TLSConfig
			defer tr.CloseIdleConnections()
			client = &http.Client{Transport: tr}
		default:
			client = http.DefaultClient
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
		}

		buf := make([]byte, opts.ReadBufferSize)
		for {
			n, err := resp.Body.Read(buf)
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
				return err
			}
		}
	}
}

func httpTarget(rawURL string, forceH3 bool) (string, bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, err
	}
	switch strings.ToLower(u.Scheme) {
	case "h3":
		u.Scheme = "https"
		return u.String(), true, nil
	case "https":
		return rawURL, forceH3, nil
	default:
		return rawURL, false, nil
	}
}
