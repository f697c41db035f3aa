package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/flvplay/internal/flv"
	"github.com/zsiec/flvplay/internal/flvgen"
	"github.com/zsiec/flvplay/internal/source"
)

func TestAssetKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"camera1", "camera1"},
		{"/camera1", "camera1"},
		{"live/camera1", "camera1"},
		{"/live/camera1.flv", "camera1"},
		{"camera1.flv", "camera1"},
		{"studio/camera1", "studio/camera1"},
		{"liveshow", "liveshow"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := assetKey(tc.in); got != tc.want {
			t.Errorf("assetKey(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLibrary(t *testing.T) {
	t.Parallel()

	lib := NewLibrary(nil)
	if _, ok := lib.Add("b", []byte{1}); !ok {
		t.Fatal("Add(b) rejected")
	}
	if _, ok := lib.Add("a", []byte{2, 3}); !ok {
		t.Fatal("Add(a) rejected")
	}

	if dup, ok := lib.Add("a", []byte{9}); ok || dup != nil {
		t.Errorf("duplicate Add: got (%v, %v), want (nil, false)", dup, ok)
	}
	if a, _ := lib.Get("a"); !bytes.Equal(a.Data, []byte{2, 3}) {
		t.Errorf("Get(a): got %v, want [2 3]", a.Data)
	}

	var keys []string
	for _, a := range lib.List() {
		keys = append(keys, a.Key)
	}
	if strings.Join(keys, ",") != "a,b" {
		t.Errorf("List: got %v, want [a b]", keys)
	}

	if !lib.Remove("a") {
		t.Error("Remove(a): got false, want true")
	}
	if lib.Remove("a") {
		t.Error("second Remove(a): got true, want false")
	}
	if _, ok := lib.Get("a"); ok {
		t.Error("Get(a) after Remove: still present")
	}
}

type sink struct {
	mu     sync.Mutex
	chunks [][]byte
	ends   int
	errs   []error
}

func (s *sink) handlers() source.Handlers {
	return source.Handlers{
		OnChunk: func(b []byte) { s.mu.Lock(); s.chunks = append(s.chunks, b); s.mu.Unlock() },
		OnEnd:   func() { s.mu.Lock(); s.ends++; s.mu.Unlock() },
		OnError: func(err error) { s.mu.Lock(); s.errs = append(s.errs, err); s.mu.Unlock() },
	}
}

func (s *sink) snapshot() ([][]byte, int, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...), s.ends, append([]error(nil), s.errs...)
}

// check verifies a source finished exactly once without errors.
func (s *sink) check(t *testing.T) [][]byte {
	t.Helper()
	chunks, ends, errs := s.snapshot()
	if len(errs) != 0 {
		t.Errorf("errors: got %v, want none", errs)
	}
	if ends != 1 {
		t.Errorf("ends: got %d, want 1", ends)
	}
	return chunks
}

func wait(t *testing.T, h *source.Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("source did not finish")
	}
}

func newAsset(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := flvgen.Write(&buf, flvgen.Options{Duration: time.Second, Audio: true}); err != nil {
		t.Fatalf("flvgen: %v", err)
	}
	return buf.Bytes()
}

func newOrigin(t *testing.T) (*httptest.Server, []byte) {
	t.Helper()
	data := newAsset(t)
	lib := NewLibrary(nil)
	lib.Add("demo", data)
	srv := httptest.NewServer(NewServer(lib, 1000, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, data
}

func open(t *testing.T, url string, s *sink) *source.Handle {
	t.Helper()
	h, err := source.Open(context.Background(), url, s.handlers(), source.Options{})
	if err != nil {
		t.Fatalf("Open(%s): %v", url, err)
	}
	return h
}

func TestServer_HTTP(t *testing.T) {
	t.Parallel()
	srv, data := newOrigin(t)

	s := &sink{}
	wait(t, open(t, srv.URL+"/live/demo.flv", s))
	if got := bytes.Join(s.check(t), nil); !bytes.Equal(got, data) {
		t.Errorf("body: got %d bytes, want %d", len(got), len(data))
	}

	resp, err := http.Get(srv.URL + "/live/missing.flv")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing asset: got %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestServer_WebSocketTagged(t *testing.T) {
	t.Parallel()
	srv, data := newOrigin(t)

	s := &sink{}
	h := open(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/demo.flv", s)
	if h.Framing != source.FramingTagged {
		t.Errorf("framing: got %v, want %v", h.Framing, source.FramingTagged)
	}
	wait(t, h)
	if got := bytes.Join(s.check(t), nil); !bytes.Equal(got, data) {
		t.Errorf("stream: got %d bytes, want %d", len(got), len(data))
	}
}

func TestServer_WebSocketRecords(t *testing.T) {
	t.Parallel()
	srv, data := newOrigin(t)

	var want int
	for _, err := range flv.ReadFrames(context.Background(), bytes.NewReader(data), 0) {
		if err != nil {
			t.Fatalf("ReadFrames: %v", err)
		}
		want++
	}

	s := &sink{}
	h := open(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/demo", s)
	if h.Framing != source.FramingRecord {
		t.Errorf("framing: got %v, want %v", h.Framing, source.FramingRecord)
	}
	wait(t, h)

	chunks := s.check(t)
	if len(chunks) != want {
		t.Fatalf("records: got %d, want %d", len(chunks), want)
	}
	for i, c := range chunks {
		if _, err := flv.ParseRecord(c); err != nil {
			t.Errorf("record %d: %v", i, err)
		}
	}
}

func TestServer_List(t *testing.T) {
	t.Parallel()
	srv, data := newOrigin(t)

	resp, err := http.Get(srv.URL + "/assets")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var infos []AssetInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("assets: got %d, want 1", len(infos))
	}
	if infos[0].Key != "demo" || infos[0].Bytes != len(data) {
		t.Errorf("got %+v, want demo with %d bytes", infos[0], len(data))
	}
}

func TestServer_Remove(t *testing.T) {
	t.Parallel()
	srv, _ := newOrigin(t)

	del := func(path string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodDelete, srv.URL+path, nil)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := del("/assets/demo"); got != http.StatusNoContent {
		t.Errorf("first delete: got %d, want %d", got, http.StatusNoContent)
	}
	if got := del("/assets/demo"); got != http.StatusNotFound {
		t.Errorf("second delete: got %d, want %d", got, http.StatusNotFound)
	}

	resp, err := http.Get(srv.URL + "/live/demo.flv")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("removed asset: got %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func freeUDPAddr(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := pc.LocalAddr().String()
	if err := pc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return addr
}

func TestSRTServer_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("SRT handshake over loopback")
	}
	t.Parallel()

	data := newAsset(t)
	lib := NewLibrary(nil)
	lib.Add("demo", data)

	addr := freeUDPAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewSRTServer(lib, 0, nil)
	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(ctx, addr) }()

	var (
		s *sink
		h *source.Handle
	)
	for attempt := 0; ; attempt++ {
		if attempt == 20 {
			t.Fatal("SRT origin never accepted")
		}
		s = &sink{}
		var err error
		h, err = source.Open(ctx, "srt://"+addr+"?streamid=live/demo", s.handlers(),
			source.Options{DialTimeout: time.Second})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if receiving(s, h) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		chunks, _, _ := s.snapshot()
		if len(bytes.Join(chunks, nil)) >= len(data) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d of %d bytes", len(bytes.Join(chunks, nil)), len(data))
		}
		time.Sleep(20 * time.Millisecond)
	}

	h.Cancel()
	wait(t, h)
	if got := bytes.Join(s.check(t), nil); !bytes.Equal(got, data) {
		t.Errorf("stream: got %d bytes, want %d", len(got), len(data))
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("ListenAndServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SRT server did not stop")
	}
}

// receiving reports whether s gets a chunk before h finishes.
func receiving(s *sink, h *source.Handle) bool {
	for {
		chunks, _, _ := s.snapshot()
		if len(chunks) > 0 {
			return true
		}
		select {
		case <-h.Done():
			chunks, _, _ = s.snapshot()
			return len(chunks) > 0
		case <-time.After(10 * time.Millisecond):
		}
	}
}
