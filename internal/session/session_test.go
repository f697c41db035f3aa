package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/flvplay/internal/codec/probe"
	"github.com/zsiec/flvplay/internal/host"
	"github.com/zsiec/flvplay/internal/mailbox"
	"github.com/zsiec/flvplay/internal/scheduler"
)

// 320x240 baseline SPS and a minimal PPS.
var (
	testSPS = []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x05, 0x07, 0xE4}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
)

func avcSequenceHeader() []byte {
	p := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, testSPS[1], testSPS[2], testSPS[3], 0xFF, 0xE1, 0x00, byte(len(testSPS))}
	p = append(p, testSPS...)
	p = append(p, 0x01, 0x00, byte(len(testPPS)))
	return append(p, testPPS...)
}

type tag struct {
	typ     uint8
	ts      uint32
	payload []byte
}

func flvStream(tags ...tag) []byte {
	var b bytes.Buffer
	b.Write([]byte{'F', 'L', 'V', 0x01, 0x05, 0x00, 0x00, 0x00, 0x09})
	prev := uint32(0)
	for _, t := range tags {
		binary.Write(&b, binary.BigEndian, prev)
		n := len(t.payload)
		b.Write([]byte{t.typ, byte(n >> 16), byte(n >> 8), byte(n),
			byte(t.ts >> 16), byte(t.ts >> 8), byte(t.ts), byte(t.ts >> 24), 0, 0, 0})
		b.Write(t.payload)
		prev = uint32(11 + n)
	}
	binary.Write(&b, binary.BigEndian, prev)
	return b.Bytes()
}

func sampleStream() []byte {
	return flvStream(
		tag{18, 0, []byte{0x02, 0x00, 0x0A, 'o', 'n', 'M', 'e', 't', 'a', 'D', 'a', 't', 'a'}},
		tag{9, 0, avcSequenceHeader()},
		tag{8, 0, []byte{0xAF, 0x00, 0x12, 0x10}},
		tag{9, 0, []byte{0x17, 0x01, 0, 0, 0, 0, 0, 0, 2, 0x65, 0x88}},
		tag{8, 23, []byte{0xAF, 0x01, 0x21, 0x00}},
		tag{9, 40, []byte{0x27, 0x01, 0, 0, 0, 0, 0, 0, 2, 0x41, 0x9A}},
		tag{8, 46, []byte{0xAF, 0x01, 0x21, 0x00}},
	)
}

type captureSink struct {
	mu   sync.Mutex
	msgs []host.Message
}

func (c *captureSink) Send(m host.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *captureSink) kinds() []host.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]host.Kind, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Kind
	}
	return out
}

func (c *captureSink) count(k host.Kind) int {
	n := 0
	for _, got := range c.kinds() {
		if got == k {
			n++
		}
	}
	return n
}

func (c *captureSink) first(k host.Kind) (host.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.msgs {
		if m.Kind == k {
			return m, true
		}
	}
	return host.Message{}, false
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type harness struct {
	s     *Session
	sink  *captureSink
	mb    *mailbox.Mailbox[func()]
	clock *fakeClock
}

func newHarness(t *testing.T, mode scheduler.Mode) *harness {
	t.Helper()
	h := &harness{
		sink:  &captureSink{},
		mb:    mailbox.New[func()](16),
		clock: &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
	h.s = New(Config{
		Factory:       probe.Factory{},
		Sink:          h.sink,
		Post:          func(f func()) { _ = h.mb.Push(f) },
		Mode:          mode,
		VideoBufferMs: 100,
		Clock:         h.clock,
		Captions:      true,
	})
	t.Cleanup(h.s.Close)
	return h
}

// pumpUntil runs posted callbacks on the test goroutine, standing in for
// the worker loop, until cond holds.
func (h *harness) pumpUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		f, err := h.mb.Pop(ctx)
		cancel()
		require.NoError(t, err, "condition not reached")
		f()
	}
}

func serve(t *testing.T, body []byte) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestSession_PlaysTaggedStream(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scheduler.OnDemand)
	require.NoError(t, h.s.Start(context.Background(), serve(t, sampleStream())+"/live/a.flv"))
	assert.Equal(t, Playing, h.s.State())
	assert.NotNil(t, h.s.TickC())

	h.pumpUntil(t, func() bool { return h.sink.count(host.KindEnded) == 1 })
	assert.Equal(t, 6, h.s.Stats().Queued, "script tag skipped")

	h.s.Tick() // anchors and decodes the sequence header
	h.clock.now = h.clock.now.Add(time.Second)
	h.s.Tick()

	st := h.s.Stats()
	assert.Zero(t, st.Queued)
	assert.Equal(t, int64(3), st.Scheduler.DecodedVideo)
	assert.Equal(t, int64(3), st.Scheduler.DecodedAudio)
	assert.Zero(t, st.DecodeErrors)

	vc, ok := h.sink.first(host.KindVideoConfigured)
	require.True(t, ok)
	assert.Equal(t, 320, vc.Width)
	assert.Equal(t, 240, vc.Height)

	ac, ok := h.sink.first(host.KindAudioConfigured)
	require.True(t, ok)
	assert.Equal(t, 2, ac.Channels)
	assert.Equal(t, 44100, ac.SampleRate)

	assert.Equal(t, 2, h.sink.count(host.KindVideoFrame))
	assert.Equal(t, 2, h.sink.count(host.KindAudioFrame))

	vf, _ := h.sink.first(host.KindVideoFrame)
	assert.Len(t, vf.Planes, 3)
	assert.Positive(t, vf.Delay)
}

func TestSession_CloseStopsDecoding(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scheduler.OnDemand)
	require.NoError(t, h.s.Start(context.Background(), serve(t, sampleStream())+"/a.flv"))
	h.pumpUntil(t, func() bool { return h.sink.count(host.KindEnded) == 1 })

	h.s.Tick()
	h.s.Close()
	before := len(h.sink.kinds())

	h.clock.now = h.clock.now.Add(time.Hour)
	h.s.Tick()
	h.s.Close()

	assert.Equal(t, Closed, h.s.State())
	assert.Nil(t, h.s.TickC(), "tick timer released")
	assert.Len(t, h.sink.kinds(), before, "nothing decoded after close")
	assert.Zero(t, h.s.Stats().Queued)

	select {
	case <-h.s.handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("source cancel path did not complete")
	}

	assert.ErrorIs(t, h.s.Start(context.Background(), "http://example.com/a.flv"), ErrClosed)
}

func TestSession_StartTwiceIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scheduler.Live)
	url := serve(t, sampleStream()) + "/a.flv"
	require.NoError(t, h.s.Start(context.Background(), url))
	assert.ErrorIs(t, h.s.Start(context.Background(), url), ErrAlreadyPlaying)
	assert.Equal(t, Playing, h.s.State())
}

func TestSession_CloseWhileIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scheduler.Live)
	h.s.Close()
	assert.Equal(t, Idle, h.s.State())
}

func TestSession_StartRejectsBadURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scheduler.Live)
	assert.Error(t, h.s.Start(context.Background(), "gopher://example.com/a.flv"))
	assert.Equal(t, Idle, h.s.State())
}

func TestSession_TransportErrorClosesSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, scheduler.Live)
	require.NoError(t, h.s.Start(context.Background(), srv.URL+"/a.flv"))
	h.pumpUntil(t, func() bool { return h.s.State() == Closed })

	m, ok := h.sink.first(host.KindError)
	require.True(t, ok)
	assert.Equal(t, h.s.ID, m.Session)
	assert.Contains(t, m.Error, "503")
	assert.Zero(t, h.sink.count(host.KindEnded))
}

func TestSession_DecoderErrorForwarded(t *testing.T) {
	t.Parallel()

	// Coded video before any sequence header.
	body := flvStream(tag{9, 0, []byte{0x17, 0x01, 0, 0, 0, 0, 0, 0, 1, 0x65}})
	h := newHarness(t, scheduler.Live)
	require.NoError(t, h.s.Start(context.Background(), serve(t, body)+"/a.flv"))
	h.pumpUntil(t, func() bool { return h.sink.count(host.KindEnded) == 1 })

	h.s.Tick()
	m, ok := h.sink.first(host.KindError)
	require.True(t, ok)
	assert.Contains(t, m.Error, "video decoder")
	assert.Equal(t, Playing, h.s.State(), "decoder errors are not fatal")
	assert.Equal(t, int64(1), h.s.Stats().DecodeErrors)
}

func TestSession_RecordFraming(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.BinaryMessage, []byte{1, 0, 0, 0, 0, 0xAF, 0x00, 0x12, 0x10})
		conn.WriteMessage(websocket.BinaryMessage, []byte{1, 0})
		conn.WriteMessage(websocket.BinaryMessage, []byte{1, 0, 0, 0, 23, 0xAF, 0x01, 0x21})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, scheduler.OnDemand)
	require.NoError(t, h.s.Start(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/live/a"))
	h.pumpUntil(t, func() bool { return h.sink.count(host.KindEnded) == 1 })

	st := h.s.Stats()
	assert.Equal(t, 2, st.Queued)
	assert.Equal(t, int64(1), st.RecordErrors)

	h.s.Tick()
	h.clock.now = h.clock.now.Add(time.Second)
	h.s.Tick()
	assert.Equal(t, 1, h.sink.count(host.KindAudioConfigured))
	assert.Equal(t, 1, h.sink.count(host.KindAudioFrame))
}

func TestSession_Properties(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scheduler.Live)
	assert.Equal(t, uint32(100), h.s.VideoBuffer())
	h.s.SetVideoBuffer(2500)
	assert.Equal(t, uint32(2500), h.s.VideoBuffer())

	h.s.SetPolicy(scheduler.Policy{TickInterval: 20 * time.Millisecond, CatchUp: 500 * time.Millisecond})
	require.NoError(t, h.s.Start(context.Background(), serve(t, sampleStream())+"/a.flv"))
	assert.Equal(t, 20*time.Millisecond, h.s.sched.Policy().TickInterval)

	h.s.SetMode(scheduler.OnDemand)
	assert.Equal(t, scheduler.OnDemand, h.s.schedSt.Mode)
}
