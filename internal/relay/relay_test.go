package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/flvplay/internal/host"
)

type captureSink struct {
	msgs []host.Message
}

func (s *captureSink) Send(m host.Message) { s.msgs = append(s.msgs, m) }

func (s *captureSink) last(t *testing.T) host.Message {
	t.Helper()
	require.NotEmpty(t, s.msgs)
	return s.msgs[len(s.msgs)-1]
}

type fixedMetrics struct{}

func (fixedMetrics) Bitrate() float64 { return 1_500_000 }
func (fixedMetrics) Delay() int64     { return 87 }

type fakeRenderer struct {
	configureErr error
	renderErr    error
	renders      int
}

func (r *fakeRenderer) Configure(w, h int) error { return r.configureErr }

func (r *fakeRenderer) Render(y, u, v []byte) (*host.Image, error) {
	if r.renderErr != nil {
		return nil, r.renderErr
	}
	r.renders++
	return &host.Image{Width: 4, Height: 2, Format: "rgba", Data: make([]byte, 4*2*4)}, nil
}

func planes(w, h int) (y, u, v []byte) {
	y = make([]byte, w*h)
	u = make([]byte, w*h/4)
	v = make([]byte, w*h/4)
	for i := range y {
		y[i] = byte(i)
	}
	u[0], v[0] = 0x80, 0x81
	return y, u, v
}

func TestRelay_RawPlanesWithoutRenderer(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	r := New(sink, Options{Metrics: fixedMetrics{}})

	r.ConfigureVideo(4, 2)
	assert.Equal(t, host.VideoConfigured(4, 2), sink.last(t))

	y, u, v := planes(4, 2)
	r.VideoReady(40, y, u, v)

	m := sink.last(t)
	assert.Equal(t, host.KindVideoFrame, m.Kind)
	assert.Equal(t, int64(40), m.PTS)
	assert.Equal(t, 1_500_000.0, m.Bitrate)
	assert.Equal(t, int64(87), m.Delay)
	assert.Nil(t, m.Image)
	require.Len(t, m.Planes, 3)
	assert.Equal(t, y, m.Planes[0])
	assert.Len(t, m.Planes[1], 2)
	assert.Equal(t, byte(0x81), m.Planes[2][0])

	// The decoder's buffers are not aliased.
	y[0] = 0xFF
	assert.Equal(t, byte(0), m.Planes[0][0])
}

func TestRelay_Renderer(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	rend := &fakeRenderer{}
	r := New(sink, Options{Renderer: rend})

	r.ConfigureVideo(4, 2)
	y, u, v := planes(4, 2)
	r.VideoReady(0, y, u, v)

	m := sink.last(t)
	require.NotNil(t, m.Image)
	assert.Nil(t, m.Planes)
	assert.Equal(t, 1, rend.renders)
	assert.Zero(t, m.Bitrate, "nil metrics report zero")
}

func TestRelay_ForceNoOffscreen(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	rend := &fakeRenderer{}
	r := New(sink, Options{Renderer: rend, ForceNoOffscreen: true})

	r.ConfigureVideo(4, 2)
	y, u, v := planes(4, 2)
	r.VideoReady(0, y, u, v)

	assert.Zero(t, rend.renders)
	assert.Len(t, sink.last(t).Planes, 3)
}

func TestRelay_RendererFailuresFallBack(t *testing.T) {
	t.Parallel()

	t.Run("configure", func(t *testing.T) {
		t.Parallel()
		sink := &captureSink{}
		r := New(sink, Options{Renderer: &fakeRenderer{configureErr: errors.New("no gpu")}})
		r.ConfigureVideo(4, 2)
		y, u, v := planes(4, 2)
		r.VideoReady(0, y, u, v)
		assert.Len(t, sink.last(t).Planes, 3)
		assert.Zero(t, r.Stats().RenderErrors)
	})

	t.Run("render", func(t *testing.T) {
		t.Parallel()
		sink := &captureSink{}
		r := New(sink, Options{Renderer: &fakeRenderer{renderErr: errors.New("context lost")}})
		r.ConfigureVideo(4, 2)
		y, u, v := planes(4, 2)
		r.VideoReady(0, y, u, v)
		assert.Len(t, sink.last(t).Planes, 3)
		assert.Equal(t, int64(1), r.Stats().RenderErrors)
	})
}

func TestRelay_DropsBadPictures(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	r := New(sink, Options{})

	y, u, v := planes(4, 2)
	r.VideoReady(0, y, u, v)
	assert.Empty(t, sink.msgs, "picture before configuration")

	r.ConfigureVideo(4, 2)
	r.VideoReady(0, []byte{1}, nil, nil)
	assert.Len(t, sink.msgs, 1, "only the configuration message")
	assert.Zero(t, r.Stats().VideoFrames)
}

func TestRelay_Audio(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	r := New(sink, Options{})

	r.ConfigureAudio(2, 44100)
	assert.Equal(t, host.AudioConfigured(2, 44100), sink.last(t))

	in := [][]float32{{0.5, -0.5}, {0.25, -0.25}}
	r.AudioReady(in)

	m := sink.last(t)
	assert.Equal(t, host.KindAudioFrame, m.Kind)
	assert.Equal(t, in, m.Buffers)
	in[0][0] = 0
	assert.Equal(t, float32(0.5), m.Buffers[0][0])
	assert.Equal(t, int64(1), r.Stats().AudioFrames)
}

func TestRelay_Recycle(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	r := New(sink, Options{})
	r.ConfigureVideo(4, 2)
	y, u, v := planes(4, 2)
	r.VideoReady(0, y, u, v)
	r.AudioReady([][]float32{{1, 2}})

	r.Recycle(sink.msgs[1])
	r.Recycle(sink.msgs[2])
	r.Recycle(host.DecoderReady())

	assert.Equal(t, 1, r.planes.Idle(0))
	assert.Equal(t, 1, r.planes.Idle(2))
	assert.Equal(t, 1, r.samples.Idle(0))
	assert.Equal(t, 3, r.Stats().IdlePlanes)

	// Recycled planes are handed back out.
	y, u, v = planes(4, 2)
	r.VideoReady(0, y, u, v)
	assert.Equal(t, 0, r.planes.Idle(0))
	assert.Zero(t, r.Stats().IdlePlanes)
}
