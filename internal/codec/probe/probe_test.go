package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/flvplay/internal/codec"
)

// 320x240 baseline SPS and a minimal PPS.
var (
	testSPS = []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x05, 0x07, 0xE4}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
)

func avcSequenceHeader() []byte {
	rec := []byte{0x01, testSPS[1], testSPS[2], testSPS[3], 0xFF, 0xE1, 0x00, byte(len(testSPS))}
	rec = append(rec, testSPS...)
	rec = append(rec, 0x01, 0x00, byte(len(testPPS)))
	rec = append(rec, testPPS...)
	return append([]byte{0x17, 0x00, 0x00, 0x00, 0x00}, rec...)
}

type sink struct {
	channels, rate int
	audio          [][][]float32
	width, height  int
	pts            []int64
	planeLens      [][3]int
	luma           byte
}

func (s *sink) ConfigureAudio(channels, rate int) { s.channels, s.rate = channels, rate }
func (s *sink) AudioReady(b [][]float32)          { s.audio = append(s.audio, b) }
func (s *sink) ConfigureVideo(w, h int)           { s.width, s.height = w, h }
func (s *sink) VideoReady(pts int64, y, u, v []byte) {
	s.pts = append(s.pts, pts)
	s.planeLens = append(s.planeLens, [3]int{len(y), len(u), len(v)})
	s.luma = y[0]
}

func TestAudioDecoder(t *testing.T) {
	t.Parallel()

	s := &sink{}
	d := Factory{}.NewAudio(s)

	require.ErrorIs(t, d.Decode([]byte{0xAF, 0x01, 0x21}), codec.ErrNotConfigured)

	// AAC LC, 44.1 kHz, stereo.
	require.NoError(t, d.Decode([]byte{0xAF, 0x00, 0x12, 0x10}))
	assert.Equal(t, 2, s.channels)
	assert.Equal(t, 44100, s.rate)

	require.NoError(t, d.Decode([]byte{0xAF, 0x01, 0x21, 0x00}))
	require.Len(t, s.audio, 1)
	require.Len(t, s.audio[0], 2)
	assert.Len(t, s.audio[0][0], SamplesPerFrame)
	assert.Zero(t, s.audio[0][1][0])

	d.Reset()
	assert.ErrorIs(t, d.Decode([]byte{0xAF, 0x01, 0x21}), codec.ErrNotConfigured)
}

func TestAudioDecoder_Errors(t *testing.T) {
	t.Parallel()

	d := Factory{}.NewAudio(&sink{})
	assert.ErrorIs(t, d.Decode([]byte{0xAF}), codec.ErrShortPayload)
	assert.ErrorIs(t, d.Decode([]byte{0x2F, 0x01}), codec.ErrUnsupportedCodec, "MP3 is not handled")
	assert.Error(t, d.Decode([]byte{0xAF, 0x00}), "empty AudioSpecificConfig")
}

func TestVideoDecoder(t *testing.T) {
	t.Parallel()

	s := &sink{}
	d := Factory{}.NewVideo(s)

	require.ErrorIs(t, d.Decode([]byte{0x17, 0x01, 0, 0, 0, 0, 0, 0, 1, 0x65}), codec.ErrNotConfigured)

	require.NoError(t, d.Decode(avcSequenceHeader()))
	assert.Equal(t, 320, s.width)
	assert.Equal(t, 240, s.height)

	require.NoError(t, d.Decode([]byte{0x17, 0x01, 0x00, 0x00, 0x28, 0, 0, 0, 1, 0x65}))
	require.NoError(t, d.Decode([]byte{0x27, 0x01, 0xFF, 0xFF, 0xD8, 0, 0, 0, 1, 0x41}))

	assert.Equal(t, []int64{40, -40}, s.pts)
	assert.Equal(t, [3]int{320 * 240, 320 * 240 / 4, 320 * 240 / 4}, s.planeLens[0])
	assert.Equal(t, byte(blankLuma), s.luma)

	// End of sequence is accepted silently.
	require.NoError(t, d.Decode([]byte{0x17, 0x02, 0, 0, 0}))
	assert.Len(t, s.pts, 2)
}

func TestVideoDecoder_Errors(t *testing.T) {
	t.Parallel()

	d := Factory{}.NewVideo(&sink{})
	assert.ErrorIs(t, d.Decode([]byte{0x17, 0x01}), codec.ErrShortPayload)
	assert.ErrorIs(t, d.Decode([]byte{0x1C, 0x01, 0, 0, 0}), codec.ErrUnsupportedCodec, "HEVC is not handled")
	assert.Error(t, d.Decode([]byte{0x17, 0x00, 0, 0, 0, 0x01}), "truncated configuration record")
}

func TestCompositionTime(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(0), compositionTime([]byte{0, 0, 0}))
	assert.Equal(t, int64(0x7FFFFF), compositionTime([]byte{0x7F, 0xFF, 0xFF}))
	assert.Equal(t, int64(-1), compositionTime([]byte{0xFF, 0xFF, 0xFF}))
}
