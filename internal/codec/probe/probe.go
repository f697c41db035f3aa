// Package probe provides a reference codec.Factory for headless playback.
//
// Probe decoders parse the codec configuration records carried in sequence
// header tags to announce the real stream format, then emit silent audio and
// blank pictures of the right shape for every coded frame. They let the
// pipeline, scheduler and relay run end to end without a native codec.
package probe

import (
	"fmt"
	"log/slog"

	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/codec/h264parser"

	"github.com/zsiec/flvplay/internal/codec"
	"github.com/zsiec/flvplay/internal/media"
)

// SamplesPerFrame is the number of samples per channel in one AAC frame.
const SamplesPerFrame = 1024

// Blank picture levels (limited-range black).
const (
	blankLuma   = 16
	blankChroma = 128
)

// Factory creates probe decoders. If Log is nil, slog.Default() is used.
type Factory struct {
	Log *slog.Logger
}

var _ codec.Factory = Factory{}

func (f Factory) logger() *slog.Logger {
	if f.Log == nil {
		return slog.Default()
	}
	return f.Log
}

// NewAudio returns an AAC probe decoder reporting to sink.
func (f Factory) NewAudio(sink codec.AudioSink) codec.Decoder {
	return &audioDecoder{sink: sink, log: f.logger().With("component", "probe-audio")}
}

// NewVideo returns an AVC probe decoder reporting to sink.
func (f Factory) NewVideo(sink codec.VideoSink) codec.Decoder {
	return &videoDecoder{sink: sink, log: f.logger().With("component", "probe-video")}
}

type audioDecoder struct {
	sink   codec.AudioSink
	log    *slog.Logger
	planes [][]float32
}

func (d *audioDecoder) Decode(p []byte) error {
	if len(p) < 2 {
		return fmt.Errorf("%w: audio tag of %d bytes", codec.ErrShortPayload, len(p))
	}
	if id := p[0] >> 4; id != media.AudioCodecAAC {
		return fmt.Errorf("%w: audio codec id %d", codec.ErrUnsupportedCodec, id)
	}

	switch p[1] {
	case media.AACSequenceHeader:
		cd, err := aacparser.NewCodecDataFromMPEG4AudioConfigBytes(p[2:])
		if err != nil {
			return fmt.Errorf("probe: parse AudioSpecificConfig: %w", err)
		}
		channels := cd.ChannelLayout().Count()
		d.planes = make([][]float32, channels)
		for i := range d.planes {
			d.planes[i] = make([]float32, SamplesPerFrame)
		}
		d.log.Debug("audio configured", "channels", channels, "sample_rate", cd.SampleRate())
		d.sink.ConfigureAudio(channels, cd.SampleRate())

	case media.AACRaw:
		if d.planes == nil {
			return codec.ErrNotConfigured
		}
		for _, pl := range d.planes {
			clear(pl)
		}
		d.sink.AudioReady(d.planes)
	}
	return nil
}

func (d *audioDecoder) Reset() {
	d.planes = nil
}

type videoDecoder struct {
	sink    codec.VideoSink
	log     *slog.Logger
	y, u, v []byte
}

func (d *videoDecoder) Decode(p []byte) error {
	if len(p) < 5 {
		return fmt.Errorf("%w: video tag of %d bytes", codec.ErrShortPayload, len(p))
	}
	if id := p[0] & 0x0F; id != media.VideoCodecAVC {
		return fmt.Errorf("%w: video codec id %d", codec.ErrUnsupportedCodec, id)
	}

	switch p[1] {
	case media.AVCSequenceHeader:
		cd, err := h264parser.NewCodecDataFromAVCDecoderConfRecord(p[5:])
		if err != nil {
			return fmt.Errorf("probe: parse AVCDecoderConfigurationRecord: %w", err)
		}
		w, h := cd.Width(), cd.Height()
		d.y = make([]byte, w*h)
		d.u = make([]byte, w*h/4)
		d.v = make([]byte, w*h/4)
		fill(d.y, blankLuma)
		fill(d.u, blankChroma)
		fill(d.v, blankChroma)
		d.log.Debug("video configured", "width", w, "height", h)
		d.sink.ConfigureVideo(w, h)

	case media.AVCNALU:
		if d.y == nil {
			return codec.ErrNotConfigured
		}
		d.sink.VideoReady(compositionTime(p[2:5]), d.y, d.u, d.v)
	}
	return nil
}

func (d *videoDecoder) Reset() {
	d.y, d.u, d.v = nil, nil, nil
}

// compositionTime decodes the signed 24-bit composition offset.
func compositionTime(b []byte) int64 {
	return int64(int32(uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8) >> 8)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
