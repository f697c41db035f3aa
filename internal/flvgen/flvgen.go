// Package flvgen muxes synthetic H.264/AAC FLV streams for tests and the
// gen command. Pictures are placeholder slices; audio is a fixed silent AAC
// frame. Optional pop-on CEA-608 captions ride in A/53 SEI NAL units.
package flvgen

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/flv"
)

// 320x240 baseline SPS and a matching PPS.
var (
	SPS = []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x05, 0x07, 0xE4}
	PPS = []byte{0x68, 0xCE, 0x3C, 0x80}

	// AudioConfig is AAC-LC, 44100 Hz, stereo.
	AudioConfig = []byte{0x12, 0x10}
)

const (
	Width           = 320
	Height          = 240
	SampleRate      = 44100
	Channels        = 2
	samplesPerFrame = 1024
)

var (
	idrSlice   = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	interSlice = []byte{0x41, 0x9A, 0x10, 0x22}
	silentAAC  = []byte{0x21, 0x00, 0x49, 0x90, 0x02, 0x19, 0x00, 0x23, 0x80}
)

// ErrNoVideo is returned when Duration and FPS yield no video frame.
var ErrNoVideo = errors.New("flvgen: no video frames")

// Cue is a caption shown at At.
type Cue struct {
	At   time.Duration
	Text string
}

// Options shape the generated stream.
type Options struct {
	Duration time.Duration
	FPS      int
	// GOP is the keyframe interval in frames.
	GOP   int
	Audio bool
	Cues  []Cue
}

func (o Options) withDefaults() Options {
	if o.Duration <= 0 {
		o.Duration = 2 * time.Second
	}
	if o.FPS <= 0 {
		o.FPS = 30
	}
	if o.GOP <= 0 {
		o.GOP = o.FPS
	}
	return o
}

// Summary counts what Write produced, excluding sequence headers.
type Summary struct {
	VideoFrames int
	Keyframes   int
	AudioFrames int
	CaptionSEIs int
}

// Write muxes a stream to w.
func Write(w io.Writer, o Options) (Summary, error) {
	o = o.withDefaults()
	var sum Summary

	video, err := h264parser.NewCodecDataFromSPSAndPPS(SPS, PPS)
	if err != nil {
		return sum, fmt.Errorf("video codec data: %w", err)
	}
	streams := []av.CodecData{video}
	if o.Audio {
		audio, err := aacparser.NewCodecDataFromMPEG4AudioConfigBytes(AudioConfig)
		if err != nil {
			return sum, fmt.Errorf("audio codec data: %w", err)
		}
		streams = append(streams, audio)
	}

	frames := int(o.Duration * time.Duration(o.FPS) / time.Second)
	if frames == 0 {
		return sum, ErrNoVideo
	}
	cc := schedule(o.Cues, o.FPS, frames)

	var pkts []av.Packet
	for i := range frames {
		key := i%o.GOP == 0
		var nalus [][]byte
		if cc[i] != nil {
			nalus = append(nalus, captionSEI(cc[i]))
			sum.CaptionSEIs++
		}
		if key {
			nalus = append(nalus, idrSlice)
			sum.Keyframes++
		} else {
			nalus = append(nalus, interSlice)
		}
		pkts = append(pkts, av.Packet{
			Idx:        0,
			IsKeyFrame: key,
			Time:       time.Duration(i) * time.Second / time.Duration(o.FPS),
			Data:       avcc(nalus),
		})
		sum.VideoFrames++
	}
	if o.Audio {
		for i := 0; ; i++ {
			t := time.Duration(i*samplesPerFrame) * time.Second / SampleRate
			if t >= o.Duration {
				break
			}
			pkts = append(pkts, av.Packet{Idx: 1, Time: t, Data: silentAAC})
			sum.AudioFrames++
		}
	}
	slices.SortStableFunc(pkts, func(a, b av.Packet) int {
		return int(a.Time - b.Time)
	})

	mux := flv.NewMuxer(w)
	if err := mux.WriteHeader(streams); err != nil {
		return sum, fmt.Errorf("write header: %w", err)
	}
	for _, p := range pkts {
		if err := mux.WritePacket(p); err != nil {
			return sum, fmt.Errorf("write packet: %w", err)
		}
	}
	if err := mux.WriteTrailer(); err != nil {
		return sum, fmt.Errorf("write trailer: %w", err)
	}
	return sum, nil
}

func avcc(nalus [][]byte) []byte {
	var b []byte
	for _, n := range nalus {
		b = binary.BigEndian.AppendUint32(b, uint32(len(n)))
		b = append(b, n...)
	}
	return b
}
