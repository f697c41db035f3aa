// Package media defines the frame types that flow through the flvplay
// pipeline, from demultiplexing through scheduling to the decoders.
package media

// Target identifies which decoder a frame is handed to.
type Target uint8

// Decoder targets.
const (
	AudioDecoder Target = iota
	VideoDecoder
)

func (t Target) String() string {
	switch t {
	case AudioDecoder:
		return "audio"
	case VideoDecoder:
		return "video"
	default:
		return "unknown"
	}
}

// Video frame subtypes carried in the high nibble of the first payload byte.
const (
	SubtypeKeyframe   uint8 = 1
	SubtypeInterframe uint8 = 2
)

// Codec identifiers and packet types from the low nibble / second byte of
// FLV video and audio payloads.
const (
	VideoCodecAVC = 7
	AudioCodecAAC = 10

	AVCSequenceHeader = 0
	AVCNALU           = 1
	AACSequenceHeader = 0
	AACRaw            = 1
)

// Frame is one demultiplexed access unit waiting to be decoded. Timestamp is
// in milliseconds on the source timeline. For video, Subtype is the high
// nibble of Payload[0]; audio frames always carry subtype 0.
type Frame struct {
	Timestamp uint32
	Payload   []byte
	Target    Target
	Subtype   uint8
}

// NewAudioFrame builds an audio frame.
func NewAudioFrame(ts uint32, payload []byte) *Frame {
	return &Frame{Timestamp: ts, Payload: payload, Target: AudioDecoder}
}

// NewVideoFrame builds a video frame, deriving the subtype from the payload.
func NewVideoFrame(ts uint32, payload []byte) *Frame {
	f := &Frame{Timestamp: ts, Payload: payload, Target: VideoDecoder}
	if len(payload) > 0 {
		f.Subtype = payload[0] >> 4
	}
	return f
}

// IsVideo reports whether the frame targets the video decoder.
func (f *Frame) IsVideo() bool {
	return f.Target == VideoDecoder
}

// IsKeyframe reports whether the frame is a video keyframe, i.e. a safe
// point to resume decoding after a drop.
func (f *Frame) IsKeyframe() bool {
	return f.Target == VideoDecoder && f.Subtype == SubtypeKeyframe
}
