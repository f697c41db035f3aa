// Package host defines the asynchronous message contract between the
// playback worker and the host that owns the presentation surface and the
// audio device. Nothing is shared between the two sides except messages.
package host

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind discriminates worker-to-host messages.
type Kind string

// Message kinds.
const (
	KindDecoderReady    Kind = "decoderReady"
	KindAudioConfigured Kind = "audioConfigured"
	KindVideoConfigured Kind = "videoConfigured"
	KindAudioFrame      Kind = "audioFrame"
	KindVideoFrame      Kind = "videoFrame"
	KindPropertyValue   Kind = "propertyValue"
	KindCaption         Kind = "caption"
	KindError           Kind = "error"
	KindEnded           Kind = "ended"
)

// Image is a rendered picture produced by the external renderer.
type Image struct {
	Width  int    `msgpack:"width" json:"width"`
	Height int    `msgpack:"height" json:"height"`
	Format string `msgpack:"format" json:"format"`
	Data   []byte `msgpack:"data" json:"data"`
}

// Message is one worker-to-host message. Only the fields relevant to Kind
// are set. Buffers and Planes are transferred: after Send the worker no
// longer touches them until they are recycled.
//
// On the wire a message carries its kind plus every field that kind
// defines, zero values included; see wire. The struct tags name the keys
// and are used when decoding.
type Message struct {
	Kind Kind `msgpack:"kind" json:"kind"`

	SampleRate int `msgpack:"sampleRate" json:"sampleRate"`
	Channels   int `msgpack:"channels" json:"channels"`
	Width      int `msgpack:"width" json:"width"`
	Height     int `msgpack:"height" json:"height"`

	Buffers [][]float32 `msgpack:"buffers" json:"buffers"`

	PTS     int64    `msgpack:"pts" json:"pts"`
	Bitrate float64  `msgpack:"bitrate" json:"bitrate"`
	Delay   int64    `msgpack:"delay" json:"delay"`
	Image   *Image   `msgpack:"image" json:"image"`
	Planes  [][]byte `msgpack:"planes" json:"planes"`

	Property string `msgpack:"property" json:"property"`
	Value    any    `msgpack:"value" json:"value"`

	Channel int    `msgpack:"channel" json:"channel"`
	Text    string `msgpack:"text" json:"text"`

	Error   string `msgpack:"error" json:"error"`
	Session string `msgpack:"session" json:"session"`
}

var (
	_ msgpack.CustomEncoder = Message{}
	_ json.Marshaler        = Message{}
)

// EncodeMsgpack writes the wire form of m.
func (m Message) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(m.wire())
}

// MarshalJSON writes the wire form of m.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.wire())
}

// wire maps m to the keys its kind defines. A video frame carries exactly
// one of image or planes; a session id appears only when set.
func (m Message) wire() map[string]any {
	w := map[string]any{"kind": string(m.Kind)}
	switch m.Kind {
	case KindAudioConfigured:
		w["channels"] = m.Channels
		w["sampleRate"] = m.SampleRate
	case KindVideoConfigured:
		w["width"] = m.Width
		w["height"] = m.Height
	case KindAudioFrame:
		w["buffers"] = m.Buffers
	case KindVideoFrame:
		w["pts"] = m.PTS
		w["bitrate"] = m.Bitrate
		w["delay"] = m.Delay
		if m.Image != nil {
			w["image"] = m.Image
		}
		if m.Planes != nil {
			w["planes"] = m.Planes
		}
	case KindPropertyValue:
		w["property"] = m.Property
		w["value"] = m.Value
	case KindCaption:
		w["pts"] = m.PTS
		w["channel"] = m.Channel
		w["text"] = m.Text
	case KindError:
		w["error"] = m.Error
	}
	if m.Session != "" {
		w["session"] = m.Session
	}
	return w
}

// DecoderReady announces that the worker accepts commands.
func DecoderReady() Message {
	return Message{Kind: KindDecoderReady}
}

// AudioConfigured announces the decoded audio format.
func AudioConfigured(channels, sampleRate int) Message {
	return Message{Kind: KindAudioConfigured, Channels: channels, SampleRate: sampleRate}
}

// VideoConfigured announces the decoded picture size.
func VideoConfigured(width, height int) Message {
	return Message{Kind: KindVideoConfigured, Width: width, Height: height}
}

// AudioFrame carries one planar buffer per channel.
func AudioFrame(buffers [][]float32) Message {
	return Message{Kind: KindAudioFrame, Buffers: buffers}
}

// VideoFrame carries a rendered image or raw I420 planes plus the current
// bitrate estimate (bits/s) and scheduler delay (ms).
func VideoFrame(pts int64, bitrate float64, delay int64, img *Image, planes [][]byte) Message {
	return Message{Kind: KindVideoFrame, PTS: pts, Bitrate: bitrate, Delay: delay, Image: img, Planes: planes}
}

// PropertyValue answers a getProperty command.
func PropertyValue(name string, value any) Message {
	return Message{Kind: KindPropertyValue, Property: name, Value: value}
}

// Caption carries decoded closed-caption text for a channel.
func Caption(pts int64, channel int, text string) Message {
	return Message{Kind: KindCaption, PTS: pts, Channel: channel, Text: text}
}

// Error reports a failure. session is empty for failures outside a session.
func Error(session string, err error) Message {
	return Message{Kind: KindError, Session: session, Error: err.Error()}
}

// Ended reports that the byte source finished normally.
func Ended(session string) Message {
	return Message{Kind: KindEnded, Session: session}
}
