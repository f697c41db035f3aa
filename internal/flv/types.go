package flv

import (
	"errors"
	"fmt"
)

// Wire sizes of the tagged container.
const (
	HeaderSize      = 9
	PrevTagSizeLen  = 4
	TagHeaderSize   = 11
	tagBlockSize    = PrevTagSizeLen + TagHeaderSize
	timestampSentry = 0xFFFFFF
)

// Tag types.
const (
	TagTypeAudio  uint8 = 8
	TagTypeVideo  uint8 = 9
	TagTypeScript uint8 = 18
)

// Sentinel errors for demultiplexing. These enable callers to
// programmatically distinguish conditions using errors.Is.
var (
	ErrNeedMore      = errors.New("flv: need more data")
	ErrShortHeader   = errors.New("flv: short tag header")
	ErrShortRecord   = errors.New("flv: short record")
	ErrUnknownRecord = errors.New("flv: unknown record type")
)

// TagHeader is the decoded fixed-size header preceding every tag payload.
type TagHeader struct {
	Type          uint8
	PayloadLength uint32
	Timestamp     uint32
	StreamID      uint32
}

// ParseTagHeader decodes an 11-byte tag header. Length and timestamp are
// rebuilt big-endian from the individual bytes. The extension byte becomes
// the top byte of the timestamp only when the 24-bit base saturates at
// 0xFFFFFF; otherwise it is ignored.
func ParseTagHeader(b []byte) (TagHeader, error) {
	if len(b) < TagHeaderSize {
		return TagHeader{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	h := TagHeader{
		Type:          b[0],
		PayloadLength: uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]),
		Timestamp:     uint32(b[4])<<16 | uint32(b[5])<<8 | uint32(b[6]),
		StreamID:      uint32(b[8])<<16 | uint32(b[9])<<8 | uint32(b[10]),
	}
	if h.Timestamp == timestampSentry {
		h.Timestamp |= uint32(b[7]) << 24
	}
	return h, nil
}

// Stats counts demultiplexer activity.
type Stats struct {
	Tags        int64
	SkippedTags int64
	Bytes       int64
}
