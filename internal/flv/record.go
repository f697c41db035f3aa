package flv

import (
	"encoding/binary"
	"fmt"

	"github.com/zsiec/flvplay/internal/media"
)

// Record types of the simple wire format.
const (
	RecordAudio uint8 = 1
	RecordVideo uint8 = 2

	recordHeaderSize = 5
)

// ParseRecord decodes one simple-mode unit: a 1-byte type, a 4-byte
// big-endian millisecond timestamp, and the remaining bytes as payload. The
// payload aliases unit.
func ParseRecord(unit []byte) (*media.Frame, error) {
	if len(unit) < recordHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(unit))
	}
	ts := binary.BigEndian.Uint32(unit[1:5])
	payload := unit[recordHeaderSize:]

	switch unit[0] {
	case RecordAudio:
		return media.NewAudioFrame(ts, payload), nil
	case RecordVideo:
		if len(payload) == 0 {
			return nil, fmt.Errorf("%w: empty video payload", ErrShortRecord)
		}
		return media.NewVideoFrame(ts, payload), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRecord, unit[0])
	}
}

// AppendRecord appends f encoded as a simple-mode unit to dst.
func AppendRecord(dst []byte, f *media.Frame) []byte {
	typ := RecordAudio
	if f.IsVideo() {
		typ = RecordVideo
	}
	dst = append(dst, typ)
	dst = binary.BigEndian.AppendUint32(dst, f.Timestamp)
	return append(dst, f.Payload...)
}
