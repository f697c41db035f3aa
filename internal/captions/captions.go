// Package captions extracts CEA-608 and CEA-708 closed captions carried in
// H.264 SEI messages of AVC video tags.
package captions

import (
	"log/slog"

	"github.com/nareix/joy4/codec/h264parser"
	"github.com/zsiec/ccx"

	"github.com/zsiec/flvplay/internal/media"
)

const naluTypeSEI = 6

// avcPayloadOffset skips the frame/codec byte, the packet type and the
// 24-bit composition time of an AVC video tag.
const avcPayloadOffset = 5

// Extractor decodes captions from video frames in arrival order. It keeps
// CEA-608 decoder state per channel and CEA-708 state per service, so one
// Extractor must see every video frame of a stream. Extractor is not safe
// for concurrent use.
type Extractor struct {
	log *slog.Logger

	cea608 map[int]*ccx.CEA608Decoder
	cea708 map[int]*ccx.CEA708Service

	dtvccBuf []byte
	frames   int64

	lastCtrl      [2][2]byte
	lastWasCtrl   [2]bool
	lastCtrlFrame [2]int64
}

// NewExtractor creates an Extractor. If log is nil, slog.Default() is used.
func NewExtractor(log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	e := &Extractor{
		log:    log.With("component", "captions"),
		cea608: make(map[int]*ccx.CEA608Decoder, 4),
		cea708: make(map[int]*ccx.CEA708Service, 6),
	}
	for ch := 1; ch <= 4; ch++ {
		e.cea608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		e.cea708[svc] = ccx.NewCEA708Service()
	}
	return e
}

// Extract returns the caption updates carried by f. Frames that are not
// AVC NALU packets yield nothing. PTS is the tag timestamp plus the
// composition offset, in milliseconds.
func (e *Extractor) Extract(f *media.Frame) []*ccx.CaptionFrame {
	p := f.Payload
	if !f.IsVideo() || len(p) <= avcPayloadOffset ||
		p[0]&0x0F != media.VideoCodecAVC || p[1] != media.AVCNALU {
		return nil
	}
	e.frames++

	cts := int64(int32(uint32(p[2])<<24|uint32(p[3])<<16|uint32(p[4])<<8) >> 8)
	pts := int64(f.Timestamp) + cts

	nalus, _ := h264parser.SplitNALUs(p[avcPayloadOffset:])
	var out []*ccx.CaptionFrame
	for _, nalu := range nalus {
		if len(nalu) == 0 || nalu[0]&0x1F != naluTypeSEI {
			continue
		}
		out = e.handleSEI(nalu, pts, out)
	}
	return out
}

func (e *Extractor) handleSEI(sei []byte, pts int64, out []*ccx.CaptionFrame) []*ccx.CaptionFrame {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return out
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		fld := pair.Field
		if fld < 0 || fld > 1 {
			continue
		}

		// Control codes are transmitted twice; act on the first copy only.
		if cc1 >= 0x10 && cc1 <= 0x1F {
			cp := [2]byte{cc1, cc2}
			if e.lastWasCtrl[fld] && e.lastCtrl[fld] == cp && e.frames-e.lastCtrlFrame[fld] <= 2 {
				e.lastWasCtrl[fld] = false
				continue
			}
			e.lastCtrl[fld] = cp
			e.lastWasCtrl[fld] = true
			e.lastCtrlFrame[fld] = e.frames
		} else {
			e.lastWasCtrl[fld] = false
		}

		dec := e.cea608[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			out = append(out, &ccx.CaptionFrame{
				PTS:     pts,
				Text:    text,
				Channel: pair.Channel,
				Regions: dec.StyledRegions(),
			})
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			out = e.drainDTVCC(pts, out)
			e.dtvccBuf = e.dtvccBuf[:0]
		}
		e.dtvccBuf = append(e.dtvccBuf, t.Data[0], t.Data[1])
	}
	return out
}

func (e *Extractor) drainDTVCC(pts int64, out []*ccx.CaptionFrame) []*ccx.CaptionFrame {
	if len(e.dtvccBuf) < 1 {
		return out
	}
	size := ccx.DTVCCPacketSize(e.dtvccBuf[0])
	if len(e.dtvccBuf) < size {
		return out
	}

	for _, block := range ccx.ParseDTVCCPacket(e.dtvccBuf[:size]) {
		svc := e.cea708[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			out = append(out, &ccx.CaptionFrame{
				PTS:     pts,
				Text:    text,
				Channel: block.ServiceNum + 6,
				Regions: svc.StyledRegions(),
			})
		}
	}
	e.dtvccBuf = e.dtvccBuf[size:]
	return out
}

// Reset clears all decoder state, for use when a new stream starts.
func (e *Extractor) Reset() {
	for ch := range e.cea608 {
		e.cea608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := range e.cea708 {
		e.cea708[svc] = ccx.NewCEA708Service()
	}
	e.dtvccBuf = e.dtvccBuf[:0]
	e.frames = 0
	e.lastWasCtrl = [2]bool{}
}
