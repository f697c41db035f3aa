package flvgen

import "time"

type ccPair struct{ cc1, cc2 byte }

// Pop-on control codes for CC1. Each is sent twice, as broadcasters do.
var (
	resumeCaptionLoading = ccPair{0x14, 0x20}
	erasePopped          = ccPair{0x14, 0x2E}
	endOfCaption         = ccPair{0x14, 0x2F}
	pacRow15             = ccPair{0x14, 0x70}
)

// schedule lays each cue out one pair per video frame starting at the cue's
// frame. Frames without caption data get nil.
func schedule(cues []Cue, fps, frames int) []*ccPair {
	out := make([]*ccPair, frames)
	for _, c := range cues {
		pairs := []ccPair{
			resumeCaptionLoading, resumeCaptionLoading,
			erasePopped, erasePopped,
			pacRow15, pacRow15,
		}
		text := printable(c.Text)
		for i := 0; i < len(text); i += 2 {
			p := ccPair{text[i], 0x80}
			if i+1 < len(text) {
				p.cc2 = text[i+1]
			}
			pairs = append(pairs, p)
		}
		pairs = append(pairs, endOfCaption, endOfCaption)

		start := int(c.At * time.Duration(fps) / time.Second)
		for i, p := range pairs {
			f := start + i
			if f < 0 || f >= frames {
				continue
			}
			out[f] = &p
		}
	}
	return out
}

// printable keeps one 32-column row of basic CEA-608 characters.
func printable(s string) []byte {
	var out []byte
	for _, r := range s {
		if len(out) == 32 {
			break
		}
		if r >= 0x20 && r <= 0x7E {
			out = append(out, byte(r))
		} else {
			out = append(out, '?')
		}
	}
	return out
}

// captionSEI wraps one field-1 pair in an A/53 user_data_registered SEI.
func captionSEI(p *ccPair) []byte {
	a53 := []byte{
		0xB5, 0x00, 0x31, 'G', 'A', '9', '4', 0x03,
		0x40 | 1, 0xFF,
		0xFC, parity(p.cc1), parity(p.cc2),
		0xFF,
	}
	sei := []byte{0x06, 0x04, byte(len(a53))}
	sei = append(sei, a53...)
	return append(sei, 0x80)
}

// parity sets the high bit for odd parity.
func parity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}
