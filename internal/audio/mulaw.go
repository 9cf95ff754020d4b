// Package audio implements the outbound media pipeline: 24 kHz PCM from the
// synthesizer is decimated to 8 kHz, companded to G.711 mu-law, and streamed
// to the carrier in paced 20 ms frames with barge-in support.
package audio

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// EncodeMuLaw compands one 16-bit linear sample to an 8-bit mu-law sample
// using the standard bias-and-clip algorithm. The output is bit-inverted per
// G.711, so silence encodes to 0xFF.
func EncodeMuLaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMuLaw expands one mu-law sample back to 16-bit linear. Only needed
// when outbound audio must be re-synthesized; inbound audio is forwarded to
// the recognizer untouched.
func DecodeMuLaw(b byte) int16 {
	b = ^b
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	t := (int32(mantissa)<<3 + muLawBias) << exponent
	v := t - muLawBias
	if b&0x80 != 0 {
		v = -v
	}
	return int16(v)
}

// EncodeMuLawBuf compands a buffer of linear samples.
func EncodeMuLawBuf(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeMuLaw(s)
	}
	return out
}
