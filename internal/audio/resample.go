package audio

// DownsampleTo8k decimates PCM sampled at three times the target rate
// (24 kHz in practice) down to 8 kHz by averaging each group of 3 consecutive
// samples. The averaging acts as a crude anti-alias low-pass; naive
// point-sampling audibly aliases on synthesized speech. A trailing partial
// group is averaged over however many samples it has.
func DownsampleTo8k(samples []int16) []int16 {
	if len(samples) == 0 {
		return nil
	}

	out := make([]int16, 0, (len(samples)+2)/3)
	for i := 0; i+3 <= len(samples); i += 3 {
		sum := int32(samples[i]) + int32(samples[i+1]) + int32(samples[i+2])
		out = append(out, int16(sum/3))
	}

	if rem := len(samples) % 3; rem != 0 {
		var sum int32
		for _, s := range samples[len(samples)-rem:] {
			sum += int32(s)
		}
		out = append(out, int16(sum/int32(rem)))
	}
	return out
}

// DecodePCM16LE interprets little-endian 16-bit PCM bytes as samples. An odd
// trailing byte is ignored.
func DecodePCM16LE(b []byte) []int16 {
	n := len(b) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return samples
}
