package audio

import "encoding/binary"

// Resample converts mono float32 samples from srcRate to dstRate using linear
// interpolation. The input is returned unchanged when the rates already match
// or are invalid. The contract is duration preservation — output length is
// len(samples)×dstRate/srcRate up to rounding — not bit-exact waveform
// reproduction.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// Clamp bounds a sample to the valid [-1, 1] range. Kept as a named primitive
// so the bounds check is testable on its own rather than inlined arithmetic.
func Clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// EncodePCM16 quantizes float32 samples to 16-bit signed little-endian PCM.
// Each sample is clamped to [-1, 1] before scaling. A zero-length input
// yields nil output — a no-op, not an error.
func EncodePCM16(samples []float32) []byte {
	if len(samples) == 0 {
		return nil
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := Clamp(s)
		var q int16
		if v < 0 {
			q = int16(v * 32768)
		} else {
			q = int16(v * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(q))
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM back to float32
// samples in [-1, 1]. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := range n {
		q := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(q) / 32768
	}
	return out
}
