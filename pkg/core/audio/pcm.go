package audio

import (
	"math"
)

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		// Little-endian 16-bit signed integer
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Normalize to -1.0 to 1.0
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// Silence returns durationMs of zeroed PCM in the given format,
// rounded up to a whole frame unit.
func Silence(cfg Config, durationMs int) []byte {
	n := cfg.BytesForDurationMs(durationMs)
	n = PadToUnit(n, cfg.FrameUnit())
	return make([]byte, n)
}

// PadToUnit rounds n up to the next multiple of unit.
func PadToUnit(n, unit int) int {
	if unit <= 0 {
		return n
	}
	if rem := n % unit; rem != 0 {
		return n + unit - rem
	}
	return n
}

// Aligned reports whether n is a positive multiple of unit.
func Aligned(n, unit int) bool {
	return n > 0 && unit > 0 && n%unit == 0
}

// AlignPCM pads pcm with trailing silence so its length is a multiple of unit.
// The input slice is returned unchanged when already aligned.
func AlignPCM(pcm []byte, unit int) []byte {
	if unit <= 0 || len(pcm)%unit == 0 {
		return pcm
	}
	padded := make([]byte, PadToUnit(len(pcm), unit))
	copy(padded, pcm)
	return padded
}

// Resample converts 16-bit mono PCM between sample rates by linear
// interpolation. Collaborators may synthesize at a higher rate than the
// 8kHz telephony leg; everything sent to the wire goes through here first.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(pcm) < 2 {
		return pcm
	}

	inSamples := len(pcm) / 2
	outSamples := int(int64(inSamples) * int64(toRate) / int64(fromRate))
	if outSamples == 0 {
		return nil
	}

	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		// Position in the input sample stream.
		pos := float64(i) * float64(fromRate) / float64(toRate)
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8
		s1 := s0
		if idx+1 < inSamples {
			s1 = int16(pcm[(idx+1)*2]) | int16(pcm[(idx+1)*2+1])<<8
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// SplitChunks cuts pcm into unit-aligned chunks of at most maxBytes each.
// maxBytes is rounded down to unit alignment; the final chunk carries the
// remainder and may be shorter than maxBytes but is always unit-aligned
// when the input is.
func SplitChunks(pcm []byte, unit, maxBytes int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	if unit > 0 {
		maxBytes -= maxBytes % unit
	}
	if maxBytes <= 0 {
		maxBytes = unit
	}

	var chunks [][]byte
	for off := 0; off < len(pcm); off += maxBytes {
		end := off + maxBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, pcm[off:end])
	}
	return chunks
}
