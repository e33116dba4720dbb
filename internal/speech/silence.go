package speech

import (
	"encoding/binary"
	"math"
)

// DefaultSilenceThreshold is the normalized RMS below which PCM audio is
// considered silent.
const DefaultSilenceThreshold = 0.01

// IsSilent interprets pcm as signed 16-bit little-endian samples and compares
// normalized RMS against threshold. A trailing odd byte is ignored; empty
// input is silent. Non-PCM input produces an arbitrary but safe answer, and
// callers treat false as "proceed".
func IsSilent(pcm []byte, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	n := len(pcm) / 2
	if n == 0 {
		return true
	}

	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		f := float64(sample)
		sumSquares += f * f
	}
	rms := math.Sqrt(sumSquares/float64(n)) / 32767.0
	return rms < threshold
}
