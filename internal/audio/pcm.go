package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// DefaultCaptureRate is the microphone sample rate agreed with the backend.
// There is no format negotiation on the wire; both ends assume little-endian
// PCM16 mono at this rate for captured audio.
const DefaultCaptureRate = 16000

// FloatToPCM16LE converts float32 samples to little-endian PCM16 bytes.
// Samples are clamped to [-1, 1] and scaled by 32767 for positive values and
// 32768 for negative values, matching the backend's numpy framing.
func FloatToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		var v int16
		switch {
		case s >= 1:
			v = math.MaxInt16
		case s <= -1:
			v = math.MinInt16
		case s >= 0:
			v = int16(s * 32767)
		default:
			v = int16(s * 32768)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16LEToFloat converts little-endian PCM16 bytes back to float32 samples
// in [-1, 1). A trailing odd byte is ignored.
func PCM16LEToFloat(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// DecodeSegment decodes a base64 payload as received in an audio message
// into raw PCM16LE bytes.
func DecodeSegment(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

// EncodeSegment is the inverse of DecodeSegment.
func EncodeSegment(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}
