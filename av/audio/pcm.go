package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/opd-ai/aes67/stream"
)

const (
	// MaxL24 is the largest 24-bit sample value.
	MaxL24 = 1<<23 - 1
	// MinL24 is the smallest 24-bit sample value.
	MinL24 = -1 << 23
)

// ErrTruncatedPCM indicates a byte slice that does not hold whole samples.
var ErrTruncatedPCM = errors.New("PCM data is not a whole number of samples")

// PackL16 encodes samples as big-endian 16-bit PCM.
func PackL16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.BigEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// UnpackL16 decodes big-endian 16-bit PCM.
func UnpackL16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes of L16", ErrTruncatedPCM, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// PackL24 encodes samples as big-endian 24-bit PCM. Values outside the
// 24-bit range are clipped.
func PackL24(samples []int32) []byte {
	out := make([]byte, len(samples)*3)
	for i, s := range samples {
		if s > MaxL24 {
			s = MaxL24
		} else if s < MinL24 {
			s = MinL24
		}
		out[i*3] = byte(s >> 16)
		out[i*3+1] = byte(s >> 8)
		out[i*3+2] = byte(s)
	}
	return out
}

// UnpackL24 decodes big-endian 24-bit PCM, sign-extending each sample.
func UnpackL24(data []byte) ([]int32, error) {
	if len(data)%3 != 0 {
		return nil, fmt.Errorf("%w: %d bytes of L24", ErrTruncatedPCM, len(data))
	}
	out := make([]int32, len(data)/3)
	for i := range out {
		b := data[i*3:]
		v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
		out[i] = v << 8 >> 8
	}
	return out, nil
}

// PackFloat encodes samples in [-1, 1] using enc. Out of range values are
// clipped.
func PackFloat(enc stream.Encoding, samples []float64) []byte {
	switch enc {
	case stream.EncodingL16:
		ints := make([]int16, len(samples))
		for i, s := range samples {
			ints[i] = int16(math.Round(clamp(s) * math.MaxInt16))
		}
		return PackL16(ints)
	default:
		ints := make([]int32, len(samples))
		for i, s := range samples {
			ints[i] = int32(math.Round(clamp(s) * MaxL24))
		}
		return PackL24(ints)
	}
}

// UnpackFloat decodes PCM in enc to samples in [-1, 1].
func UnpackFloat(enc stream.Encoding, data []byte) ([]float64, error) {
	switch enc {
	case stream.EncodingL16:
		ints, err := UnpackL16(data)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(ints))
		for i, v := range ints {
			out[i] = float64(v) / math.MaxInt16
		}
		return out, nil
	default:
		ints, err := UnpackL24(data)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(ints))
		for i, v := range ints {
			out[i] = float64(v) / MaxL24
		}
		return out, nil
	}
}

func clamp(s float64) float64 {
	return math.Max(-1, math.Min(1, s))
}
