package audio

import (
	"math"
	"testing"

	"github.com/opd-ai/aes67/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackL16(t *testing.T) {
	data := PackL16([]int16{0x0102, -1, math.MinInt16})
	assert.Equal(t, []byte{0x01, 0x02, 0xFF, 0xFF, 0x80, 0x00}, data)

	samples, err := UnpackL16(data)
	require.NoError(t, err)
	assert.Equal(t, []int16{0x0102, -1, math.MinInt16}, samples)
}

func TestPackL24(t *testing.T) {
	tests := []struct {
		name   string
		sample int32
		bytes  []byte
	}{
		{"positive", 0x010203, []byte{0x01, 0x02, 0x03}},
		{"minus one", -1, []byte{0xFF, 0xFF, 0xFF}},
		{"max", MaxL24, []byte{0x7F, 0xFF, 0xFF}},
		{"min", MinL24, []byte{0x80, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := PackL24([]int32{tt.sample})
			assert.Equal(t, tt.bytes, data)

			samples, err := UnpackL24(data)
			require.NoError(t, err)
			assert.Equal(t, []int32{tt.sample}, samples)
		})
	}
}

func TestPackL24Clips(t *testing.T) {
	assert.Equal(t, []byte{0x7F, 0xFF, 0xFF, 0x80, 0x00, 0x00}, PackL24([]int32{1 << 24, -(1 << 24)}))
}

func TestUnpackTruncated(t *testing.T) {
	_, err := UnpackL16([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncatedPCM)

	_, err = UnpackL24([]byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrTruncatedPCM)
}

func TestPackFloat(t *testing.T) {
	for _, enc := range []stream.Encoding{stream.EncodingL16, stream.EncodingL24} {
		t.Run(string(enc), func(t *testing.T) {
			in := []float64{0, 0.5, -0.5, 1, -1, 2}
			data := PackFloat(enc, in)
			assert.Len(t, data, len(in)*enc.BytesPerSample())

			out, err := UnpackFloat(enc, data)
			require.NoError(t, err)
			want := []float64{0, 0.5, -0.5, 1, -1, 1}
			for i := range want {
				assert.InDelta(t, want[i], out[i], 1e-4)
			}
		})
	}
}
