package rtp

import (
	"bytes"
	"sync"
	"testing"

	"github.com/opd-ai/aes67/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stereoL24 = stream.Format{SampleRate: 48000, Channels: 2, Encoding: stream.EncodingL24, PTimeMs: 1}

func TestAudioBufferCapacity(t *testing.T) {
	ab := NewAudioBuffer(stereoL24)
	assert.Equal(t, 28800, ab.MaxBufferedBytes())
}

func TestAudioBufferBoundedReads(t *testing.T) {
	ab := NewAudioBuffer(stereoL24)

	// 50 ms in 1 ms packets.
	for i := 0; i < 50; i++ {
		ab.Append(bytes.Repeat([]byte{byte(i)}, 288))
	}
	assert.Equal(t, 14400, ab.BufferedBytes())

	out, ok := ab.Read(stereoL24.BytesForDuration(30))
	require.True(t, ok)
	assert.Len(t, out, 8640)
	assert.Equal(t, byte(0), out[0])
	assert.Equal(t, byte(29), out[len(out)-1])
	assert.Equal(t, 5760, ab.BufferedBytes())

	_, ok = ab.Read(stereoL24.BytesForDuration(30))
	assert.False(t, ok, "short buffer must not produce a partial read")
	assert.Equal(t, 5760, ab.BufferedBytes())
}

func TestAudioBufferReadSpansChunks(t *testing.T) {
	ab := NewAudioBufferWithCapacity(1024)
	ab.Append([]byte{1, 2, 3})
	ab.Append([]byte{4, 5})
	ab.Append([]byte{6, 7, 8, 9})

	out, ok := ab.Read(4)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)

	out, ok = ab.Read(3)
	require.True(t, ok)
	assert.Equal(t, []byte{5, 6, 7}, out)

	out, ok = ab.Read(2)
	require.True(t, ok)
	assert.Equal(t, []byte{8, 9}, out)
	assert.Zero(t, ab.BufferedBytes())
}

func TestAudioBufferOverflowTrimsOldest(t *testing.T) {
	ab := NewAudioBuffer(stereoL24)

	for i := 0; i < 101; i++ {
		ab.Append(bytes.Repeat([]byte{byte(i)}, 288))
	}

	assert.LessOrEqual(t, ab.BufferedBytes(), ab.MaxBufferedBytes()*8/10)
	assert.Equal(t, 23040, ab.BufferedBytes())
	assert.Equal(t, uint64(101*288-23040), ab.DroppedBytes())

	// The newest audio survives.
	out, ok := ab.Read(ab.BufferedBytes())
	require.True(t, ok)
	assert.Equal(t, byte(21), out[0])
	assert.Equal(t, byte(100), out[len(out)-1])
}

func TestAudioBufferCopiesInput(t *testing.T) {
	ab := NewAudioBufferWithCapacity(16)
	in := []byte{1, 2}
	ab.Append(in)
	in[0] = 9

	out, ok := ab.Read(2)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, out)
}

func TestAudioBufferClear(t *testing.T) {
	ab := NewAudioBufferWithCapacity(16)
	ab.Append([]byte{1, 2, 3})
	_, _ = ab.Read(1)
	ab.Clear()

	assert.Zero(t, ab.BufferedBytes())
	_, ok := ab.Read(1)
	assert.False(t, ok)

	_, ok = ab.Read(0)
	assert.False(t, ok)
}

func TestAudioBufferConcurrentAccess(t *testing.T) {
	ab := NewAudioBuffer(stereoL24)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			ab.Append(make([]byte, 288))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			ab.Read(288)
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, ab.BufferedBytes(), ab.MaxBufferedBytes())
}
