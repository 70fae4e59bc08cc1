package rtp

import (
	"sync"

	"github.com/opd-ai/aes67/stream"
	"github.com/sirupsen/logrus"
)

// AudioBuffer accumulates decoded payload bytes and hands them out in
// fixed-size reads. When the backlog exceeds its cap, whole chunks are
// dropped from the head until at most 80% of the cap remains, so fresh
// audio wins over complete audio.
type AudioBuffer struct {
	mu       sync.Mutex
	chunks   [][]byte
	head     int // bytes already consumed from chunks[0]
	buffered int
	max      int
	dropped  uint64
}

// NewAudioBuffer creates a buffer holding at most 100 ms of format.
func NewAudioBuffer(format stream.Format) *AudioBuffer {
	return NewAudioBufferWithCapacity(format.SampleRate * format.Channels * format.BytesPerSample() / 10)
}

// NewAudioBufferWithCapacity creates a buffer with an explicit cap in bytes.
func NewAudioBufferWithCapacity(maxBytes int) *AudioBuffer {
	return &AudioBuffer{max: maxBytes}
}

// Append copies b onto the tail.
func (ab *AudioBuffer) Append(b []byte) {
	if len(b) == 0 {
		return
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	ab.chunks = append(ab.chunks, append([]byte(nil), b...))
	ab.buffered += len(b)

	if ab.max > 0 && ab.buffered > ab.max {
		ab.trim()
	}
}

// trim pops whole chunks until the backlog is at or below 80% of the cap.
func (ab *AudioBuffer) trim() {
	target := ab.max * 8 / 10
	var dropped int
	for ab.buffered > target && len(ab.chunks) > 0 {
		n := len(ab.chunks[0]) - ab.head
		ab.chunks[0] = nil
		ab.chunks = ab.chunks[1:]
		ab.head = 0
		ab.buffered -= n
		dropped += n
	}
	ab.dropped += uint64(dropped)

	logrus.WithFields(logrus.Fields{
		"function": "AudioBuffer.trim",
		"dropped":  dropped,
		"buffered": ab.buffered,
		"max":      ab.max,
	}).Debug("Audio buffer overflow, dropped oldest audio")
}

// Read returns exactly n bytes from the head, or false when fewer than n
// bytes are buffered. Partial reads never happen.
func (ab *AudioBuffer) Read(n int) ([]byte, bool) {
	if n <= 0 {
		return nil, false
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.buffered < n {
		return nil, false
	}

	out := make([]byte, 0, n)
	for len(out) < n {
		chunk := ab.chunks[0][ab.head:]
		take := n - len(out)
		if take >= len(chunk) {
			out = append(out, chunk...)
			ab.chunks[0] = nil
			ab.chunks = ab.chunks[1:]
			ab.head = 0
			continue
		}
		out = append(out, chunk[:take]...)
		ab.head += take
	}
	ab.buffered -= n
	return out, true
}

// Clear drops everything buffered.
func (ab *AudioBuffer) Clear() {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.chunks = nil
	ab.head = 0
	ab.buffered = 0
}

// BufferedBytes returns the number of bytes waiting to be read.
func (ab *AudioBuffer) BufferedBytes() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.buffered
}

// MaxBufferedBytes returns the cap.
func (ab *AudioBuffer) MaxBufferedBytes() int {
	return ab.max
}

// DroppedBytes returns how many bytes overflow has discarded.
func (ab *AudioBuffer) DroppedBytes() uint64 {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.dropped
}
