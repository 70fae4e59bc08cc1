package rtp

import (
	"sync"
	"time"
)

// JitterEstimator computes the RFC 3550 interarrival jitter of one stream.
type JitterEstimator struct {
	mu          sync.Mutex
	clockRate   float64
	hasPrev     bool
	prevTS      uint32
	prevArrival time.Time
	jitter      float64 // in timestamp units
}

// NewJitterEstimator creates an estimator for an RTP clock of clockRate Hz.
func NewJitterEstimator(clockRate int) *JitterEstimator {
	if clockRate <= 0 {
		clockRate = 48000
	}
	return &JitterEstimator{clockRate: float64(clockRate)}
}

// Update feeds one packet's RTP timestamp and arrival time.
func (j *JitterEstimator) Update(timestamp uint32, arrival time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.hasPrev {
		j.hasPrev = true
		j.prevTS = timestamp
		j.prevArrival = arrival
		return
	}

	arrivalDelta := arrival.Sub(j.prevArrival).Seconds() * j.clockRate
	tsDelta := float64(int32(timestamp - j.prevTS))
	d := arrivalDelta - tsDelta
	if d < 0 {
		d = -d
	}
	j.jitter += (d - j.jitter) / 16

	j.prevTS = timestamp
	j.prevArrival = arrival
}

// Jitter returns the current estimate.
func (j *JitterEstimator) Jitter() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.jitter / j.clockRate * float64(time.Second))
}

// Reset forgets the previous packet and the estimate.
func (j *JitterEstimator) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.hasPrev = false
	j.jitter = 0
}
