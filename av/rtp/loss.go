package rtp

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LossStats summarizes sequence accounting for one stream.
type LossStats struct {
	PacketsReceived uint64
	PacketsLost     uint64
	LossRate        float64
}

// LossTracker counts sequence gaps on the receive side of one stream.
type LossTracker struct {
	mu          sync.Mutex
	initialized bool
	lastSeq     uint16
	received    uint64
	lost        uint64
}

// NewLossTracker creates an empty tracker.
func NewLossTracker() *LossTracker {
	return &LossTracker{}
}

// Observe records one received sequence number and returns how many packets
// it counted as lost. The first packet only initializes the tracker.
func (t *LossTracker) Observe(seq uint16) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.received++
	if !t.initialized {
		t.initialized = true
		t.lastSeq = seq
		return 0
	}

	expected := t.lastSeq + 1
	var gap uint64
	if seq != expected {
		gap = uint64(uint16(seq - expected))
		t.lost += gap
	}
	t.lastSeq = seq
	return gap
}

// Reset forgets the sequence state so the next packet reinitializes it.
// Counters are kept.
func (t *LossTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialized = false
}

// Stats returns the counters and lost / (received + lost).
func (t *LossTracker) Stats() LossStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := LossStats{
		PacketsReceived: t.received,
		PacketsLost:     t.lost,
	}
	if total := t.received + t.lost; total > 0 {
		stats.LossRate = float64(t.lost) / float64(total)
	}
	return stats
}

// Depacketizer decodes inbound RTP for one stream and keeps its loss and
// jitter accounting.
type Depacketizer struct {
	mu      sync.Mutex
	ssrc    uint32
	hasSSRC bool
	tracker *LossTracker
	jitter  *JitterEstimator
}

// NewDepacketizer creates a depacketizer for a 48 kHz RTP clock.
func NewDepacketizer() *Depacketizer {
	return NewDepacketizerWithClockRate(48000)
}

// NewDepacketizerWithClockRate creates a depacketizer whose jitter estimate
// uses an RTP clock of clockRate Hz.
func NewDepacketizerWithClockRate(clockRate int) *Depacketizer {
	return &Depacketizer{
		tracker: NewLossTracker(),
		jitter:  NewJitterEstimator(clockRate),
	}
}

// ProcessPacket decodes data that arrived now.
func (d *Depacketizer) ProcessPacket(data []byte) (*Packet, error) {
	return d.ProcessPacketAt(data, time.Now())
}

// ProcessPacketAt decodes data and updates loss and jitter accounting. A
// change of SSRC means the sender restarted, so the sequence state starts
// over instead of counting a bogus gap.
func (d *Depacketizer) ProcessPacketAt(data []byte, arrival time.Time) (*Packet, error) {
	pkt, err := Decode(data)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.hasSSRC && pkt.Header.SSRC != d.ssrc {
		logrus.WithFields(logrus.Fields{
			"function":      "Depacketizer.ProcessPacket",
			"previous_ssrc": d.ssrc,
			"ssrc":          pkt.Header.SSRC,
		}).Info("RTP source changed, restarting sequence tracking")
		d.tracker.Reset()
		d.jitter.Reset()
	}
	d.ssrc = pkt.Header.SSRC
	d.hasSSRC = true
	d.mu.Unlock()

	d.jitter.Update(pkt.Header.Timestamp, arrival)

	if gap := d.tracker.Observe(pkt.Header.SequenceNumber); gap > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Depacketizer.ProcessPacket",
			"sequence": pkt.Header.SequenceNumber,
			"lost":     gap,
		}).Debug("Sequence gap detected in RTP stream")
	}

	return pkt, nil
}

// Stats returns the loss statistics of the stream.
func (d *Depacketizer) Stats() LossStats {
	return d.tracker.Stats()
}

// Jitter returns the interarrival jitter estimate of the stream.
func (d *Depacketizer) Jitter() time.Duration {
	return d.jitter.Jitter()
}
