package audio

import (
	"fmt"
	"math"
	"sync"

	"github.com/opd-ai/aes67/stream"
	"github.com/sirupsen/logrus"
)

// ToneGenerator produces an interleaved sine wave with the same signal on
// every channel. Phase is continuous across calls.
type ToneGenerator struct {
	mu        sync.Mutex
	format    stream.Format
	frequency float64
	amplitude float64
	phase     float64
}

// NewToneGenerator creates a generator for format. amplitude is relative to
// full scale and must be in (0, 1].
func NewToneGenerator(format stream.Format, frequency, amplitude float64) (*ToneGenerator, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid format: %w", err)
	}
	if frequency <= 0 || frequency >= float64(format.SampleRate)/2 {
		return nil, fmt.Errorf("frequency %v Hz outside (0, %d)", frequency, format.SampleRate/2)
	}
	if amplitude <= 0 || amplitude > 1 {
		return nil, fmt.Errorf("amplitude %v outside (0, 1]", amplitude)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewToneGenerator",
		"format":    format.String(),
		"frequency": frequency,
	}).Debug("Tone generator created")

	return &ToneGenerator{
		format:    format,
		frequency: frequency,
		amplitude: amplitude,
	}, nil
}

// Next returns frames frames of PCM.
func (g *ToneGenerator) Next(frames int) []byte {
	if frames <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	step := 2 * math.Pi * g.frequency / float64(g.format.SampleRate)
	samples := make([]float64, frames*g.format.Channels)
	for f := 0; f < frames; f++ {
		v := g.amplitude * math.Sin(g.phase)
		for c := 0; c < g.format.Channels; c++ {
			samples[f*g.format.Channels+c] = v
		}
		g.phase += step
		if g.phase >= 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
	}
	return PackFloat(g.format.Encoding, samples)
}

// Packet returns one packet time of PCM.
func (g *ToneGenerator) Packet() []byte {
	return g.Next(g.format.SamplesPerPacket())
}

// Format returns the layout of generated PCM.
func (g *ToneGenerator) Format() stream.Format {
	return g.format
}
