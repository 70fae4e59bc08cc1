package stream

import "fmt"

// Format is the PCM layout of a stream.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
	PTimeMs    float64
}

// Validate checks the invariants every stream format must hold.
func (f Format) Validate() error {
	if f.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Encoding != EncodingL16 && f.Encoding != EncodingL24 {
		return fmt.Errorf("unsupported encoding %q", f.Encoding)
	}
	if f.PTimeMs <= 0 {
		return fmt.Errorf("ptime must be positive, got %v", f.PTimeMs)
	}
	return nil
}

// BytesPerSample returns the width of one sample of one channel.
func (f Format) BytesPerSample() int {
	return f.Encoding.BytesPerSample()
}

// FrameSize returns the size of one sample across all channels.
func (f Format) FrameSize() int {
	return f.Channels * f.BytesPerSample()
}

// SamplesPerPacket returns the samples per channel carried by one packet.
func (f Format) SamplesPerPacket() int {
	n := int(float64(f.SampleRate)*f.PTimeMs/1000 + 0.5)
	if n < 1 {
		return 1
	}
	return n
}

// BytesPerPacket returns the payload size of one full packet.
func (f Format) BytesPerPacket() int {
	return f.SamplesPerPacket() * f.FrameSize()
}

// BytesPerMillisecond returns the byte rate of the stream per millisecond.
func (f Format) BytesPerMillisecond() float64 {
	return float64(f.SampleRate*f.FrameSize()) / 1000
}

// BytesForDuration returns the byte count of ms milliseconds of audio,
// rounded down to whole frames.
func (f Format) BytesForDuration(ms float64) int {
	frames := int(float64(f.SampleRate) * ms / 1000)
	return frames * f.FrameSize()
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%d/%d ptime=%vms", f.Encoding, f.SampleRate, f.Channels, f.PTimeMs)
}
