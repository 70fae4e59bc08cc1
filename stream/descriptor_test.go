package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in   string
		want Encoding
	}{
		{"L16", EncodingL16},
		{"l16", EncodingL16},
		{" L16 ", EncodingL16},
		{"L24", EncodingL24},
		{"AM824", EncodingL24},
		{"", EncodingL24},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseEncoding(tt.in))
		})
	}
}

func TestIsMulticastIPv4(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"224.0.0.0", true},
		{"239.69.1.1", true},
		{"239.255.255.255", true},
		{"223.255.255.255", false},
		{"240.0.0.1", false},
		{"192.168.1.10", false},
		{"ff02::1", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMulticastIPv4(tt.ip))
		})
	}
}

func TestDescriptorKey(t *testing.T) {
	d := Descriptor{SourceIP: "192.168.1.10", Port: 5004}
	assert.Equal(t, Key("192.168.1.10:5004"), d.Key())
}

func TestFormatSizes(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2, Encoding: EncodingL24, PTimeMs: 1}
	assert.NoError(t, f.Validate())
	assert.Equal(t, 3, f.BytesPerSample())
	assert.Equal(t, 6, f.FrameSize())
	assert.Equal(t, 48, f.SamplesPerPacket())
	assert.Equal(t, 288, f.BytesPerPacket())
	assert.Equal(t, 14400, f.BytesForDuration(50))
	assert.InDelta(t, 288.0, f.BytesPerMillisecond(), 1e-9)

	l16 := Format{SampleRate: 44100, Channels: 1, Encoding: EncodingL16, PTimeMs: 0.125}
	assert.Equal(t, 6, l16.SamplesPerPacket())
	assert.Equal(t, 12, l16.BytesPerPacket())
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name string
		f    Format
	}{
		{"no channels", Format{SampleRate: 48000, Channels: 0, Encoding: EncodingL24, PTimeMs: 1}},
		{"no rate", Format{SampleRate: 0, Channels: 2, Encoding: EncodingL24, PTimeMs: 1}},
		{"bad encoding", Format{SampleRate: 48000, Channels: 2, Encoding: "PCMU", PTimeMs: 1}},
		{"no ptime", Format{SampleRate: 48000, Channels: 2, Encoding: EncodingL16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.f.Validate())
		})
	}
}
