// Package stream holds the AES67 stream data model and the registry of
// discovered streams and devices.
package stream

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Encoding is a linear PCM RTP encoding name.
type Encoding string

const (
	// EncodingL16 is 16-bit big-endian linear PCM (RFC 3551)
	EncodingL16 Encoding = "L16"
	// EncodingL24 is 24-bit big-endian linear PCM (RFC 3190)
	EncodingL24 Encoding = "L24"
)

// ParseEncoding normalizes an rtpmap encoding name. Anything other than L16
// is treated as L24.
func ParseEncoding(name string) Encoding {
	if strings.EqualFold(strings.TrimSpace(name), string(EncodingL16)) {
		return EncodingL16
	}
	return EncodingL24
}

// BytesPerSample returns the sample width of the encoding.
func (e Encoding) BytesPerSample() int {
	if e == EncodingL16 {
		return 2
	}
	return 3
}

// Status is the liveness state of a descriptor.
type Status string

const (
	// StatusActive marks a stream seen in a SAP announcement
	StatusActive Status = "active"
	// StatusDeleted marks a stream withdrawn with a SAP delete message
	StatusDeleted Status = "deleted"
)

// Key identifies a stream by its source address and RTP port.
type Key string

// NewKey builds the key for a source IP and RTP port.
func NewKey(sourceIP string, port int) Key {
	return Key(net.JoinHostPort(sourceIP, strconv.Itoa(port)))
}

// Descriptor describes one discovered or locally originated audio stream.
type Descriptor struct {
	ID            string
	Name          string
	Description   string
	SourceIP      string
	DestIP        string
	Port          int
	PayloadType   uint8
	Channels      int
	SampleRate    int
	Encoding      Encoding
	PTimeMs       float64
	MediaClockRef string
	IsMulticast   bool
	SDP           string
	LastSeenAt    time.Time
	Status        Status
}

// Key returns the identity key of the descriptor.
func (d Descriptor) Key() Key {
	return NewKey(d.SourceIP, d.Port)
}

// Format returns the audio format carried by the stream.
func (d Descriptor) Format() Format {
	return Format{
		SampleRate: d.SampleRate,
		Channels:   d.Channels,
		Encoding:   d.Encoding,
		PTimeMs:    d.PTimeMs,
	}
}

// IsMulticastIPv4 reports whether ip lies in 224.0.0.0-239.255.255.255.
func IsMulticastIPv4(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	ip4 := parsed.To4()
	if ip4 == nil {
		return false
	}
	return ip4[0] >= 224 && ip4[0] <= 239
}
