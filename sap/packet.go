package sap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"net"

	"github.com/opd-ai/aes67/limits"
)

const (
	// Version is the only SAP version this codec accepts
	Version = 1

	// PayloadTypeSDP is the payload type tag written by Encode
	PayloadTypeSDP = "application/sdp"

	// DefaultPort is the well-known SAP port
	DefaultPort = 9875

	flagDelete     = 0x04
	flagEncrypted  = 0x02
	flagCompressed = 0x01
	flagIPv6       = 0x10
)

var (
	// ErrMalformedPacket indicates truncated or invalid SAP bytes
	ErrMalformedPacket = errors.New("malformed SAP packet")

	// ErrNotIPv4 indicates an origin address that cannot go in a SAP v1 IPv4 header
	ErrNotIPv4 = errors.New("origin is not an IPv4 address")

	sdpPrefix       = []byte("v=0")
	mimeApplication = []byte("application/")
)

// MessageType distinguishes announcements from withdrawals.
type MessageType uint8

const (
	// MessageAnnounce refreshes a session description
	MessageAnnounce MessageType = 0
	// MessageDelete withdraws a session description
	MessageDelete MessageType = 1
)

func (m MessageType) String() string {
	if m == MessageDelete {
		return "delete"
	}
	return "announce"
}

// Packet is a decoded SAP announcement.
type Packet struct {
	Version       uint8
	MessageType   MessageType
	Encrypted     bool
	Compressed    bool
	AuthLength    uint8
	MessageIDHash uint16
	OriginIP      string
	PayloadType   string
	// Payload holds everything after the authentication data. For encrypted
	// or compressed packets it is the only payload available.
	Payload []byte
	// SDP is the session description text; empty when the payload is opaque.
	SDP string
}

// Opaque reports whether the payload cannot be read as SDP.
func (p *Packet) Opaque() bool {
	return p.Encrypted || p.Compressed
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...))
}

// Decode parses a SAP packet. It never panics; every bounds violation is
// reported as ErrMalformedPacket.
//
// After the authentication data the decoder walks null-terminated prefix
// fields until the remaining bytes start with "v=0". The first field is the
// originating source URI and is skipped unless it is itself an application
// payload type; a later field naming a payload type other than SDP is
// malformed.
func Decode(data []byte) (*Packet, error) {
	if len(data) < limits.SAPHeaderSize {
		return nil, malformed("need %d header bytes, got %d", limits.SAPHeaderSize, len(data))
	}

	b0 := data[0]
	version := b0 >> 5
	if version != Version {
		return nil, malformed("unsupported version %d", version)
	}
	if b0&flagIPv6 != 0 {
		return nil, malformed("IPv6 origin not supported")
	}

	p := &Packet{
		Version:       version,
		Encrypted:     b0&flagEncrypted != 0,
		Compressed:    b0&flagCompressed != 0,
		AuthLength:    data[1],
		MessageIDHash: binary.BigEndian.Uint16(data[2:4]),
		OriginIP:      net.IPv4(data[4], data[5], data[6], data[7]).String(),
	}
	if b0&flagDelete != 0 {
		p.MessageType = MessageDelete
	}

	offset := limits.SAPHeaderSize + int(p.AuthLength)*4
	if offset > len(data) {
		return nil, malformed("auth data overruns packet (%d > %d)", offset, len(data))
	}
	p.Payload = append([]byte(nil), data[offset:]...)

	if p.Opaque() {
		return p, nil
	}

	for field := 0; ; field++ {
		rest := data[offset:]
		if bytes.HasPrefix(rest, sdpPrefix) {
			p.SDP = string(bytes.TrimRight(rest, "\x00"))
			return p, nil
		}
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, malformed("no session description at offset %d", offset)
		}
		value := rest[:nul]
		switch {
		case field == 0 && !bytes.HasPrefix(value, mimeApplication):
			// Originating source URI, skipped whatever it contains.
		case bytes.Contains(value, []byte("sdp")):
			p.PayloadType = string(value)
		case field > 0 && bytes.IndexByte(value, '/') >= 0:
			return nil, malformed("unsupported payload type %q", value)
		}
		offset += nul + 1
	}
}

// Encode builds a SAP v1 packet carrying sdpText with an application/sdp
// payload type.
func Encode(sdpText, sourceIP string, messageType MessageType) ([]byte, error) {
	ip := net.ParseIP(sourceIP).To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotIPv4, sourceIP)
	}

	out := make([]byte, limits.SAPHeaderSize, limits.SAPHeaderSize+len(PayloadTypeSDP)+1+len(sdpText))
	out[0] = Version << 5
	if messageType == MessageDelete {
		out[0] |= flagDelete
	}
	out[1] = 0
	binary.BigEndian.PutUint16(out[2:4], MessageIDHash(sdpText))
	copy(out[4:8], ip)

	out = append(out, PayloadTypeSDP...)
	out = append(out, 0)
	out = append(out, sdpText...)
	return out, nil
}

// MessageIDHash derives the 16-bit message identifier from the description
// so that any change to it yields a new identifier. Zero is never returned.
func MessageIDHash(sdpText string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sdpText))
	sum := h.Sum32()
	id := uint16(sum>>16) ^ uint16(sum)
	if id == 0 {
		id = 1
	}
	return id
}
