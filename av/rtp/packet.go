package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/aes67/limits"
	"github.com/pion/rtp"
)

// ErrMalformedPacket indicates truncated or inconsistent RTP bytes
var ErrMalformedPacket = errors.New("malformed RTP packet")

const flagExtension = 0x10

// Header carries the decoded RTP header fields.
type Header struct {
	Version          uint8
	Padding          bool
	Extension        bool
	ExtensionProfile uint16
	Marker           bool
	CSRCCount        uint8
	PayloadType      uint8
	SequenceNumber   uint16
	Timestamp        uint32
	SSRC             uint32
	CSRC             []uint32
	// HeaderLength is the wire length of the fixed header, CSRC list and
	// extension together.
	HeaderLength int
}

// Packet is a decoded RTP packet.
type Packet struct {
	Header  Header
	Payload []byte
}

// Decode parses an RTP packet. The header length is 12 bytes plus the CSRC
// list; when the X bit is set and at least 4 more bytes remain, the
// extension length word extends it. A header running past the buffer or a
// padding count larger than the payload returns ErrMalformedPacket. The
// extension body is skipped without interpreting its elements. The payload
// is copied, so data may be reused by the caller.
func Decode(data []byte) (*Packet, error) {
	if len(data) < limits.RTPHeaderSize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrMalformedPacket, limits.RTPHeaderSize, len(data))
	}

	csrcCount := int(data[0] & 0x0F)
	fixedLength := limits.RTPHeaderSize + 4*csrcCount
	if fixedLength > len(data) {
		return nil, fmt.Errorf("%w: %d CSRCs need %d bytes, got %d", ErrMalformedPacket, csrcCount, fixedLength, len(data))
	}

	// pion only sees the fixed header and CSRC list with X cleared, so it
	// never validates extension elements.
	fixed := append([]byte(nil), data[:fixedLength]...)
	fixed[0] &^= flagExtension
	var h rtp.Header
	if _, err := h.Unmarshal(fixed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	headerLength := fixedLength
	extension := data[0]&flagExtension != 0
	var profile uint16
	if extension && len(data) >= headerLength+4 {
		profile = binary.BigEndian.Uint16(data[headerLength : headerLength+2])
		words := int(binary.BigEndian.Uint16(data[headerLength+2 : headerLength+4]))
		headerLength += 4 + 4*words
		if headerLength > len(data) {
			return nil, fmt.Errorf("%w: extension needs %d bytes, got %d", ErrMalformedPacket, headerLength, len(data))
		}
	}

	payload := data[headerLength:]
	if h.Padding {
		if len(payload) == 0 {
			return nil, fmt.Errorf("%w: padding bit set without payload", ErrMalformedPacket)
		}
		padding := int(payload[len(payload)-1])
		if padding > len(payload) {
			return nil, fmt.Errorf("%w: padding %d exceeds payload %d", ErrMalformedPacket, padding, len(payload))
		}
		payload = payload[:len(payload)-padding]
	}

	return &Packet{
		Header: Header{
			Version:          h.Version,
			Padding:          h.Padding,
			Extension:        extension,
			ExtensionProfile: profile,
			Marker:           h.Marker,
			CSRCCount:        uint8(csrcCount),
			PayloadType:      h.PayloadType,
			SequenceNumber:   h.SequenceNumber,
			Timestamp:        h.Timestamp,
			SSRC:             h.SSRC,
			CSRC:             h.CSRC,
			HeaderLength:     headerLength,
		},
		Payload: append([]byte(nil), payload...),
	}, nil
}
