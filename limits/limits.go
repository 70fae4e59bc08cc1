// Package limits provides centralized datagram size limits for SAP and RTP.
// This ensures consistent validation across the codecs, the sender and the
// socket layer.
package limits

import (
	"errors"
	"fmt"
)

const (
	// SAPHeaderSize is the fixed SAP header length without authentication data
	SAPHeaderSize = 8

	// MaxSAPPacket is the RFC 2974 recommended upper bound for an announcement
	// including the SAP header and the session description
	MaxSAPPacket = 1024

	// RTPHeaderSize is the fixed RTP header length without CSRCs or extensions
	RTPHeaderSize = 12

	// MaxRTPPayload is the AES67 payload ceiling that keeps a packet inside a
	// 1500 byte Ethernet MTU with IP, UDP and RTP headers
	MaxRTPPayload = 1440

	// MaxDatagram is the receive buffer size used by every socket
	MaxDatagram = 2048
)

var (
	// ErrPacketEmpty indicates an empty packet was provided
	ErrPacketEmpty = errors.New("empty packet")

	// ErrPacketTooLarge indicates a packet exceeds its maximum size
	ErrPacketTooLarge = errors.New("packet too large")
)

// ValidatePacketSize validates a packet against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidatePacketSize(packet []byte, maxSize int) error {
	if len(packet) == 0 {
		return ErrPacketEmpty
	}
	if len(packet) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPacketTooLarge, len(packet), maxSize)
	}
	return nil
}

// ValidateSAPPacket validates an encoded announcement against MaxSAPPacket.
func ValidateSAPPacket(packet []byte) error {
	if len(packet) == 0 {
		return ErrPacketEmpty
	}
	if len(packet) > MaxSAPPacket {
		return fmt.Errorf("%w: SAP size %d exceeds limit %d", ErrPacketTooLarge, len(packet), MaxSAPPacket)
	}
	return nil
}

// ValidateRTPPayload validates an outgoing RTP payload against MaxRTPPayload.
func ValidateRTPPayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrPacketEmpty
	}
	if len(payload) > MaxRTPPayload {
		return fmt.Errorf("%w: RTP payload size %d exceeds limit %d", ErrPacketTooLarge, len(payload), MaxRTPPayload)
	}
	return nil
}
