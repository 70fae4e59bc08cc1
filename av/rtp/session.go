package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// Session holds the sender-side codec state of one outgoing stream.
//
// The sequence number advances once per encoded packet and wraps at 2^16.
// The timestamp only moves when the caller reports the samples it sent with
// AdvanceTimestamp, which keeps the codec independent of the encoding.
type Session struct {
	mu             sync.Mutex
	payloadType    uint8
	ssrc           uint32
	sequenceNumber uint16
	timestamp      uint32
}

// NewSession creates a session with a random SSRC, starting sequence number
// and starting timestamp.
func NewSession(payloadType uint8) (*Session, error) {
	if payloadType > 127 {
		return nil, fmt.Errorf("payload type %d out of range", payloadType)
	}

	seed := make([]byte, 10)
	if _, err := rand.Read(seed); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewSession",
			"error":    err.Error(),
		}).Error("Failed to generate RTP session state")
		return nil, fmt.Errorf("failed to generate session state: %w", err)
	}

	s := &Session{
		payloadType:    payloadType,
		ssrc:           binary.BigEndian.Uint32(seed[0:4]),
		sequenceNumber: binary.BigEndian.Uint16(seed[4:6]),
		timestamp:      binary.BigEndian.Uint32(seed[6:10]),
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewSession",
		"payload_type": payloadType,
		"ssrc":         s.ssrc,
	}).Debug("RTP session created")

	return s, nil
}

// NewSessionWithState creates a session with explicit starting values.
func NewSessionWithState(payloadType uint8, ssrc uint32, sequenceNumber uint16, timestamp uint32) *Session {
	return &Session{
		payloadType:    payloadType & 0x7F,
		ssrc:           ssrc,
		sequenceNumber: sequenceNumber,
		timestamp:      timestamp,
	}
}

// Encode builds one RTP packet carrying payload and advances the sequence
// number.
func (s *Session) Encode(payload []byte, marker bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.payloadType,
			SequenceNumber: s.sequenceNumber,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}

	data, err := packet.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RTP packet: %w", err)
	}

	s.sequenceNumber++
	return data, nil
}

// AdvanceTimestamp moves the timestamp by the samples per channel carried in
// the packet just sent.
func (s *Session) AdvanceTimestamp(samplesPerChannel uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timestamp += samplesPerChannel
}

// PayloadType returns the RTP payload type.
func (s *Session) PayloadType() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloadType
}

// SSRC returns the synchronization source identifier.
func (s *Session) SSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssrc
}

// SequenceNumber returns the sequence number of the next packet.
func (s *Session) SequenceNumber() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequenceNumber
}

// Timestamp returns the timestamp of the next packet.
func (s *Session) Timestamp() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestamp
}
