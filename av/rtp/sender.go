package rtp

import (
	"fmt"
	"net"
	"sync"

	"github.com/opd-ai/aes67/limits"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/transport"
	"github.com/sirupsen/logrus"
)

// SenderStats counts what a sender has put on the wire.
type SenderStats struct {
	PacketsSent uint64
	BytesSent   uint64
	SendErrors  uint64
}

// Sender packetizes raw PCM into RTP and sends it to one destination.
type Sender struct {
	mu        sync.Mutex
	transport transport.Transport
	dest      net.Addr
	format    stream.Format
	session   *Session
	stats     SenderStats
}

// NewSender creates a sender for format over tr. The packet size implied by
// the format must fit in one AES67 payload.
func NewSender(tr transport.Transport, dest net.Addr, format stream.Format, session *Session) (*Sender, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if dest == nil {
		return nil, fmt.Errorf("destination address cannot be nil")
	}
	if session == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid format: %w", err)
	}
	if format.BytesPerPacket() > limits.MaxRTPPayload {
		return nil, fmt.Errorf("%w: %d byte packets for %s", limits.ErrPacketTooLarge, format.BytesPerPacket(), format)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSender",
		"dest":     dest.String(),
		"format":   format.String(),
		"ssrc":     session.SSRC(),
	}).Info("RTP sender created")

	return &Sender{
		transport: tr,
		dest:      dest,
		format:    format,
		session:   session,
	}, nil
}

// Send splits pcm into ptime-sized packets and sends each one. pcm must hold
// whole frames; the final packet may be short. The timestamp advances by the
// frames actually sent. The first send error aborts the call.
func (s *Sender) Send(pcm []byte) error {
	frameSize := s.format.FrameSize()
	if len(pcm) == 0 {
		return limits.ErrPacketEmpty
	}
	if len(pcm)%frameSize != 0 {
		return fmt.Errorf("PCM length %d is not a multiple of the %d byte frame", len(pcm), frameSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	packetSize := s.format.BytesPerPacket()
	for offset := 0; offset < len(pcm); offset += packetSize {
		end := offset + packetSize
		if end > len(pcm) {
			end = len(pcm)
		}
		payload := pcm[offset:end]
		if err := limits.ValidateRTPPayload(payload); err != nil {
			return err
		}

		data, err := s.session.Encode(payload, false)
		if err != nil {
			return err
		}
		if err := s.transport.Send(data, s.dest); err != nil {
			s.stats.SendErrors++
			logrus.WithFields(logrus.Fields{
				"function": "Sender.Send",
				"dest":     s.dest.String(),
				"error":    err.Error(),
			}).Warn("Failed to send RTP packet")
			return fmt.Errorf("failed to send RTP packet: %w", err)
		}

		s.session.AdvanceTimestamp(uint32(len(payload) / frameSize))
		s.stats.PacketsSent++
		s.stats.BytesSent += uint64(len(data))
	}

	return nil
}

// Format returns the PCM layout the sender expects.
func (s *Sender) Format() stream.Format {
	return s.format
}

// Session returns the codec state of the sender.
func (s *Sender) Session() *Session {
	return s.session
}

// Destination returns where packets are sent.
func (s *Sender) Destination() net.Addr {
	return s.dest
}

// Stats returns the sender counters.
func (s *Sender) Stats() SenderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close closes the sender's transport.
func (s *Sender) Close() error {
	return s.transport.Close()
}
