package subscription

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/aes67/av/rtp"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/transport"
	"github.com/sirupsen/logrus"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Info is a snapshot of one subscription.
type Info struct {
	ID               string
	StreamKey        stream.Key
	LocalPort        int
	CreatedAt        time.Time
	Format           stream.Format
	PacketsReceived  uint64
	BytesReceived    uint64
	PacketsLost      uint64
	LossRate         float64
	MalformedPackets uint64
	BufferedBytes    int
	Status           Status
	Multicast        bool
	LastPacketAt     time.Time
	Jitter           time.Duration
	Quality          Quality
}

// AudioChunk is the payload of one valid RTP packet.
type AudioChunk struct {
	SubscriptionID string
	Header         rtp.Header
	Payload        []byte
	Format         stream.Format
}

// ID returns the subscription ID for key and the requested local port.
func ID(key stream.Key, localPort int) string {
	port := "auto"
	if localPort != 0 {
		port = strconv.Itoa(localPort)
	}
	return string(key) + "/" + port
}

type subscription struct {
	id        string
	key       stream.Key
	format    stream.Format
	group     net.IP
	createdAt time.Time
	transport transport.Transport
	depack    *rtp.Depacketizer
	buffer    *rtp.AudioBuffer
	deliver   func(AudioChunk)
	clock     stream.TimeProvider
	quality   QualityThresholds

	mu        sync.Mutex
	localPort int
	bytes     uint64
	malformed uint64
	status    Status
	multicast bool
	lastAt    time.Time
}

// handlePacket runs on the socket's receive goroutine.
func (s *subscription) handlePacket(data []byte, addr net.Addr) {
	now := s.clock.Now()
	pkt, err := s.depack.ProcessPacketAt(data, now)
	if err != nil {
		s.mu.Lock()
		s.malformed++
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":        "subscription.handlePacket",
			"subscription_id": s.id,
			"source":          addr.String(),
			"error":           err.Error(),
		}).Debug("Dropping malformed RTP packet")
		return
	}

	s.mu.Lock()
	s.bytes += uint64(len(pkt.Payload))
	s.lastAt = now
	s.mu.Unlock()

	s.buffer.Append(pkt.Payload)

	if s.deliver != nil {
		s.deliver(AudioChunk{
			SubscriptionID: s.id,
			Header:         pkt.Header,
			Payload:        pkt.Payload,
			Format:         s.format,
		})
	}
}

func (s *subscription) info() Info {
	loss := s.depack.Stats()
	jitter := s.depack.Jitter()

	s.mu.Lock()
	info := Info{
		ID:               s.id,
		StreamKey:        s.key,
		LocalPort:        s.localPort,
		CreatedAt:        s.createdAt,
		Format:           s.format,
		PacketsReceived:  loss.PacketsReceived,
		BytesReceived:    s.bytes,
		PacketsLost:      loss.PacketsLost,
		LossRate:         loss.LossRate,
		MalformedPackets: s.malformed,
		BufferedBytes:    s.buffer.BufferedBytes(),
		Status:           s.status,
		Multicast:        s.multicast,
		LastPacketAt:     s.lastAt,
		Jitter:           jitter,
	}
	s.mu.Unlock()

	info.Quality = AssessQuality(info, s.clock.Now(), s.quality)
	return info
}

// close leaves the group and closes the socket.
func (s *subscription) close() error {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusClosed
	multicast := s.multicast
	s.multicast = false
	s.mu.Unlock()

	if multicast {
		if err := s.transport.LeaveGroup(s.group); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "subscription.close",
				"subscription_id": s.id,
				"group":           s.group.String(),
				"error":           err.Error(),
			}).Warn("Failed to leave multicast group")
		}
	}
	s.buffer.Clear()
	return s.transport.Close()
}
