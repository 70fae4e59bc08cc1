package aes67

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/opd-ai/aes67/av/rtp"
	"github.com/opd-ai/aes67/sap"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/transport"
	"github.com/sirupsen/logrus"
)

// SenderConfig describes a local stream to transmit and announce.
type SenderConfig struct {
	ID          string
	Name        string
	Description string
	// SourceIP is the local IPv4 address put in the SAP header and SDP
	// origin. Empty selects the first IPv4 address of the node interface.
	SourceIP string
	DestIP   string
	// Port defaults to Options.RTPPort.
	Port int
	// PayloadType defaults to Options.PayloadType.
	PayloadType   uint8
	Format        stream.Format
	MediaClockRef string
}

// SenderInfo is a snapshot of a local sender.
type SenderInfo struct {
	ID          string
	Descriptor  stream.Descriptor
	SSRC        uint32
	PacketsSent uint64
	BytesSent   uint64
	SendErrors  uint64
	CreatedAt   time.Time
}

type localSender struct {
	id         string
	descriptor stream.Descriptor
	sender     *rtp.Sender
	createdAt  time.Time
}

func (ls *localSender) info() SenderInfo {
	stats := ls.sender.Stats()
	return SenderInfo{
		ID:          ls.id,
		Descriptor:  ls.descriptor,
		SSRC:        ls.sender.Session().SSRC(),
		PacketsSent: stats.PacketsSent,
		BytesSent:   stats.BytesSent,
		SendErrors:  stats.SendErrors,
		CreatedAt:   ls.createdAt,
	}
}

// AddSender opens an RTP socket for cfg and registers its SAP announcement.
// The announcement goes out whenever discovery is running.
func (n *Node) AddSender(cfg SenderConfig) (SenderInfo, error) {
	if cfg.ID == "" {
		return SenderInfo{}, fmt.Errorf("sender ID is required")
	}
	if err := cfg.Format.Validate(); err != nil {
		return SenderInfo{}, fmt.Errorf("sender %s: %w", cfg.ID, err)
	}
	destIP := net.ParseIP(cfg.DestIP).To4()
	if destIP == nil {
		return SenderInfo{}, fmt.Errorf("sender %s: destination %q is not IPv4", cfg.ID, cfg.DestIP)
	}
	if cfg.SourceIP == "" {
		ip, err := LocalIPv4(n.iface)
		if err != nil {
			return SenderInfo{}, fmt.Errorf("sender %s: %w", cfg.ID, err)
		}
		cfg.SourceIP = ip
	}
	if cfg.Port == 0 {
		cfg.Port = n.options.RTPPort
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = n.options.PayloadType
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return SenderInfo{}, ErrNodeClosed
	}
	if _, exists := n.senders[cfg.ID]; exists {
		return SenderInfo{}, fmt.Errorf("%w: %s", ErrSenderExists, cfg.ID)
	}

	session, err := rtp.NewSession(cfg.PayloadType)
	if err != nil {
		return SenderInfo{}, fmt.Errorf("sender %s: %w", cfg.ID, err)
	}

	tr, err := n.listen(net.JoinHostPort("0.0.0.0", "0"), transport.Options{
		MulticastTTL:      n.options.MulticastTTL,
		MulticastLoopback: n.options.MulticastLoopback,
		Interface:         n.iface,
	})
	if err != nil {
		return SenderInfo{}, fmt.Errorf("sender %s: %w", cfg.ID, err)
	}

	dest := &net.UDPAddr{IP: destIP, Port: cfg.Port}
	sender, err := rtp.NewSender(tr, dest, cfg.Format, session)
	if err != nil {
		_ = tr.Close()
		return SenderInfo{}, fmt.Errorf("sender %s: %w", cfg.ID, err)
	}

	desc := stream.Descriptor{
		ID:            strconv.FormatUint(uint64(session.SSRC()), 10),
		Name:          cfg.Name,
		Description:   cfg.Description,
		SourceIP:      cfg.SourceIP,
		DestIP:        destIP.String(),
		Port:          cfg.Port,
		PayloadType:   cfg.PayloadType,
		Channels:      cfg.Format.Channels,
		SampleRate:    cfg.Format.SampleRate,
		Encoding:      cfg.Format.Encoding,
		PTimeMs:       cfg.Format.PTimeMs,
		MediaClockRef: cfg.MediaClockRef,
		IsMulticast:   stream.IsMulticastIPv4(destIP.String()),
		Status:        stream.StatusActive,
	}

	sdpText, err := sap.BuildSDP(desc, uint64(session.SSRC()), 1)
	if err == nil {
		err = n.discovery.Announce(cfg.ID, sdpText, cfg.SourceIP)
	}
	if err != nil {
		_ = sender.Close()
		return SenderInfo{}, fmt.Errorf("sender %s: %w", cfg.ID, err)
	}
	desc.SDP = sdpText

	ls := &localSender{
		id:         cfg.ID,
		descriptor: desc,
		sender:     sender,
		createdAt:  n.timeProvider.Now(),
	}
	n.senders[cfg.ID] = ls

	logrus.WithFields(logrus.Fields{
		"function": "Node.AddSender",
		"id":       cfg.ID,
		"dest":     dest.String(),
		"format":   cfg.Format.String(),
		"ssrc":     session.SSRC(),
	}).Info("Local sender added")

	return ls.info(), nil
}

// RemoveSender withdraws the sender's announcement and closes its socket.
func (n *Node) RemoveSender(id string) error {
	n.mu.Lock()
	ls, ok := n.senders[id]
	delete(n.senders, id)
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSenderNotFound, id)
	}

	if err := n.discovery.Withdraw(id); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Node.RemoveSender",
			"id":       id,
			"error":    err.Error(),
		}).Warn("Failed to withdraw sender announcement")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Node.RemoveSender",
		"id":       id,
	}).Info("Local sender removed")

	return ls.sender.Close()
}

// Send packetizes pcm and transmits it on the sender's stream.
func (n *Node) Send(id string, pcm []byte) error {
	n.mu.RLock()
	ls, ok := n.senders[id]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSenderNotFound, id)
	}
	return ls.sender.Send(pcm)
}

// Sender returns a snapshot of one sender.
func (n *Node) Sender(id string) (SenderInfo, error) {
	n.mu.RLock()
	ls, ok := n.senders[id]
	n.mu.RUnlock()
	if !ok {
		return SenderInfo{}, fmt.Errorf("%w: %s", ErrSenderNotFound, id)
	}
	return ls.info(), nil
}

// Senders returns snapshots of all senders sorted by ID.
func (n *Node) Senders() []SenderInfo {
	n.mu.RLock()
	out := make([]SenderInfo, 0, len(n.senders))
	for _, ls := range n.senders {
		out = append(out, ls.info())
	}
	n.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LocalIPv4 returns the first non-loopback IPv4 address of iface, or of
// any interface when iface is nil.
func LocalIPv4(iface *net.Interface) (string, error) {
	var addrs []net.Addr
	var err error
	if iface != nil {
		addrs, err = iface.Addrs()
	} else {
		addrs, err = net.InterfaceAddrs()
	}
	if err != nil {
		return "", fmt.Errorf("failed to list addresses: %w", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4.String(), nil
		}
	}
	return "", ErrNoIPv4Address
}
