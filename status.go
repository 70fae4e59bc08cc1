package aes67

import (
	"github.com/opd-ai/aes67/discovery"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/subscription"
)

// Status is a point-in-time summary of a Node.
type Status struct {
	Discovery      discovery.State
	DiscoveryError string
	DiscoveryStats discovery.Stats
	Streams        int
	ActiveStreams  int
	Devices        int
	Subscriptions  int
	PacketsLost    uint64
	// Degraded counts subscriptions rated poor or worse.
	Degraded       int
	Senders        int
	PacketsSent    uint64
}

// Status returns the current summary.
func (n *Node) Status() Status {
	s := Status{
		Discovery:      n.discovery.State(),
		DiscoveryStats: n.discovery.Stats(),
		Devices:        len(n.registry.ListDevices()),
	}
	if err := n.discovery.LastError(); err != nil {
		s.DiscoveryError = err.Error()
	}

	for _, d := range n.registry.List() {
		s.Streams++
		if d.Status == stream.StatusActive {
			s.ActiveStreams++
		}
	}

	for _, sub := range n.subscriptions.List() {
		s.Subscriptions++
		s.PacketsLost += sub.PacketsLost
		if sub.Quality >= subscription.QualityPoor {
			s.Degraded++
		}
	}

	for _, info := range n.Senders() {
		s.Senders++
		s.PacketsSent += info.PacketsSent
	}
	return s
}
