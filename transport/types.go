package transport

import (
	"net"
)

// PacketHandler processes one inbound datagram. The data slice is only valid
// for the duration of the call; handlers that keep it must copy it.
type PacketHandler func(data []byte, addr net.Addr)

// Transport defines the datagram socket used by discovery, subscriptions and
// senders. It allows a simulated implementation to stand in for real UDP in
// tests.
type Transport interface {
	// Send sends a datagram to the specified address.
	Send(data []byte, addr net.Addr) error

	// Close shuts down the transport. It is idempotent.
	Close() error

	// LocalAddr returns the local address the transport is bound to.
	LocalAddr() net.Addr

	// RegisterHandler sets the handler for inbound datagrams.
	RegisterHandler(handler PacketHandler)

	// JoinGroup joins an IPv4 multicast group.
	JoinGroup(group net.IP) error

	// LeaveGroup leaves a previously joined multicast group.
	LeaveGroup(group net.IP) error

	// Stats returns a snapshot of the socket counters.
	Stats() Stats
}

// Options configures a socket before it is bound.
type Options struct {
	// ReuseAddr lets several sockets on the host bind the same port, which
	// SAP listeners and multicast receivers on a shared RTP port need.
	ReuseAddr bool
	// Broadcast enables SO_BROADCAST.
	Broadcast bool
	// MulticastTTL sets the IP TTL for outgoing multicast; zero keeps the
	// system default.
	MulticastTTL int
	// MulticastLoopback delivers our own multicast back to local listeners.
	MulticastLoopback bool
	// Interface selects the interface for group membership and outgoing
	// multicast; nil lets the system choose.
	Interface *net.Interface
	// FilterGroups drops multicast datagrams addressed to a group this
	// socket has not joined. Without it the kernel hands a socket bound to
	// the wildcard address every group any socket on the host joined on
	// that port. Unicast and broadcast datagrams are always accepted.
	FilterGroups bool
}

// ListenFunc binds a new transport. Components take one so tests can inject a
// simulated network.
type ListenFunc func(listenAddr string, opts Options) (Transport, error)

// Stats holds per-socket counters.
type Stats struct {
	PacketsReceived uint64
	BytesReceived   uint64
	PacketsSent     uint64
	BytesSent       uint64
	ReadErrors      uint64
	// PacketsFiltered counts multicast datagrams dropped by FilterGroups.
	PacketsFiltered uint64
	SendErrors      uint64
	LastError       string
}
