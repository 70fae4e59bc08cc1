package discovery

import (
	"net"
	"strconv"
	"time"

	"github.com/opd-ai/aes67/sap"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/transport"
)

const (
	// DefaultAnnounceInterval is the SAP re-announcement cadence
	DefaultAnnounceInterval = 30 * time.Second
	// DefaultSweepInterval is how often the registry is swept for expired streams
	DefaultSweepInterval = 60 * time.Second
	// DefaultMulticastTTL limits how far announcements travel
	DefaultMulticastTTL = 32

	// receiveQueueSize bounds datagrams waiting for the receive loop
	receiveQueueSize = 256
)

// DefaultGroups are the primary SAP group and the legacy group many AES67
// devices still announce on. Local announcements go to the first one.
var DefaultGroups = []string{"239.255.255.255", "239.192.0.0"}

// Config configures an Engine. Zero values select the defaults.
type Config struct {
	ListenAddr       string
	Groups           []string
	AnnounceInterval time.Duration
	SweepInterval    time.Duration
	MulticastTTL     int
	// Loopback delivers our own announcements to local listeners, this
	// engine included.
	Loopback  bool
	Interface *net.Interface

	Listen       transport.ListenFunc
	TimeProvider stream.TimeProvider
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = net.JoinHostPort("0.0.0.0", strconv.Itoa(sap.DefaultPort))
	}
	if len(c.Groups) == 0 {
		c.Groups = DefaultGroups
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = DefaultAnnounceInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MulticastTTL <= 0 {
		c.MulticastTTL = DefaultMulticastTTL
	}
	if c.Listen == nil {
		c.Listen = transport.NewUDPTransport
	}
	if c.TimeProvider == nil {
		c.TimeProvider = stream.RealTimeProvider{}
	}
	return c
}

// announceAddr returns where local announcements are sent.
func (c Config) announceAddr() (*net.UDPAddr, error) {
	_, portStr, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		port = sap.DefaultPort
	}
	return &net.UDPAddr{IP: net.ParseIP(c.Groups[0]), Port: port}, nil
}
