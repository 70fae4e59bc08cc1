package aes67

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/opd-ai/aes67/discovery"
	"github.com/opd-ai/aes67/sap"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/transport"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultRTPPort is the conventional AES67 RTP port
	DefaultRTPPort = 5004
	// DefaultStatsInterval is how often OnStatus fires
	DefaultStatsInterval = 5 * time.Second
)

// Options contains configuration options for creating a Node.
type Options struct {
	SAPListenAddr     string        `yaml:"sap_listen_addr"`
	SAPGroups         []string      `yaml:"sap_groups"`
	AnnounceInterval  time.Duration `yaml:"announce_interval"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	StreamTTL         time.Duration `yaml:"stream_ttl"`
	MulticastTTL      int           `yaml:"multicast_ttl"`
	MulticastLoopback bool          `yaml:"multicast_loopback"`
	InterfaceName     string        `yaml:"interface"`
	RTPPort           int           `yaml:"rtp_port"`
	PayloadType       uint8         `yaml:"payload_type"`
	StatsInterval     time.Duration `yaml:"stats_interval"`

	// Listen binds every socket the node opens; nil uses real UDP.
	Listen transport.ListenFunc `yaml:"-"`
	// TimeProvider drives stream expiry; nil uses the wall clock.
	TimeProvider stream.TimeProvider `yaml:"-"`
}

// NewOptions returns Options with the AES67 defaults.
func NewOptions() *Options {
	return &Options{
		SAPListenAddr:     net.JoinHostPort("0.0.0.0", strconv.Itoa(sap.DefaultPort)),
		SAPGroups:         append([]string(nil), discovery.DefaultGroups...),
		AnnounceInterval:  discovery.DefaultAnnounceInterval,
		SweepInterval:     discovery.DefaultSweepInterval,
		StreamTTL:         stream.DefaultTTL,
		MulticastTTL:      discovery.DefaultMulticastTTL,
		MulticastLoopback: true,
		RTPPort:           DefaultRTPPort,
		PayloadType:       sap.DefaultPayloadType,
		StatsInterval:     DefaultStatsInterval,
	}
}

// LoadOptions reads a YAML file over the defaults. Keys missing from the
// file keep their default values.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	opts := NewOptions()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return opts, nil
}

// Validate checks option ranges.
func (o *Options) Validate() error {
	if _, _, err := net.SplitHostPort(o.SAPListenAddr); err != nil {
		return fmt.Errorf("sap_listen_addr: %w", err)
	}
	for _, g := range o.SAPGroups {
		ip := net.ParseIP(g)
		if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
			return fmt.Errorf("sap_groups: %q is not an IPv4 multicast address", g)
		}
	}
	if o.AnnounceInterval <= 0 || o.SweepInterval <= 0 || o.StreamTTL <= 0 || o.StatsInterval <= 0 {
		return fmt.Errorf("intervals and stream_ttl must be positive")
	}
	if o.MulticastTTL < 1 || o.MulticastTTL > 255 {
		return fmt.Errorf("multicast_ttl must be in [1, 255], got %d", o.MulticastTTL)
	}
	if o.RTPPort < 1 || o.RTPPort > 65535 {
		return fmt.Errorf("rtp_port must be in [1, 65535], got %d", o.RTPPort)
	}
	if o.PayloadType < 96 || o.PayloadType > 127 {
		return fmt.Errorf("payload_type must be dynamic (96-127), got %d", o.PayloadType)
	}
	return nil
}

// Interface resolves InterfaceName; an empty name returns nil.
func (o *Options) Interface() (*net.Interface, error) {
	if o.InterfaceName == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(o.InterfaceName)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", o.InterfaceName, err)
	}
	return iface, nil
}
