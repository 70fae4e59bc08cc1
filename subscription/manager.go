package subscription

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/opd-ai/aes67/av/rtp"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/transport"
	"github.com/sirupsen/logrus"
)

// Config holds the injectable dependencies of a Manager.
type Config struct {
	// Listen binds receive sockets; nil uses transport.NewUDPTransport.
	Listen transport.ListenFunc
	// Interface selects the interface used for group membership.
	Interface *net.Interface
	// TimeProvider stamps CreatedAt and packet arrivals; nil uses the wall
	// clock.
	TimeProvider stream.TimeProvider
	// Quality rates reception; nil uses DefaultQualityThresholds.
	Quality *QualityThresholds
}

// Manager owns the subscription table. All methods are safe for concurrent
// use.
type Manager struct {
	registry     *stream.Registry
	listen       transport.ListenFunc
	iface        *net.Interface
	timeProvider stream.TimeProvider
	quality      QualityThresholds

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	closed        bool

	cbMu    sync.RWMutex
	onAudio func(AudioChunk)
}

// NewManager creates a manager that resolves stream keys through registry.
func NewManager(registry *stream.Registry, cfg Config) *Manager {
	if cfg.Listen == nil {
		cfg.Listen = transport.NewUDPTransport
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = stream.RealTimeProvider{}
	}
	quality := DefaultQualityThresholds()
	if cfg.Quality != nil {
		quality = *cfg.Quality
	}
	return &Manager{
		registry:      registry,
		listen:        cfg.Listen,
		iface:         cfg.Interface,
		timeProvider:  cfg.TimeProvider,
		quality:       quality,
		subscriptions: make(map[string]*subscription),
	}
}

// OnAudio registers the callback that receives every valid RTP payload. It
// runs on the socket's receive goroutine and must not block.
func (m *Manager) OnAudio(callback func(AudioChunk)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onAudio = callback
}

func (m *Manager) deliver(chunk AudioChunk) {
	m.cbMu.RLock()
	callback := m.onAudio
	m.cbMu.RUnlock()
	if callback != nil {
		callback(chunk)
	}
}

// Subscribe starts receiving the stream identified by key on localPort.
// Port 0 lets the system choose; multicast streams normally need the
// stream's own port.
func (m *Manager) Subscribe(key stream.Key, localPort int) (Info, error) {
	if localPort < 0 || localPort > 65535 {
		return Info{}, fmt.Errorf("invalid local port %d", localPort)
	}

	desc, ok := m.registry.Get(key)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrStreamNotFound, key)
	}
	id := ID(key, localPort)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Info{}, ErrManagerClosed
	}
	if _, exists := m.subscriptions[id]; exists {
		return Info{}, fmt.Errorf("%w: %s", ErrAlreadySubscribed, id)
	}

	// Streams usually share one RTP port, so each socket only accepts
	// multicast for its own group.
	tr, err := m.listen(net.JoinHostPort("0.0.0.0", strconv.Itoa(localPort)), transport.Options{
		ReuseAddr:    true,
		Interface:    m.iface,
		FilterGroups: true,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Manager.Subscribe",
			"stream_key": key,
			"local_port": localPort,
			"error":      err.Error(),
		}).Error("Failed to bind subscription socket")
		return Info{}, fmt.Errorf("%w: %w", ErrBindFailed, err)
	}

	format := desc.Format()
	sub := &subscription{
		id:        id,
		key:       key,
		format:    format,
		group:     net.ParseIP(desc.DestIP),
		createdAt: m.timeProvider.Now(),
		transport: tr,
		depack:    rtp.NewDepacketizerWithClockRate(format.SampleRate),
		buffer:    rtp.NewAudioBuffer(format),
		deliver:   m.deliver,
		clock:     m.timeProvider,
		quality:   m.quality,
		localPort: localPort,
		status:    StatusActive,
	}
	if udp, ok := tr.LocalAddr().(*net.UDPAddr); ok {
		sub.localPort = udp.Port
	}

	if desc.IsMulticast && sub.group != nil {
		if err := tr.JoinGroup(sub.group); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.Subscribe",
				"group":    desc.DestIP,
				"error":    err.Error(),
			}).Warn("Failed to join multicast group, receiving unicast only")
		} else {
			sub.multicast = true
		}
	}

	tr.RegisterHandler(sub.handlePacket)
	m.subscriptions[id] = sub

	logrus.WithFields(logrus.Fields{
		"function":        "Manager.Subscribe",
		"subscription_id": id,
		"local_port":      sub.localPort,
		"multicast":       sub.multicast,
		"format":          format.String(),
	}).Info("Subscription started")

	return sub.info(), nil
}

// Unsubscribe stops the subscription, leaves its group and closes its
// socket.
func (m *Manager) Unsubscribe(id string) error {
	m.mu.Lock()
	sub, ok := m.subscriptions[id]
	if ok {
		delete(m.subscriptions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// The socket is closed outside the table lock because Close waits for
	// the receive goroutine.
	err := sub.close()

	logrus.WithFields(logrus.Fields{
		"function":        "Manager.Unsubscribe",
		"subscription_id": id,
	}).Info("Subscription stopped")

	return err
}

// Read returns exactly n buffered payload bytes, or false when fewer are
// available.
func (m *Manager) Read(id string, n int) ([]byte, bool, error) {
	sub, err := m.lookup(id)
	if err != nil {
		return nil, false, err
	}
	data, ok := sub.buffer.Read(n)
	return data, ok, nil
}

// Get returns a snapshot of one subscription.
func (m *Manager) Get(id string) (Info, error) {
	sub, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return sub.info(), nil
}

// List returns snapshots of all subscriptions sorted by ID.
func (m *Manager) List() []Info {
	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of subscriptions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Shutdown closes every subscription. Later Subscribe calls fail with
// ErrManagerClosed.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	m.closed = true
	subs := m.subscriptions
	m.subscriptions = make(map[string]*subscription)
	m.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", sub.id, err))
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Shutdown",
		"closed":   len(subs),
	}).Info("Subscription manager shut down")

	return errors.Join(errs...)
}

func (m *Manager) lookup(id string) (*subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sub, nil
}
