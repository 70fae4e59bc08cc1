package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/aes67/limits"
	"github.com/opd-ai/aes67/sap"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of an Engine.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateError    State = "error"
)

// ErrUnknownAnnouncement indicates a Withdraw for an ID never announced.
var ErrUnknownAnnouncement = errors.New("unknown announcement")

// Stats counts what the engine has seen and sent.
type Stats struct {
	PacketsReceived   uint64
	MalformedDropped  uint64
	OpaqueDropped     uint64
	UnparsableSDP     uint64
	QueueDropped      uint64
	DescriptorsStored uint64
	AnnouncementsSent uint64
	DeletesSent       uint64
	SendErrors        uint64
	StreamsExpired    uint64
}

// Announcement is a local session description announced by the engine.
type Announcement struct {
	ID       string
	SDP      string
	SourceIP string
	packet   []byte
}

type datagram struct {
	data []byte
	addr net.Addr
}

// Engine is the SAP discovery engine. All methods are safe for concurrent
// use.
type Engine struct {
	registry *stream.Registry
	cfg      Config

	// lifecycle serializes Start and Stop so a Stop issued while Start is
	// binding takes effect once Start finishes.
	lifecycle sync.Mutex

	mu            sync.RWMutex
	state         State
	lastErr       error
	transport     transport.Transport
	dest          *net.UDPAddr
	announcements map[string]*Announcement
	stats         Stats
	cancel        context.CancelFunc
	group         *errgroup.Group
	queue         chan datagram
}

// New creates a stopped engine that stores discovered streams in registry.
func New(registry *stream.Registry, cfg Config) *Engine {
	return &Engine{
		registry:      registry,
		cfg:           cfg.withDefaults(),
		state:         StateStopped,
		announcements: make(map[string]*Announcement),
	}
}

// Start binds the SAP socket, joins the groups and starts the loops. It is
// a no-op when the engine is already running.
func (e *Engine) Start() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.state == StateRunning || e.state == StateStarting {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStarting
	e.mu.Unlock()

	dest, err := e.cfg.announceAddr()
	if err != nil {
		return e.fail(fmt.Errorf("invalid listen address %q: %w", e.cfg.ListenAddr, err))
	}

	tr, err := e.cfg.Listen(e.cfg.ListenAddr, transport.Options{
		ReuseAddr:         true,
		Broadcast:         true,
		MulticastTTL:      e.cfg.MulticastTTL,
		MulticastLoopback: e.cfg.Loopback,
		Interface:         e.cfg.Interface,
	})
	if err != nil {
		return e.fail(fmt.Errorf("failed to bind SAP socket: %w", err))
	}

	for _, g := range e.cfg.Groups {
		group := net.ParseIP(g)
		if group == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.Start",
				"group":    g,
			}).Warn("Ignoring invalid SAP group address")
			continue
		}
		if err := tr.JoinGroup(group); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.Start",
				"group":    g,
				"error":    err.Error(),
			}).Warn("Failed to join SAP multicast group")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan datagram, receiveQueueSize)

	e.mu.Lock()
	e.transport = tr
	e.dest = dest
	e.cancel = cancel
	e.group = g
	e.queue = queue
	e.lastErr = nil
	e.state = StateRunning
	e.mu.Unlock()

	tr.RegisterHandler(func(data []byte, addr net.Addr) {
		e.enqueue(gctx, queue, data, addr)
	})

	g.Go(func() error { return e.receiveLoop(gctx, queue) })
	g.Go(func() error { return e.announceLoop(gctx) })
	g.Go(func() error { return e.sweepLoop(gctx) })

	logrus.WithFields(logrus.Fields{
		"function":    "Engine.Start",
		"listen_addr": tr.LocalAddr().String(),
		"groups":      e.cfg.Groups,
	}).Info("SAP discovery started")

	return nil
}

func (e *Engine) fail(err error) error {
	e.mu.Lock()
	e.state = StateError
	e.lastErr = err
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Engine.Start",
		"error":    err.Error(),
	}).Error("SAP discovery failed to start")
	return err
}

// Stop cancels the loops, closes the socket and waits for everything to
// exit. It is idempotent and safe on an engine that never started. A Stop
// issued during Start waits for it and then stops the engine.
func (e *Engine) Stop() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil
	}
	tr, cancel, g := e.transport, e.cancel, e.group
	e.transport = nil
	e.cancel = nil
	e.group = nil
	e.state = StateStopped
	e.mu.Unlock()

	cancel()
	closeErr := tr.Close()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Stop",
			"error":    err.Error(),
		}).Warn("Discovery loop exited with error")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Engine.Stop",
	}).Info("SAP discovery stopped")

	return closeErr
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsRunning reports whether the engine is running.
func (e *Engine) IsRunning() bool {
	return e.State() == StateRunning
}

// LastError returns the error that put the engine in StateError.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// LocalAddr returns the bound SAP address, or nil when not running.
func (e *Engine) LocalAddr() net.Addr {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.transport == nil {
		return nil
	}
	return e.transport.LocalAddr()
}

// Announce registers a local session description. It is sent on every
// announce tick, and immediately when the engine is running. Announcing an
// existing ID replaces its description.
func (e *Engine) Announce(id, sdpText, sourceIP string) error {
	packet, err := sap.Encode(sdpText, sourceIP, sap.MessageAnnounce)
	if err != nil {
		return fmt.Errorf("failed to encode announcement %s: %w", id, err)
	}
	if err := limits.ValidateSAPPacket(packet); err != nil {
		return fmt.Errorf("announcement %s: %w", id, err)
	}
	a := &Announcement{ID: id, SDP: sdpText, SourceIP: sourceIP, packet: packet}

	e.mu.Lock()
	e.announcements[id] = a
	running := e.state == StateRunning
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Engine.Announce",
		"id":        id,
		"source_ip": sourceIP,
	}).Info("Local stream announcement registered")

	if running {
		_ = e.send(a.packet, false)
	}
	return nil
}

// Withdraw removes a local announcement and sends one SAP delete for it
// when the engine is running.
func (e *Engine) Withdraw(id string) error {
	e.mu.Lock()
	a, ok := e.announcements[id]
	delete(e.announcements, id)
	running := e.state == StateRunning
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAnnouncement, id)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Engine.Withdraw",
		"id":       id,
	}).Info("Local stream announcement withdrawn")

	if !running {
		return nil
	}
	packet, err := sap.Encode(a.SDP, a.SourceIP, sap.MessageDelete)
	if err != nil {
		return fmt.Errorf("failed to encode delete for %s: %w", id, err)
	}
	return e.send(packet, true)
}

// Announcements returns the local announcements sorted by ID.
func (e *Engine) Announcements() []Announcement {
	e.mu.RLock()
	out := make([]Announcement, 0, len(e.announcements))
	for _, a := range e.announcements {
		out = append(out, Announcement{ID: a.ID, SDP: a.SDP, SourceIP: a.SourceIP})
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AnnounceAll sends every local announcement once.
func (e *Engine) AnnounceAll() {
	e.mu.RLock()
	packets := make([][]byte, 0, len(e.announcements))
	for _, a := range e.announcements {
		packets = append(packets, a.packet)
	}
	e.mu.RUnlock()

	for _, p := range packets {
		_ = e.send(p, false)
	}
}

// Sweep expires silent streams from the registry.
func (e *Engine) Sweep() []stream.Descriptor {
	expired := e.registry.Sweep(e.cfg.TimeProvider.Now())
	if len(expired) > 0 {
		e.mu.Lock()
		e.stats.StreamsExpired += uint64(len(expired))
		e.mu.Unlock()
	}
	return expired
}

// send writes one SAP packet to the announce group. The socket is used
// without holding the engine lock because a simulated or looped-back send
// may deliver to our own handler.
func (e *Engine) send(packet []byte, isDelete bool) error {
	e.mu.RLock()
	tr, dest := e.transport, e.dest
	e.mu.RUnlock()
	if tr == nil {
		return transport.ErrClosed
	}

	err := tr.Send(packet, dest)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.stats.SendErrors++
		logrus.WithFields(logrus.Fields{
			"function": "Engine.send",
			"dest":     dest.String(),
			"error":    err.Error(),
		}).Warn("Failed to send SAP packet")
		return err
	}
	if isDelete {
		e.stats.DeletesSent++
	} else {
		e.stats.AnnouncementsSent++
	}
	return nil
}

// enqueue runs on the socket goroutine and hands datagrams to the receive
// loop. A full queue drops the datagram.
func (e *Engine) enqueue(ctx context.Context, queue chan<- datagram, data []byte, addr net.Addr) {
	d := datagram{data: append([]byte(nil), data...), addr: addr}
	select {
	case queue <- d:
	case <-ctx.Done():
	default:
		e.mu.Lock()
		e.stats.QueueDropped++
		e.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Engine.enqueue",
		}).Debug("SAP receive queue full, dropping datagram")
	}
}

func (e *Engine) receiveLoop(ctx context.Context, queue <-chan datagram) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-queue:
			e.handleDatagram(d.data, d.addr)
		}
	}
}

func (e *Engine) announceLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.AnnounceInterval)
	defer ticker.Stop()

	e.AnnounceAll()

	for {
		select {
		case <-ticker.C:
			e.AnnounceAll()
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// handleDatagram decodes one SAP datagram and stores its streams.
func (e *Engine) handleDatagram(data []byte, addr net.Addr) {
	e.mu.Lock()
	e.stats.PacketsReceived++
	e.mu.Unlock()

	pkt, err := sap.Decode(data)
	if err != nil {
		e.count(func(s *Stats) { s.MalformedDropped++ })
		logrus.WithFields(logrus.Fields{
			"function": "Engine.handleDatagram",
			"source":   addrString(addr),
			"error":    err.Error(),
		}).Debug("Dropping malformed SAP packet")
		return
	}
	if pkt.Opaque() {
		e.count(func(s *Stats) { s.OpaqueDropped++ })
		logrus.WithFields(logrus.Fields{
			"function":   "Engine.handleDatagram",
			"origin":     pkt.OriginIP,
			"encrypted":  pkt.Encrypted,
			"compressed": pkt.Compressed,
		}).Debug("Dropping SAP packet with opaque payload")
		return
	}

	descriptors, err := sap.ParseDescriptors(pkt.SDP, pkt.OriginIP, e.cfg.TimeProvider.Now())
	if err != nil {
		e.count(func(s *Stats) { s.UnparsableSDP++ })
		logrus.WithFields(logrus.Fields{
			"function": "Engine.handleDatagram",
			"origin":   pkt.OriginIP,
			"error":    err.Error(),
		}).Debug("Dropping SAP packet with unparsable SDP")
		return
	}

	status := stream.StatusActive
	if pkt.MessageType == sap.MessageDelete {
		status = stream.StatusDeleted
	}
	for _, d := range descriptors {
		d.Status = status
		e.registry.Upsert(d)
	}
	e.count(func(s *Stats) { s.DescriptorsStored += uint64(len(descriptors)) })
}

func (e *Engine) count(update func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	update(&e.stats)
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
