// Package aes67 ties AES67 discovery and transport together behind one Node.
//
// A Node owns one stream registry, one SAP discovery engine, one
// subscription manager and any number of local RTP senders. Remote streams
// arrive through SAP announcements; local senders are announced the same
// way.
//
// Example:
//
//	options := aes67.NewOptions()
//	options.InterfaceName = "eth0"
//
//	node, err := aes67.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	node.OnStreamDiscovered(func(d stream.Descriptor) {
//	    fmt.Printf("found %s at %s\n", d.Name, d.Key())
//	})
//
//	if err := node.StartDiscovery(); err != nil {
//	    log.Fatal(err)
//	}
package aes67

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/aes67/discovery"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/subscription"
	"github.com/opd-ai/aes67/transport"
	"github.com/sirupsen/logrus"
)

// StreamCallback receives discovered or removed streams.
type StreamCallback func(d stream.Descriptor)

// AudioCallback receives decoded RTP payloads of subscribed streams.
type AudioCallback func(chunk subscription.AudioChunk)

// StatusCallback receives the periodic status report.
type StatusCallback func(status Status)

// Node represents an AES67 endpoint.
type Node struct {
	options       *Options
	iface         *net.Interface
	listen        transport.ListenFunc
	registry      *stream.Registry
	timeProvider  stream.TimeProvider
	discovery     *discovery.Engine
	subscriptions *subscription.Manager

	mu      sync.RWMutex
	senders map[string]*localSender
	closed  bool

	callbackMu     sync.RWMutex
	discoveredFunc StreamCallback
	removedFunc    StreamCallback
	audioFunc      AudioCallback
	statusFunc     StatusCallback

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Node. Discovery is not started; call StartDiscovery.
func New(options *Options) (*Node, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	iface, err := options.Interface()
	if err != nil {
		return nil, err
	}

	listen := options.Listen
	if listen == nil {
		listen = transport.NewUDPTransport
	}
	tp := options.TimeProvider
	if tp == nil {
		tp = stream.RealTimeProvider{}
	}

	registry := stream.NewRegistryWithTimeProvider(options.StreamTTL, tp)

	n := &Node{
		options:      options,
		iface:        iface,
		listen:       listen,
		registry:     registry,
		timeProvider: tp,
		discovery: discovery.New(registry, discovery.Config{
			ListenAddr:       options.SAPListenAddr,
			Groups:           options.SAPGroups,
			AnnounceInterval: options.AnnounceInterval,
			SweepInterval:    options.SweepInterval,
			MulticastTTL:     options.MulticastTTL,
			Loopback:         options.MulticastLoopback,
			Interface:        iface,
			Listen:           listen,
			TimeProvider:     tp,
		}),
		subscriptions: subscription.NewManager(registry, subscription.Config{
			Listen:       listen,
			Interface:    iface,
			TimeProvider: tp,
		}),
		senders: make(map[string]*localSender),
		done:    make(chan struct{}),
	}

	registry.OnStreamDiscovered(n.emitDiscovered)
	registry.OnStreamRemoved(n.emitRemoved)
	n.subscriptions.OnAudio(n.emitAudio)

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go n.statusLoop(ctx)

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"sap_addr":  options.SAPListenAddr,
		"interface": options.InterfaceName,
	}).Info("AES67 node created")

	return n, nil
}

// OnStreamDiscovered sets the callback for newly active streams.
func (n *Node) OnStreamDiscovered(callback StreamCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.discoveredFunc = callback
}

// OnStreamRemoved sets the callback for withdrawn or expired streams.
func (n *Node) OnStreamRemoved(callback StreamCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.removedFunc = callback
}

// OnAudioChunk sets the callback for received audio. It runs on the
// subscription's receive goroutine and must not block.
func (n *Node) OnAudioChunk(callback AudioCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.audioFunc = callback
}

// OnStatus sets the callback for the periodic status report.
func (n *Node) OnStatus(callback StatusCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.statusFunc = callback
}

func (n *Node) emitDiscovered(d stream.Descriptor) {
	n.callbackMu.RLock()
	cb := n.discoveredFunc
	n.callbackMu.RUnlock()
	if cb != nil {
		cb(d)
	}
}

func (n *Node) emitRemoved(d stream.Descriptor) {
	n.callbackMu.RLock()
	cb := n.removedFunc
	n.callbackMu.RUnlock()
	if cb != nil {
		cb(d)
	}
}

func (n *Node) emitAudio(chunk subscription.AudioChunk) {
	n.callbackMu.RLock()
	cb := n.audioFunc
	n.callbackMu.RUnlock()
	if cb != nil {
		cb(chunk)
	}
}

// StartDiscovery starts the SAP engine. It is idempotent.
func (n *Node) StartDiscovery() error {
	if n.isClosed() {
		return ErrNodeClosed
	}
	return n.discovery.Start()
}

// StopDiscovery stops the SAP engine. Known streams stay in the registry
// until they expire.
func (n *Node) StopDiscovery() error {
	return n.discovery.Stop()
}

// DiscoveryState returns the state of the SAP engine.
func (n *Node) DiscoveryState() discovery.State {
	return n.discovery.State()
}

// Streams returns all known streams sorted by key.
func (n *Node) Streams() []stream.Descriptor {
	return n.registry.List()
}

// Stream returns one stream by key.
func (n *Node) Stream(key stream.Key) (stream.Descriptor, bool) {
	return n.registry.Get(key)
}

// Devices returns the devices known from their announcements.
func (n *Node) Devices() []stream.Device {
	return n.registry.ListDevices()
}

// SetDeviceName sets the display name of a device.
func (n *Node) SetDeviceName(ip, name string) bool {
	return n.registry.SetDeviceName(ip, name)
}

// Subscribe starts receiving a stream on localPort. Port 0 binds an
// ephemeral port, which only suits unicast streams sent to it; multicast
// streams need their own port.
func (n *Node) Subscribe(key stream.Key, localPort int) (subscription.Info, error) {
	if n.isClosed() {
		return subscription.Info{}, ErrNodeClosed
	}
	return n.subscriptions.Subscribe(key, localPort)
}

// Unsubscribe stops a subscription.
func (n *Node) Unsubscribe(id string) error {
	return n.subscriptions.Unsubscribe(id)
}

// Subscriptions returns all subscriptions sorted by ID.
func (n *Node) Subscriptions() []subscription.Info {
	return n.subscriptions.List()
}

// ReadAudio returns exactly size buffered bytes of a subscription, or false
// when not enough audio has arrived.
func (n *Node) ReadAudio(id string, size int) ([]byte, bool, error) {
	return n.subscriptions.Read(id, size)
}

// Close withdraws every sender, stops every subscription and discovery, and
// stops the status reports. It is idempotent.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	ids := make([]string, 0, len(n.senders))
	for id := range n.senders {
		ids = append(ids, id)
	}
	n.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := n.RemoveSender(id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.subscriptions.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := n.discovery.Stop(); err != nil {
		errs = append(errs, err)
	}

	n.cancel()
	<-n.done

	logrus.WithFields(logrus.Fields{
		"function": "Node.Close",
	}).Info("AES67 node closed")

	return errors.Join(errs...)
}

func (n *Node) isClosed() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.closed
}

func (n *Node) statusLoop(ctx context.Context) {
	defer close(n.done)

	ticker := time.NewTicker(n.options.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.callbackMu.RLock()
			cb := n.statusFunc
			n.callbackMu.RUnlock()
			if cb != nil {
				cb(n.Status())
			}
		case <-ctx.Done():
			return
		}
	}
}
