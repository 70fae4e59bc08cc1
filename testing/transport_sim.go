package testing

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/aes67/transport"
	"github.com/sirupsen/logrus"
)

// SentPacket is one datagram recorded by a SimulatedTransport.
type SentPacket struct {
	Data      []byte
	Addr      net.Addr
	Timestamp time.Time
	Delivered int
}

// SimulatedTransport implements transport.Transport in memory.
type SimulatedTransport struct {
	mu      sync.RWMutex
	network *SimulatedNetwork
	local   *net.UDPAddr
	opts    transport.Options
	handler transport.PacketHandler
	groups  map[string]bool
	sent    []SentPacket
	sendErr error
	stats   transport.Stats
	closed  bool
}

// NewSimulatedTransport creates a transport that is not attached to any
// network. Sends are only logged.
func NewSimulatedTransport(local *net.UDPAddr) *SimulatedTransport {
	return newSimulatedTransport(nil, local, transport.Options{})
}

func newSimulatedTransport(network *SimulatedNetwork, local *net.UDPAddr, opts transport.Options) *SimulatedTransport {
	return &SimulatedTransport{
		network: network,
		local:   local,
		opts:    opts,
		groups:  make(map[string]bool),
	}
}

// Send logs data and routes it through the network.
func (t *SimulatedTransport) Send(data []byte, addr net.Addr) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("send %s: %w", addr, transport.ErrClosed)
	}
	if t.sendErr != nil {
		t.stats.SendErrors++
		t.stats.LastError = t.sendErr.Error()
		err := t.sendErr
		t.mu.Unlock()
		return err
	}
	t.stats.PacketsSent++
	t.stats.BytesSent += uint64(len(data))
	index := len(t.sent)
	t.sent = append(t.sent, SentPacket{
		Data:      append([]byte(nil), data...),
		Addr:      addr,
		Timestamp: time.Now(),
	})
	network := t.network
	t.mu.Unlock()

	if network == nil {
		return nil
	}
	delivered := network.route(data, t, addr)

	t.mu.Lock()
	if index < len(t.sent) {
		t.sent[index].Delivered = delivered
	}
	t.mu.Unlock()
	return nil
}

// Inject delivers data to the registered handler as if it arrived from
// from. It returns false when the transport is closed or has no handler.
func (t *SimulatedTransport) Inject(data []byte, from net.Addr) bool {
	t.mu.Lock()
	if t.closed || t.handler == nil {
		t.mu.Unlock()
		return false
	}
	t.stats.PacketsReceived++
	t.stats.BytesReceived += uint64(len(data))
	handler := t.handler
	t.mu.Unlock()

	handler(append([]byte(nil), data...), from)
	return true
}

// Close detaches the transport from its network. It is idempotent.
func (t *SimulatedTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.groups = make(map[string]bool)
	network := t.network
	t.mu.Unlock()

	if network != nil {
		network.unbind(t)
	}
	return nil
}

// LocalAddr returns the simulated bound address.
func (t *SimulatedTransport) LocalAddr() net.Addr {
	return t.local
}

// RegisterHandler sets the inbound datagram handler.
func (t *SimulatedTransport) RegisterHandler(handler transport.PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// JoinGroup records membership of group.
func (t *SimulatedTransport) JoinGroup(group net.IP) error {
	if group.To4() == nil {
		return fmt.Errorf("join %s: %w: %w", group, transport.ErrJoinFailed, transport.ErrNotIPv4)
	}
	if t.network != nil && t.network.joinFails(group) {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedTransport.JoinGroup",
			"group":    group.String(),
		}).Debug("Simulated join failure")
		return fmt.Errorf("join %s: %w: simulated failure", group, transport.ErrJoinFailed)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("join %s: %w", group, transport.ErrClosed)
	}
	t.groups[group.To4().String()] = true
	return nil
}

// LeaveGroup drops membership of group.
func (t *SimulatedTransport) LeaveGroup(group net.IP) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ip4 := group.To4(); ip4 != nil {
		delete(t.groups, ip4.String())
	}
	return nil
}

// Stats returns the transport counters.
func (t *SimulatedTransport) Stats() transport.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Groups returns the joined groups in sorted order.
func (t *SimulatedTransport) Groups() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.groups))
	for g := range t.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Options returns the options the transport was bound with.
func (t *SimulatedTransport) Options() transport.Options {
	return t.opts
}

// SentPackets returns a copy of the send log.
func (t *SimulatedTransport) SentPackets() []SentPacket {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]SentPacket(nil), t.sent...)
}

// ClearSent empties the send log.
func (t *SimulatedTransport) ClearSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// SetSendError makes every following Send return err. Pass nil to restore.
func (t *SimulatedTransport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// IsClosed reports whether Close has been called.
func (t *SimulatedTransport) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func (t *SimulatedTransport) countFiltered() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.PacketsFiltered++
}

func (t *SimulatedTransport) isMember(group net.IP) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ip4 := group.To4()
	return ip4 != nil && t.groups[ip4.String()]
}

var _ transport.Transport = (*SimulatedTransport)(nil)
