package testing

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/opd-ai/aes67/transport"
	"github.com/sirupsen/logrus"
)

// firstEphemeralPort is where automatic port assignment starts.
const firstEphemeralPort = 40000

// SimulatedNetwork is an in-memory UDP network.
type SimulatedNetwork struct {
	mu         sync.RWMutex
	localIP    net.IP
	nextPort   int
	transports map[int][]*SimulatedTransport
	failBind   map[int]bool
	failAll    bool
	failJoin   map[string]bool
}

// NewSimulatedNetwork creates an empty network whose transports report
// 127.0.0.1 as their address.
func NewSimulatedNetwork() *SimulatedNetwork {
	return &SimulatedNetwork{
		localIP:    net.IPv4(127, 0, 0, 1).To4(),
		nextPort:   firstEphemeralPort,
		transports: make(map[int][]*SimulatedTransport),
		failBind:   make(map[int]bool),
		failJoin:   make(map[string]bool),
	}
}

// SetLocalIP changes the source address of transports bound afterwards.
func (n *SimulatedNetwork) SetLocalIP(ip net.IP) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.localIP = ip.To4()
}

// FailBind makes binds on port fail. Port 0 makes every bind fail.
func (n *SimulatedNetwork) FailBind(port int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if port == 0 {
		n.failAll = true
		return
	}
	n.failBind[port] = true
}

// FailJoin makes every join of group fail.
func (n *SimulatedNetwork) FailJoin(group net.IP) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failJoin[group.String()] = true
}

// Listen binds a simulated socket. It has the transport.ListenFunc signature.
// Binding a port already in use fails unless both sockets set ReuseAddr.
func (n *SimulatedNetwork) Listen(listenAddr string, opts transport.Options) (transport.Transport, error) {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrBindFailed, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %q", transport.ErrBindFailed, portStr)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failAll || n.failBind[port] {
		return nil, fmt.Errorf("%w: simulated failure on %s", transport.ErrBindFailed, listenAddr)
	}
	if port == 0 {
		for len(n.transports[n.nextPort]) > 0 {
			n.nextPort++
		}
		port = n.nextPort
		n.nextPort++
	}
	for _, existing := range n.transports[port] {
		if !existing.opts.ReuseAddr || !opts.ReuseAddr {
			return nil, fmt.Errorf("%w: port %d in use", transport.ErrBindFailed, port)
		}
	}

	t := newSimulatedTransport(n, &net.UDPAddr{IP: n.localIP, Port: port}, opts)
	n.transports[port] = append(n.transports[port], t)

	logrus.WithFields(logrus.Fields{
		"function":   "SimulatedNetwork.Listen",
		"local_addr": t.local.String(),
	}).Debug("Simulated socket bound")

	return t, nil
}

// Transport returns the first live transport bound to port, or nil.
func (n *SimulatedNetwork) Transport(port int) *SimulatedTransport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if ts := n.transports[port]; len(ts) > 0 {
		return ts[0]
	}
	return nil
}

// BoundPorts returns how many sockets are bound to port.
func (n *SimulatedNetwork) BoundPorts(port int) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.transports[port])
}

func (n *SimulatedNetwork) joinFails(group net.IP) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.failJoin[group.String()]
}

func (n *SimulatedNetwork) unbind(t *SimulatedTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	port := t.local.Port
	list := n.transports[port]
	for i, other := range list {
		if other == t {
			n.transports[port] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(n.transports[port]) == 0 {
		delete(n.transports, port)
	}
}

// hostJoined reports whether any socket on the network joined group. Like
// the kernel, membership is per host: every socket bound to the destination
// port sees the group's traffic unless it filters by its own groups.
func (n *SimulatedNetwork) hostJoined(group net.IP) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, list := range n.transports {
		for _, t := range list {
			if t.isMember(group) {
				return true
			}
		}
	}
	return false
}

// route delivers data from src to every matching transport.
func (n *SimulatedNetwork) route(data []byte, src *SimulatedTransport, dest net.Addr) int {
	udp, ok := dest.(*net.UDPAddr)
	if !ok {
		return 0
	}
	multicast := udp.IP.IsMulticast()
	joined := multicast && n.hostJoined(udp.IP)

	n.mu.RLock()
	candidates := append([]*SimulatedTransport(nil), n.transports[udp.Port]...)
	n.mu.RUnlock()

	delivered := 0
	for _, t := range candidates {
		if multicast {
			if !joined {
				continue
			}
			if t == src && !src.opts.MulticastLoopback {
				continue
			}
			if t.opts.FilterGroups && !t.isMember(udp.IP) {
				t.countFiltered()
				continue
			}
		}
		if t.Inject(data, src.local) {
			delivered++
		}
	}
	return delivered
}
