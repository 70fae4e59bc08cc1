package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/aes67/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// readTimeout bounds each blocking read so the loop can observe shutdown.
const readTimeout = 100 * time.Millisecond

// UDPTransport implements a UDP socket with IPv4 multicast membership.
// It satisfies the Transport interface.
type UDPTransport struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	iface   *net.Interface
	handler PacketHandler
	groups  map[string]net.IP
	filter  bool
	stats   Stats
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

// NewUDPTransport binds a UDP socket on listenAddr and starts its receive
// loop. Bind failures wrap ErrBindFailed.
func NewUDPTransport(listenAddr string, opts Options) (Transport, error) {
	lc := net.ListenConfig{Control: controlFunc(opts)}
	pc, err := lc.ListenPacket(context.Background(), "udp4", listenAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "NewUDPTransport",
			"listen_addr": listenAddr,
			"error":       err.Error(),
		}).Error("Failed to bind UDP socket")
		return nil, newOpError("listen", listenAddr, fmt.Errorf("%w: %v", ErrBindFailed, err))
	}

	conn := pc.(*net.UDPConn)
	pconn := ipv4.NewPacketConn(conn)

	if opts.MulticastTTL > 0 {
		if err := pconn.SetMulticastTTL(opts.MulticastTTL); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewUDPTransport",
				"ttl":      opts.MulticastTTL,
				"error":    err.Error(),
			}).Warn("Failed to set multicast TTL")
		}
	}
	if err := pconn.SetMulticastLoopback(opts.MulticastLoopback); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewUDPTransport",
			"error":    err.Error(),
		}).Debug("Failed to set multicast loopback")
	}
	if opts.Interface != nil {
		if err := pconn.SetMulticastInterface(opts.Interface); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "NewUDPTransport",
				"interface": opts.Interface.Name,
				"error":     err.Error(),
			}).Warn("Failed to set multicast interface")
		}
	}

	filter := false
	if opts.FilterGroups {
		if err := pconn.SetControlMessage(ipv4.FlagDst, true); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewUDPTransport",
				"error":    err.Error(),
			}).Warn("Destination control messages unavailable, group filtering disabled")
		} else {
			filter = true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:   conn,
		pconn:  pconn,
		iface:  opts.Interface,
		groups: make(map[string]net.IP),
		filter: filter,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go t.processPackets()

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPTransport",
		"local_addr": conn.LocalAddr().String(),
		"reuse_addr": opts.ReuseAddr,
		"filter":     filter,
	}).Debug("UDP socket bound")

	return t, nil
}

// RegisterHandler sets the handler for inbound datagrams.
func (t *UDPTransport) RegisterHandler(handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handler = handler
}

// Send sends a datagram to the specified address.
func (t *UDPTransport) Send(data []byte, addr net.Addr) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return newOpError("send", addr.String(), ErrClosed)
	}
	if err := limits.ValidatePacketSize(data, limits.MaxDatagram); err != nil {
		return newOpError("send", addr.String(), err)
	}

	n, err := t.conn.WriteTo(data, addr)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.stats.SendErrors++
		t.stats.LastError = err.Error()
		return newOpError("send", addr.String(), err)
	}
	t.stats.PacketsSent++
	t.stats.BytesSent += uint64(n)
	return nil
}

// JoinGroup joins an IPv4 multicast group on the configured interface.
func (t *UDPTransport) JoinGroup(group net.IP) error {
	ip4 := group.To4()
	if ip4 == nil {
		return newOpError("join", group.String(), fmt.Errorf("%w: %w", ErrJoinFailed, ErrNotIPv4))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return newOpError("join", group.String(), ErrClosed)
	}
	if _, ok := t.groups[ip4.String()]; ok {
		return nil
	}

	if err := t.pconn.JoinGroup(t.iface, &net.UDPAddr{IP: ip4}); err != nil {
		return newOpError("join", ip4.String(), fmt.Errorf("%w: %v", ErrJoinFailed, err))
	}
	t.groups[ip4.String()] = ip4

	logrus.WithFields(logrus.Fields{
		"function":   "UDPTransport.JoinGroup",
		"group":      ip4.String(),
		"local_addr": t.conn.LocalAddr().String(),
	}).Debug("Joined multicast group")

	return nil
}

// LeaveGroup leaves a multicast group. Leaving a group that was never joined
// is a no-op.
func (t *UDPTransport) LeaveGroup(group net.IP) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ip4 := group.To4()
	if ip4 == nil {
		return nil
	}
	if _, ok := t.groups[ip4.String()]; !ok {
		return nil
	}
	delete(t.groups, ip4.String())

	if t.closed {
		return nil
	}
	if err := t.pconn.LeaveGroup(t.iface, &net.UDPAddr{IP: ip4}); err != nil {
		return newOpError("leave", ip4.String(), err)
	}
	return nil
}

// Close shuts down the transport and waits for the receive loop to exit.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for key, ip := range t.groups {
		_ = t.pconn.LeaveGroup(t.iface, &net.UDPAddr{IP: ip})
		delete(t.groups, key)
	}
	t.mu.Unlock()

	t.cancel()
	err := t.conn.Close()
	<-t.done
	return err
}

// LocalAddr returns the local address the transport is bound to.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Stats returns a snapshot of the socket counters.
func (t *UDPTransport) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// processPackets handles incoming datagrams until the transport is closed.
func (t *UDPTransport) processPackets() {
	defer close(t.done)
	buffer := make([]byte, limits.MaxDatagram)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		data, addr, accepted, err := t.readPacketData(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		if !accepted {
			continue
		}

		t.dispatchPacketToHandler(data, addr)
	}
}

// readPacketData reads one datagram with a deadline. accepted is false when
// group filtering drops the datagram.
func (t *UDPTransport) readPacketData(buffer []byte) ([]byte, net.Addr, bool, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readTimeout))

	var (
		n    int
		addr net.Addr
		dst  net.IP
		err  error
	)
	if t.filter {
		var cm *ipv4.ControlMessage
		n, cm, addr, err = t.pconn.ReadFrom(buffer)
		if cm != nil {
			dst = cm.Dst
		}
	} else {
		n, addr, err = t.conn.ReadFrom(buffer)
	}
	if err != nil {
		return nil, nil, false, t.handleReadError(err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.PacketsReceived++
	t.stats.BytesReceived += uint64(n)

	if dst != nil && dst.IsMulticast() {
		if _, joined := t.groups[dst.To4().String()]; !joined {
			t.stats.PacketsFiltered++
			return nil, nil, false, nil
		}
	}
	return buffer[:n], addr, true, nil
}

// handleReadError records read errors other than deadline expiry.
func (t *UDPTransport) handleReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return err
	}
	if errors.Is(err, net.ErrClosed) {
		return err
	}

	t.mu.Lock()
	t.stats.ReadErrors++
	t.stats.LastError = err.Error()
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "UDPTransport.handleReadError",
		"local_addr": t.conn.LocalAddr().String(),
		"error":      err.Error(),
	}).Debug("UDP read error")
	return err
}

// dispatchPacketToHandler runs the handler on the receive goroutine so
// datagrams reach it in arrival order.
func (t *UDPTransport) dispatchPacketToHandler(data []byte, addr net.Addr) {
	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()

	if handler != nil {
		handler(data, addr)
	}
}
