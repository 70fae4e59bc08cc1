package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/aes67/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPTransportLoopback(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer tr.Close()

	var mu sync.Mutex
	var received [][]byte
	tr.RegisterHandler(func(data []byte, addr net.Addr) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, append([]byte(nil), data...))
	})

	require.NoError(t, tr.Send([]byte("hello"), tr.LocalAddr()))
	require.NoError(t, tr.Send([]byte("world"), tr.LocalAddr()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []byte("hello"), received[0])
	assert.Equal(t, []byte("world"), received[1])
	mu.Unlock()

	stats := tr.Stats()
	assert.Equal(t, uint64(2), stats.PacketsSent)
	assert.Equal(t, uint64(10), stats.BytesSent)
	assert.Equal(t, uint64(2), stats.PacketsReceived)
}

func TestUDPTransportBindFailure(t *testing.T) {
	first, err := NewUDPTransport("127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer first.Close()

	second, err := NewUDPTransport(first.LocalAddr().String(), Options{})
	require.Error(t, err)
	assert.Nil(t, second)
	assert.True(t, errors.Is(err, ErrBindFailed))

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "listen", opErr.Op)
}

func TestUDPTransportCloseIdempotent(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1:0", Options{})
	require.NoError(t, err)

	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())

	err = tr.Send([]byte("x"), tr.LocalAddr())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, tr.JoinGroup(net.IPv4(239, 1, 2, 3)), ErrClosed)
}

func TestUDPTransportJoinRejectsIPv6(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer tr.Close()

	err = tr.JoinGroup(net.ParseIP("ff02::1"))
	assert.ErrorIs(t, err, ErrJoinFailed)
	assert.ErrorIs(t, err, ErrNotIPv4)
}

func TestUDPTransportLeaveUnknownGroup(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer tr.Close()

	assert.NoError(t, tr.LeaveGroup(net.IPv4(239, 69, 1, 1)))
	assert.NoError(t, tr.LeaveGroup(net.ParseIP("ff02::1")))
}

func TestOpErrorFormatting(t *testing.T) {
	err := newOpError("send", "10.0.0.1:5004", ErrClosed)
	assert.Equal(t, "udp send 10.0.0.1:5004: transport closed", err.Error())

	err = newOpError("listen", "", ErrBindFailed)
	assert.Equal(t, "udp listen: bind failed", err.Error())
}

func TestUDPTransportRejectsInvalidSizes(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer tr.Close()

	assert.ErrorIs(t, tr.Send(nil, tr.LocalAddr()), limits.ErrPacketEmpty)
	assert.ErrorIs(t, tr.Send(make([]byte, limits.MaxDatagram+1), tr.LocalAddr()), limits.ErrPacketTooLarge)
	assert.Zero(t, tr.Stats().PacketsSent)
}

type datagramLog struct {
	mu    sync.Mutex
	count int
}

func (l *datagramLog) handle(data []byte, addr net.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
}

func (l *datagramLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func TestUDPTransportFilterGroupsAcceptsUnicast(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1:0", Options{FilterGroups: true})
	require.NoError(t, err)
	defer tr.Close()

	var got datagramLog
	tr.RegisterHandler(got.handle)
	require.NoError(t, tr.Send([]byte("unicast"), tr.LocalAddr()))

	assert.Eventually(t, func() bool { return got.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, tr.Stats().PacketsFiltered)
}

// multicastInterface returns an up, multicast-capable interface with an IPv4
// address, or nil.
func multicastInterface() *net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.To4() != nil {
				return iface
			}
		}
	}
	return nil
}

func TestUDPTransportFilterGroupsSharedPort(t *testing.T) {
	iface := multicastInterface()
	if iface == nil {
		t.Skip("no multicast-capable interface")
	}
	groupA := net.IPv4(239, 69, 1, 10)
	groupB := net.IPv4(239, 69, 1, 20)
	opts := Options{ReuseAddr: true, FilterGroups: true, Interface: iface}

	a, err := NewUDPTransport("0.0.0.0:45004", opts)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewUDPTransport("0.0.0.0:45004", opts)
	require.NoError(t, err)
	defer b.Close()

	if err := a.JoinGroup(groupA); err != nil {
		t.Skipf("multicast join unavailable: %v", err)
	}
	require.NoError(t, b.JoinGroup(groupB))

	var gotA, gotB datagramLog
	a.RegisterHandler(gotA.handle)
	b.RegisterHandler(gotB.handle)

	sender, err := NewUDPTransport("0.0.0.0:0", Options{MulticastLoopback: true, MulticastTTL: 1, Interface: iface})
	require.NoError(t, err)
	defer sender.Close()

	dest := &net.UDPAddr{IP: groupA, Port: 45004}
	for i := 0; i < 20; i++ {
		require.NoError(t, sender.Send([]byte{byte(i)}, dest))
	}

	deadline := time.Now().Add(2 * time.Second)
	for gotA.len() < 20 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if gotA.len() == 0 {
		t.Skip("multicast loopback not delivered on this host")
	}
	assert.Equal(t, 20, gotA.len())
	// Give stray deliveries to b time to arrive.
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, gotB.len(), "datagrams for another group must not reach b")
}
