package testing

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/opd-ai/aes67/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	mu    sync.Mutex
	data  [][]byte
	addrs []net.Addr
}

func (r *received) handle(data []byte, addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, data)
	r.addrs = append(r.addrs, addr)
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func TestListenAssignsPorts(t *testing.T) {
	network := NewSimulatedNetwork()

	a, err := network.Listen("0.0.0.0:0", transport.Options{})
	require.NoError(t, err)
	b, err := network.Listen("0.0.0.0:0", transport.Options{})
	require.NoError(t, err)

	assert.Equal(t, firstEphemeralPort, a.LocalAddr().(*net.UDPAddr).Port)
	assert.Equal(t, firstEphemeralPort+1, b.LocalAddr().(*net.UDPAddr).Port)
}

func TestListenPortConflicts(t *testing.T) {
	network := NewSimulatedNetwork()

	_, err := network.Listen("0.0.0.0:5004", transport.Options{})
	require.NoError(t, err)
	_, err = network.Listen("0.0.0.0:5004", transport.Options{})
	assert.ErrorIs(t, err, transport.ErrBindFailed)

	_, err = network.Listen("0.0.0.0:9875", transport.Options{ReuseAddr: true})
	require.NoError(t, err)
	_, err = network.Listen("0.0.0.0:9875", transport.Options{ReuseAddr: true})
	require.NoError(t, err)
	assert.Equal(t, 2, network.BoundPorts(9875))
}

func TestFailBind(t *testing.T) {
	network := NewSimulatedNetwork()
	network.FailBind(9875)

	_, err := network.Listen("0.0.0.0:9875", transport.Options{})
	assert.ErrorIs(t, err, transport.ErrBindFailed)
	_, err = network.Listen("0.0.0.0:5004", transport.Options{})
	assert.NoError(t, err)

	network.FailBind(0)
	_, err = network.Listen("0.0.0.0:6000", transport.Options{})
	assert.ErrorIs(t, err, transport.ErrBindFailed)

	_, err = network.Listen("garbage", transport.Options{})
	assert.ErrorIs(t, err, transport.ErrBindFailed)
}

func TestUnicastRouting(t *testing.T) {
	network := NewSimulatedNetwork()
	sender, err := network.Listen("0.0.0.0:0", transport.Options{})
	require.NoError(t, err)
	receiver, err := network.Listen("0.0.0.0:5004", transport.Options{})
	require.NoError(t, err)

	var got received
	receiver.RegisterHandler(got.handle)

	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5004}
	require.NoError(t, sender.Send([]byte("hello"), dest))

	require.Equal(t, 1, got.count())
	assert.Equal(t, []byte("hello"), got.data[0])
	assert.Equal(t, sender.LocalAddr().String(), got.addrs[0].String())

	sent := sender.(*SimulatedTransport).SentPackets()
	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].Delivered)
	assert.Equal(t, uint64(1), receiver.Stats().PacketsReceived)
}

func TestMulticastRoutingRequiresHostMembership(t *testing.T) {
	network := NewSimulatedNetwork()
	group := net.ParseIP("239.69.1.10")
	dest := &net.UDPAddr{IP: group, Port: 5004}

	sender, err := network.Listen("0.0.0.0:0", transport.Options{})
	require.NoError(t, err)
	member, err := network.Listen("0.0.0.0:5004", transport.Options{ReuseAddr: true})
	require.NoError(t, err)
	outsider, err := network.Listen("0.0.0.0:5004", transport.Options{ReuseAddr: true})
	require.NoError(t, err)

	var inGroup, notInGroup received
	member.RegisterHandler(inGroup.handle)
	outsider.RegisterHandler(notInGroup.handle)

	require.NoError(t, sender.Send([]byte("audio"), dest))
	assert.Equal(t, 0, inGroup.count(), "nobody joined yet")

	// Once the host joined, every unfiltered socket on the port sees the group.
	require.NoError(t, member.JoinGroup(group))
	require.NoError(t, sender.Send([]byte("audio"), dest))
	assert.Equal(t, 1, inGroup.count())
	assert.Equal(t, 1, notInGroup.count())

	require.NoError(t, member.LeaveGroup(group))
	require.NoError(t, sender.Send([]byte("audio"), dest))
	assert.Equal(t, 1, inGroup.count())
	assert.Equal(t, 1, notInGroup.count())
}

func TestMulticastFilterGroups(t *testing.T) {
	network := NewSimulatedNetwork()
	groupA := net.ParseIP("239.69.1.10")
	groupB := net.ParseIP("239.69.1.20")
	opts := transport.Options{ReuseAddr: true, FilterGroups: true}

	sender, err := network.Listen("0.0.0.0:0", transport.Options{})
	require.NoError(t, err)
	a, err := network.Listen("0.0.0.0:5004", opts)
	require.NoError(t, err)
	b, err := network.Listen("0.0.0.0:5004", opts)
	require.NoError(t, err)
	require.NoError(t, a.JoinGroup(groupA))
	require.NoError(t, b.JoinGroup(groupB))

	var gotA, gotB received
	a.RegisterHandler(gotA.handle)
	b.RegisterHandler(gotB.handle)

	for i := 0; i < 3; i++ {
		require.NoError(t, sender.Send([]byte{byte(i)}, &net.UDPAddr{IP: groupA, Port: 5004}))
	}
	assert.Equal(t, 3, gotA.count())
	assert.Equal(t, 0, gotB.count())
	assert.Equal(t, uint64(3), b.Stats().PacketsFiltered)

	// Unicast is never filtered.
	require.NoError(t, sender.Send([]byte("u"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5004}))
	assert.Equal(t, 1, gotB.count())
}

func TestMulticastLoopback(t *testing.T) {
	network := NewSimulatedNetwork()
	group := net.ParseIP("239.255.255.255")
	dest := &net.UDPAddr{IP: group, Port: 9875}

	quiet, err := network.Listen("0.0.0.0:9875", transport.Options{ReuseAddr: true})
	require.NoError(t, err)
	looped, err := network.Listen("0.0.0.0:9875", transport.Options{ReuseAddr: true, MulticastLoopback: true})
	require.NoError(t, err)

	var quietGot, loopedGot received
	quiet.RegisterHandler(quietGot.handle)
	looped.RegisterHandler(loopedGot.handle)
	require.NoError(t, quiet.JoinGroup(group))
	require.NoError(t, looped.JoinGroup(group))

	require.NoError(t, quiet.Send([]byte("a"), dest))
	assert.Equal(t, 0, quietGot.count())
	assert.Equal(t, 1, loopedGot.count())

	require.NoError(t, looped.Send([]byte("b"), dest))
	assert.Equal(t, 1, quietGot.count())
	assert.Equal(t, 2, loopedGot.count())
}

func TestFailJoin(t *testing.T) {
	network := NewSimulatedNetwork()
	network.FailJoin(net.ParseIP("239.192.0.0"))

	tr, err := network.Listen("0.0.0.0:9875", transport.Options{})
	require.NoError(t, err)

	assert.ErrorIs(t, tr.JoinGroup(net.ParseIP("239.192.0.0")), transport.ErrJoinFailed)
	assert.NoError(t, tr.JoinGroup(net.ParseIP("239.255.255.255")))
	assert.ErrorIs(t, tr.JoinGroup(net.ParseIP("ff02::1")), transport.ErrNotIPv4)
	assert.Equal(t, []string{"239.255.255.255"}, tr.(*SimulatedTransport).Groups())
}

func TestCloseUnbinds(t *testing.T) {
	network := NewSimulatedNetwork()
	tr, err := network.Listen("0.0.0.0:5004", transport.Options{})
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Zero(t, network.BoundPorts(5004))
	assert.Nil(t, network.Transport(5004))

	err = tr.Send([]byte("x"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.False(t, tr.(*SimulatedTransport).Inject([]byte("x"), nil))

	_, err = network.Listen("0.0.0.0:5004", transport.Options{})
	assert.NoError(t, err)
}

func TestSendError(t *testing.T) {
	tr := NewSimulatedTransport(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5004})
	sendErr := errors.New("no route to host")
	tr.SetSendError(sendErr)

	err := tr.Send([]byte("x"), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5004})
	assert.ErrorIs(t, err, sendErr)
	assert.Empty(t, tr.SentPackets())
	assert.Equal(t, uint64(1), tr.Stats().SendErrors)

	tr.SetSendError(nil)
	require.NoError(t, tr.Send([]byte("x"), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5004}))
	assert.Len(t, tr.SentPackets(), 1)
	tr.ClearSent()
	assert.Empty(t, tr.SentPackets())
}

func TestInjectCopiesData(t *testing.T) {
	tr := NewSimulatedTransport(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5004})
	var got received
	tr.RegisterHandler(got.handle)

	data := []byte{1, 2, 3}
	require.True(t, tr.Inject(data, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 9}))
	data[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, got.data[0])
}
