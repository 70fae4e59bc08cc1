package aes67

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/aes67/av/audio"
	"github.com/opd-ai/aes67/discovery"
	"github.com/opd-ai/aes67/sap"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/subscription"
	simnet "github.com/opd-ai/aes67/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var toneFormat = stream.Format{SampleRate: 48000, Channels: 2, Encoding: stream.EncodingL24, PTimeMs: 1}

func newTestNode(t *testing.T) (*Node, *simnet.SimulatedNetwork) {
	t.Helper()
	network := simnet.NewSimulatedNetwork()
	opts := NewOptions()
	opts.Listen = network.Listen
	opts.StatsInterval = 10 * time.Millisecond

	node, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node, network
}

func toneSender() SenderConfig {
	return SenderConfig{
		ID:       "tone",
		Name:     "Test Tone",
		SourceIP: "10.0.0.5",
		DestIP:   "239.69.2.1",
		Port:     5006,
		Format:   toneFormat,
	}
}

type streamEvents struct {
	mu         sync.Mutex
	discovered []stream.Descriptor
	removed    []stream.Descriptor
}

func (e *streamEvents) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.discovered), len(e.removed)
}

func watch(node *Node) *streamEvents {
	events := &streamEvents{}
	node.OnStreamDiscovered(func(d stream.Descriptor) {
		events.mu.Lock()
		defer events.mu.Unlock()
		events.discovered = append(events.discovered, d)
	})
	node.OnStreamRemoved(func(d stream.Descriptor) {
		events.mu.Lock()
		defer events.mu.Unlock()
		events.removed = append(events.removed, d)
	})
	return events
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	opts := NewOptions()
	opts.RTPPort = 0
	_, err := New(opts)
	assert.Error(t, err)
}

func TestDiscoveryLifecycle(t *testing.T) {
	node, _ := newTestNode(t)
	assert.Equal(t, discovery.StateStopped, node.DiscoveryState())

	require.NoError(t, node.StartDiscovery())
	require.NoError(t, node.StartDiscovery())
	assert.Equal(t, discovery.StateRunning, node.DiscoveryState())

	require.NoError(t, node.StopDiscovery())
	assert.Equal(t, discovery.StateStopped, node.DiscoveryState())
}

func TestRemoteStreamDiscovered(t *testing.T) {
	node, network := newTestNode(t)
	events := watch(node)
	require.NoError(t, node.StartDiscovery())

	sdpText := "v=0\r\no=- 7 7 IN IP4 192.168.1.50\r\ns=Stage Left\r\n" +
		"c=IN IP4 239.69.1.10/32\r\nt=0 0\r\nm=audio 5004 RTP/AVP 96\r\na=rtpmap:96 L24/48000/8\r\n"
	packet, err := sap.Encode(sdpText, "192.168.1.50", sap.MessageAnnounce)
	require.NoError(t, err)
	network.Transport(sap.DefaultPort).Inject(packet, &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: 9875})

	require.Eventually(t, func() bool {
		d, _ := events.counts()
		return d == 1
	}, time.Second, 5*time.Millisecond)

	streams := node.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, "Stage Left", streams[0].Name)
	assert.Equal(t, 8, streams[0].Channels)

	devices := node.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "192.168.1.50", devices[0].DisplayName)
	assert.True(t, node.SetDeviceName("192.168.1.50", "Stage Box"))
	assert.Equal(t, "Stage Box", node.Devices()[0].DisplayName)
}

func TestSenderToSubscriberEndToEnd(t *testing.T) {
	node, _ := newTestNode(t)
	events := watch(node)
	require.NoError(t, node.StartDiscovery())

	info, err := node.AddSender(toneSender())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", info.Descriptor.SourceIP)
	assert.Equal(t, uint8(96), info.Descriptor.PayloadType)
	assert.Contains(t, info.Descriptor.SDP, "a=rtpmap:96 L24/48000/2")

	// The announcement loops back into our own registry.
	key := stream.NewKey("10.0.0.5", 5006)
	require.Eventually(t, func() bool {
		_, ok := node.Stream(key)
		return ok
	}, time.Second, 5*time.Millisecond)

	var chunks []subscription.AudioChunk
	var mu sync.Mutex
	node.OnAudioChunk(func(c subscription.AudioChunk) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, c)
	})

	sub, err := node.Subscribe(key, 5006)
	require.NoError(t, err)
	assert.True(t, sub.Multicast)

	gen, err := audio.NewToneGenerator(toneFormat, 1000, 0.5)
	require.NoError(t, err)
	pcm := gen.Next(480)
	require.NoError(t, node.Send("tone", pcm))

	mu.Lock()
	require.Len(t, chunks, 10)
	assert.Equal(t, info.SSRC, chunks[0].Header.SSRC)
	mu.Unlock()

	got, ok, err := node.ReadAudio(sub.ID, len(pcm))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pcm, got)

	sent, err := node.Sender("tone")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), sent.PacketsSent)

	require.NoError(t, node.RemoveSender("tone"))
	require.Eventually(t, func() bool {
		_, removed := events.counts()
		return removed == 1
	}, time.Second, 5*time.Millisecond)

	d, ok := node.Stream(key)
	require.True(t, ok)
	assert.Equal(t, stream.StatusDeleted, d.Status)

	require.NoError(t, node.Unsubscribe(sub.ID))
	assert.Empty(t, node.Subscriptions())
}

func TestAddSenderErrors(t *testing.T) {
	node, network := newTestNode(t)

	_, err := node.AddSender(toneSender())
	require.NoError(t, err)
	_, err = node.AddSender(toneSender())
	assert.ErrorIs(t, err, ErrSenderExists)

	cfg := toneSender()
	cfg.ID = ""
	_, err = node.AddSender(cfg)
	assert.Error(t, err)

	cfg = toneSender()
	cfg.ID = "bad-dest"
	cfg.DestIP = "not-an-ip"
	_, err = node.AddSender(cfg)
	assert.Error(t, err)

	cfg = toneSender()
	cfg.ID = "bad-format"
	cfg.Format = stream.Format{}
	_, err = node.AddSender(cfg)
	assert.Error(t, err)

	cfg = toneSender()
	cfg.ID = "bad-source"
	cfg.SourceIP = "fe80::1"
	_, err = node.AddSender(cfg)
	assert.ErrorIs(t, err, sap.ErrNotIPv4)

	network.FailBind(0)
	cfg = toneSender()
	cfg.ID = "no-socket"
	_, err = node.AddSender(cfg)
	assert.Error(t, err)

	assert.Len(t, node.Senders(), 1)
	assert.ErrorIs(t, node.RemoveSender("missing"), ErrSenderNotFound)
	assert.ErrorIs(t, node.Send("missing", make([]byte, 6)), ErrSenderNotFound)
	_, err = node.Sender("missing")
	assert.ErrorIs(t, err, ErrSenderNotFound)
}

func TestAddSenderDefaults(t *testing.T) {
	node, _ := newTestNode(t)
	cfg := toneSender()
	cfg.Port = 0
	cfg.PayloadType = 0

	info, err := node.AddSender(cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultRTPPort, info.Descriptor.Port)
	assert.Equal(t, uint8(96), info.Descriptor.PayloadType)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestAddSenderUsesTimeProvider(t *testing.T) {
	network := simnet.NewSimulatedNetwork()
	clock := fixedClock{now: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
	opts := NewOptions()
	opts.Listen = network.Listen
	opts.TimeProvider = clock

	node, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })

	info, err := node.AddSender(toneSender())
	require.NoError(t, err)
	assert.Equal(t, clock.now, info.CreatedAt)

	got, err := node.Sender("tone")
	require.NoError(t, err)
	assert.Equal(t, clock.now, got.CreatedAt)
}

func TestStatusReports(t *testing.T) {
	node, _ := newTestNode(t)
	statuses := make(chan Status, 16)
	node.OnStatus(func(s Status) {
		select {
		case statuses <- s:
		default:
		}
	})

	_, err := node.AddSender(toneSender())
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for {
		select {
		case s := <-statuses:
			if s.Senders == 0 {
				continue // reported before the sender was added
			}
			assert.Equal(t, discovery.StateStopped, s.Discovery)
			assert.Equal(t, 1, s.Senders)
			return
		case <-deadline:
			t.Fatal("no status report with the sender")
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	node, network := newTestNode(t)
	require.NoError(t, node.StartDiscovery())
	_, err := node.AddSender(toneSender())
	require.NoError(t, err)

	require.NoError(t, node.Close())
	require.NoError(t, node.Close())

	assert.Zero(t, network.BoundPorts(sap.DefaultPort))
	assert.Empty(t, node.Senders())
	assert.ErrorIs(t, node.StartDiscovery(), ErrNodeClosed)
	_, err = node.Subscribe(stream.NewKey("10.0.0.5", 5006), 5006)
	assert.ErrorIs(t, err, ErrNodeClosed)
	_, err = node.AddSender(toneSender())
	assert.ErrorIs(t, err, ErrNodeClosed)
}
