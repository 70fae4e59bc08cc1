// Package transport provides the UDP socket layer shared by SAP discovery,
// RTP subscriptions and RTP senders.
//
// # Architecture
//
// Every component that touches the network owns one Transport. The core
// abstraction is:
//
//	type Transport interface {
//	    Send(data []byte, addr net.Addr) error
//	    Close() error
//	    LocalAddr() net.Addr
//	    RegisterHandler(handler PacketHandler)
//	    JoinGroup(group net.IP) error
//	    LeaveGroup(group net.IP) error
//	    Stats() Stats
//	}
//
// UDPTransport binds with net.ListenConfig so socket options can be applied
// before bind (SO_REUSEADDR, SO_REUSEPORT and SO_BROADCAST through
// golang.org/x/sys/unix), then wraps the socket in an ipv4.PacketConn from
// golang.org/x/net for group membership, multicast TTL and loopback.
//
//	tr, err := transport.NewUDPTransport("0.0.0.0:9875", transport.Options{
//	    ReuseAddr:    true,
//	    Broadcast:    true,
//	    MulticastTTL: 32,
//	})
//	if err != nil {
//	    // errors.Is(err, transport.ErrBindFailed)
//	}
//	tr.RegisterHandler(func(data []byte, addr net.Addr) { ... })
//	_ = tr.JoinGroup(net.IPv4(239, 255, 255, 255))
//
// # Receive Loop
//
// Each transport runs one goroutine that reads with a short deadline and
// calls the handler synchronously, so a handler sees datagrams in arrival
// order and never concurrently with itself. The data slice is reused by the
// next read.
//
// # Errors
//
// Bind failures wrap ErrBindFailed and join failures wrap ErrJoinFailed, both
// inside an *OpError carrying the operation and address. Runtime read and
// send errors are counted in Stats rather than retried.
package transport
