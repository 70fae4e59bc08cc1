// Package testing provides an in-memory UDP network for deterministic tests
// of the discovery, subscription and sender paths.
//
// # Overview
//
// SimulatedNetwork hands out SimulatedTransport values through its Listen
// method, which has the transport.ListenFunc signature and can therefore be
// injected anywhere a real socket would be bound. Datagrams sent on one
// simulated transport are routed synchronously to every transport bound to
// the destination port: unicast destinations always match, multicast
// destinations match only transports that joined the group.
//
// # Usage
//
//	network := testing.NewSimulatedNetwork()
//	network.FailJoin(net.ParseIP("239.192.0.0"))
//
//	engine := discovery.New(registry, discovery.Config{
//	    Listen: network.Listen,
//	})
//
//	// Inject a datagram as if it came from a remote device.
//	network.Transport(9875).Inject(packet, remoteAddr)
//
// # Send Logs
//
// Every SimulatedTransport keeps a log of the datagrams sent on it. Use
// SentPackets to inspect the log and ClearSent to reset it between steps.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Handlers run on the goroutine
// that sent or injected the datagram, with no simulation locks held.
package testing
