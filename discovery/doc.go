// Package discovery implements the SAP listener and announcer.
//
// An Engine binds the well-known SAP port, joins the SAP multicast groups and
// runs three loops under one errgroup: a receive loop that feeds inbound
// announcements through the SAP and SDP codecs into a stream.Registry, an
// announce loop that re-sends every local announcement on a fixed cadence,
// and a sweep loop that expires silent streams.
//
//	registry := stream.NewRegistry()
//	engine := discovery.New(registry, discovery.Config{})
//	if err := engine.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// Nothing is retried automatically. A bind failure leaves the engine in
// StateError until Start is called again; failed group joins and sends are
// logged and counted.
package discovery
