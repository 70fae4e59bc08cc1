// Package subscription manages RTP receive sessions for discovered streams.
//
// Each subscription owns one UDP socket bound to 0.0.0.0:<localPort>, holds
// multicast membership of the stream's destination group when it is a
// multicast stream, and feeds every valid RTP packet into a loss tracker and
// a bounded audio buffer:
//
//	mgr := subscription.NewManager(registry, subscription.Config{})
//	mgr.OnAudio(func(chunk subscription.AudioChunk) { ... })
//
//	info, err := mgr.Subscribe(key, 5004)
//	pcm, ok, err := mgr.Read(info.ID, format.BytesForDuration(10))
//
// A failed group join is logged and the subscription continues to receive
// whatever unicast traffic reaches the port.
package subscription
