// Package rtp provides the RTP (RFC 3550) pieces of AES67 audio transport.
//
// It handles packet building and parsing on top of pion/rtp headers, sender
// codec state, receive-side loss accounting, the audio jitter buffer and a
// PCM sender over the transport package.
//
// # Architecture Overview
//
//   - Session: sender-side codec state (payload type, SSRC, sequence number,
//     timestamp) and packet encoding
//   - Decode: total parsing function; bad input returns ErrMalformedPacket
//   - LossTracker and Depacketizer: per-stream sequence gap accounting
//   - AudioBuffer: bounded payload queue with fixed-size reads
//   - Sender: PCM in, RTP packets out
//
// # Sending
//
//	session, err := rtp.NewSession(96)
//	if err != nil {
//	    return err
//	}
//	sender, err := rtp.NewSender(tr, dest, format, session)
//	if err != nil {
//	    return err
//	}
//	err = sender.Send(pcm) // whole frames, split into ptime packets
//
// Callers that drive a Session directly must call AdvanceTimestamp once per
// packet with the samples per channel it carried:
//
//	data, _ := session.Encode(payload, false)
//	session.AdvanceTimestamp(uint32(len(payload) / format.FrameSize()))
//
// # Receiving
//
//	dep := rtp.NewDepacketizer()
//	pkt, err := dep.ProcessPacket(datagram)
//	if err != nil {
//	    // drop; errors.Is(err, rtp.ErrMalformedPacket)
//	}
//	buffer.Append(pkt.Payload)
//	chunk, ok := buffer.Read(format.BytesForDuration(1))
//
// Loss is counted as the forward distance from the expected sequence number,
// modulo 2^16, so a late packet after a newer one counts as a long gap.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. A Session belongs to one
// sender and is never shared between streams.
package rtp
