// Package limits provides centralized datagram size constants and validation
// functions for the SAP and RTP wire formats.
//
// # Size Hierarchy
//
//   - SAPHeaderSize (8 bytes) and RTPHeaderSize (12 bytes): the fixed headers
//     the codecs require before anything else is read.
//
//   - MaxSAPPacket (1024 bytes): RFC 2974 asks announcers to keep a complete
//     announcement under this size. Outgoing announcements are validated
//     against it; incoming ones are accepted up to MaxDatagram.
//
//   - MaxRTPPayload (1440 bytes): the AES67 payload ceiling. A 48 kHz stereo
//     L24 stream with 1 ms packets carries 288 bytes, so the ceiling only
//     matters for long ptime or high channel counts.
//
//   - MaxDatagram (2048 bytes): the socket receive buffer.
//
// # Validation Functions
//
//	if err := limits.ValidateRTPPayload(payload); err != nil {
//	    // ErrPacketEmpty or ErrPacketTooLarge
//	}
//
// For custom limits use ValidatePacketSize.
package limits
