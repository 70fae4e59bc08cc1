// Package sap implements the Session Announcement Protocol (RFC 2974) codec
// and the SDP (RFC 4566) handling AES67 discovery needs.
//
// # SAP Packets
//
// Decode parses the 8-byte SAP v1 header, skips authentication data and the
// null-terminated prefix fields, and returns the embedded session
// description:
//
//	pkt, err := sap.Decode(datagram)
//	if err != nil {
//	    // errors.Is(err, sap.ErrMalformedPacket); drop the datagram
//	}
//	if pkt.Opaque() {
//	    // encrypted or compressed, SDP unavailable
//	}
//
// Encode builds the announcement sent for a local stream:
//
//	data, err := sap.Encode(sdpText, "192.168.1.10", sap.MessageAnnounce)
//
// # Session Descriptions
//
// ParseDescriptors uses github.com/pion/sdp/v3 to turn a description into
// stream.Descriptor values, one per RTP/AVP audio media section, applying
// defaults for absent attributes at extraction time. BuildSDP renders the
// AES67 description of a local sender.
package sap
