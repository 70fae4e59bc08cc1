package sap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/aes67/stream"
	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultChannels applies when a media section has no matching rtpmap
	DefaultChannels = 2
	// DefaultSampleRate applies when a media section has no matching rtpmap
	DefaultSampleRate = 48000
	// DefaultPTimeMs applies when a media section has no ptime attribute
	DefaultPTimeMs = 1.0
	// DefaultPayloadType is the dynamic payload type used by AES67 senders
	DefaultPayloadType = 96
	// DefaultMulticastTTL is written into generated connection lines
	DefaultMulticastTTL = 32
	// PlaceholderMediaClock is used when a description names no clock
	PlaceholderMediaClock = "ptp=IEEE1588-2008:00-00-00-00-00-00-00-00:0"

	attrRTPMap   = "rtpmap"
	attrPTime    = "ptime"
	attrMediaClk = "mediaclk"
	attrRefClk   = "ts-refclk"
	protoRTPAVP  = "RTP/AVP"
)

// ErrUnparsableSDP indicates session description text that could not be parsed
var ErrUnparsableSDP = errors.New("unparsable SDP")

// rtpMap is a parsed a=rtpmap:<pt> <encoding>/<rate>[/<channels>] value.
type rtpMap struct {
	payloadType uint8
	encoding    string
	sampleRate  int
	channels    int
}

// parseRTPMap follows RFC 4566: the channel count is the optional third
// slash field and defaults to 1 when omitted.
func parseRTPMap(value string) (rtpMap, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return rtpMap{}, fmt.Errorf("rtpmap %q: want 2 fields", value)
	}
	pt, err := strconv.ParseUint(fields[0], 10, 7)
	if err != nil {
		return rtpMap{}, fmt.Errorf("rtpmap %q: payload type: %w", value, err)
	}
	parts := strings.Split(fields[1], "/")
	if len(parts) < 2 {
		return rtpMap{}, fmt.Errorf("rtpmap %q: missing clock rate", value)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return rtpMap{}, fmt.Errorf("rtpmap %q: invalid clock rate", value)
	}
	channels := 1
	if len(parts) > 2 {
		channels, err = strconv.Atoi(parts[2])
		if err != nil || channels < 1 {
			return rtpMap{}, fmt.Errorf("rtpmap %q: invalid channel count", value)
		}
	}
	return rtpMap{
		payloadType: uint8(pt),
		encoding:    parts[0],
		sampleRate:  rate,
		channels:    channels,
	}, nil
}

// ParseDescriptors extracts one Descriptor per RTP/AVP audio media section.
// sourceIP is normally the SAP origin; when empty the SDP origin address is
// used. Malformed text yields ErrUnparsableSDP and no descriptors.
func ParseDescriptors(sdpText, sourceIP string, now time.Time) ([]stream.Descriptor, error) {
	text := strings.TrimRight(sdpText, "\x00")
	if !strings.HasPrefix(text, "v=0") {
		return nil, fmt.Errorf("%w: missing v=0", ErrUnparsableSDP)
	}

	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(text)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableSDP, err)
	}

	if sourceIP == "" {
		sourceIP = sd.Origin.UnicastAddress
	}
	description := ""
	if sd.SessionInformation != nil {
		description = string(*sd.SessionInformation)
	}
	sessionID := strconv.FormatUint(sd.Origin.SessionID, 10)

	var out []stream.Descriptor
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" || strings.Join(md.MediaName.Protos, "/") != protoRTPAVP {
			continue
		}

		destIP := connectionAddress(md.ConnectionInformation)
		if destIP == "" {
			destIP = connectionAddress(sd.ConnectionInformation)
		}
		if destIP == "" {
			logrus.WithFields(logrus.Fields{
				"function":  "ParseDescriptors",
				"source_ip": sourceIP,
				"port":      md.MediaName.Port.Value,
			}).Debug("Audio media without connection address skipped")
			continue
		}

		d := stream.Descriptor{
			ID:            sessionID,
			Name:          string(sd.SessionName),
			Description:   description,
			SourceIP:      sourceIP,
			DestIP:        destIP,
			Port:          md.MediaName.Port.Value,
			PayloadType:   DefaultPayloadType,
			Channels:      DefaultChannels,
			SampleRate:    DefaultSampleRate,
			Encoding:      stream.EncodingL24,
			PTimeMs:       DefaultPTimeMs,
			MediaClockRef: mediaClock(&sd, md),
			IsMulticast:   stream.IsMulticastIPv4(destIP),
			SDP:           text,
			LastSeenAt:    now,
			Status:        stream.StatusActive,
		}
		if len(out) > 0 {
			d.ID = fmt.Sprintf("%s/%d", sessionID, len(out))
		}
		if len(md.MediaName.Formats) > 0 {
			if pt, err := strconv.ParseUint(md.MediaName.Formats[0], 10, 7); err == nil {
				d.PayloadType = uint8(pt)
			}
		}

		if rm, ok := findRTPMap(md); ok {
			d.PayloadType = rm.payloadType
			d.Encoding = stream.ParseEncoding(rm.encoding)
			d.SampleRate = rm.sampleRate
			d.Channels = rm.channels
		}

		if value, ok := md.Attribute(attrPTime); ok {
			if ptime, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && ptime > 0 {
				d.PTimeMs = ptime
			}
		}

		out = append(out, d)
	}

	return out, nil
}

// findRTPMap returns the first rtpmap whose payload type is in the media
// format list.
func findRTPMap(md *sdp.MediaDescription) (rtpMap, bool) {
	formats := make(map[string]struct{}, len(md.MediaName.Formats))
	for _, f := range md.MediaName.Formats {
		formats[f] = struct{}{}
	}
	for _, attr := range md.Attributes {
		if attr.Key != attrRTPMap {
			continue
		}
		rm, err := parseRTPMap(attr.Value)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "findRTPMap",
				"value":    attr.Value,
				"error":    err.Error(),
			}).Debug("Ignoring invalid rtpmap")
			continue
		}
		if _, ok := formats[strconv.Itoa(int(rm.payloadType))]; ok {
			return rm, true
		}
	}
	return rtpMap{}, false
}

func mediaClock(sd *sdp.SessionDescription, md *sdp.MediaDescription) string {
	if v, ok := md.Attribute(attrMediaClk); ok && v != "" {
		return v
	}
	if v, ok := md.Attribute(attrRefClk); ok && v != "" {
		return v
	}
	if v, ok := sd.Attribute(attrMediaClk); ok && v != "" {
		return v
	}
	if v, ok := sd.Attribute(attrRefClk); ok && v != "" {
		return v
	}
	return PlaceholderMediaClock
}

// connectionAddress returns the bare address of a c= line, without any
// TTL or address count suffix.
func connectionAddress(ci *sdp.ConnectionInformation) string {
	if ci == nil || ci.Address == nil {
		return ""
	}
	addr := ci.Address.Address
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	return addr
}

// BuildSDP renders the session description announced for a local stream.
func BuildSDP(d stream.Descriptor, sessionID, version uint64) (string, error) {
	if err := d.Format().Validate(); err != nil {
		return "", fmt.Errorf("invalid stream format: %w", err)
	}
	if d.SourceIP == "" || d.DestIP == "" {
		return "", fmt.Errorf("source and destination addresses are required")
	}

	pt := d.PayloadType
	if pt == 0 {
		pt = DefaultPayloadType
	}
	ptStr := strconv.Itoa(int(pt))

	name := d.Name
	if name == "" {
		name = "-"
	}

	address := &sdp.Address{Address: d.DestIP}
	if stream.IsMulticastIPv4(d.DestIP) {
		ttl := DefaultMulticastTTL
		address.TTL = &ttl
	}

	refClk := d.MediaClockRef
	if refClk == "" {
		refClk = PlaceholderMediaClock
	}

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: d.SourceIP,
		},
		SessionName: sdp.SessionName(name),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     address,
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []sdp.Attribute{
			{Key: "clock-domain", Value: "PTPv2 0"},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: d.Port},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{ptStr},
				},
				Attributes: []sdp.Attribute{
					{Key: attrRTPMap, Value: fmt.Sprintf("%s %s/%d/%d", ptStr, d.Encoding, d.SampleRate, d.Channels)},
					{Key: attrPTime, Value: strconv.FormatFloat(d.PTimeMs, 'f', -1, 64)},
					{Key: attrRefClk, Value: refClk},
					{Key: attrMediaClk, Value: "direct=0"},
					{Key: "recvonly"},
				},
			},
		},
	}
	if d.Description != "" {
		info := sdp.Information(d.Description)
		sd.SessionInformation = &info
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal SDP: %w", err)
	}
	return string(out), nil
}
