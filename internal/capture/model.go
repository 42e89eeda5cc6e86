// Package capture decodes packet captures with an external decoder
// (tshark by default) and scrubs sensitive payload bytes from the
// decoded JSON before anything else sees it.
package capture

import (
	"encoding/json"
	"fmt"
	"sort"
)

// LayerKind classifies a protocol layer. Scrubbing switches on the
// kind, so every layer the decoder emits falls into exactly one case.
type LayerKind string

const (
	// KindTransport carries payload bytes (tcp, udp, sctp).
	KindTransport LayerKind = "transport"
	// KindNetwork routes packets (ip, icmp, arp); no payload fields.
	KindNetwork LayerKind = "network"
	// KindApplication is everything above transport, including
	// encrypted layers like tls that carry segment bytes.
	KindApplication LayerKind = "application"
	// KindUnknown passes through untouched (frame metadata, link
	// layers, anything unrecognized).
	KindUnknown LayerKind = "unknown"
)

var layerKinds = map[string]LayerKind{
	"tcp":  KindTransport,
	"udp":  KindTransport,
	"sctp": KindTransport,
	"dccp": KindTransport,

	"ip":     KindNetwork,
	"ipv6":   KindNetwork,
	"icmp":   KindNetwork,
	"icmpv6": KindNetwork,
	"arp":    KindNetwork,
	"igmp":   KindNetwork,

	"http":     KindApplication,
	"http2":    KindApplication,
	"http3":    KindApplication,
	"dns":      KindApplication,
	"mdns":     KindApplication,
	"llmnr":    KindApplication,
	"nbns":     KindApplication,
	"tls":      KindApplication,
	"ssl":      KindApplication,
	"quic":     KindApplication,
	"dhcp":     KindApplication,
	"bootp":    KindApplication,
	"ftp":      KindApplication,
	"tftp":     KindApplication,
	"smtp":     KindApplication,
	"pop":      KindApplication,
	"imap":     KindApplication,
	"ssh":      KindApplication,
	"telnet":   KindApplication,
	"ntp":      KindApplication,
	"snmp":     KindApplication,
	"ldap":     KindApplication,
	"kerberos": KindApplication,
	"smb":      KindApplication,
	"smb2":     KindApplication,
	"rtp":      KindApplication,
	"rtcp":     KindApplication,
	"sip":      KindApplication,
	"mqtt":     KindApplication,
	"coap":     KindApplication,
	"rdp":      KindApplication,
	"modbus":   KindApplication,
	"dnp3":     KindApplication,
}

// KindOf returns the layer kind for a decoder layer name.
func KindOf(name string) LayerKind {
	if k, ok := layerKinds[name]; ok {
		return k
	}
	return KindUnknown
}

// sensitiveFields lists the byte-payload fields to remove for a layer.
// The switch covers every kind so a new kind cannot ship without a
// scrub decision.
func sensitiveFields(kind LayerKind, name string) []string {
	switch kind {
	case KindTransport:
		return []string{
			name + ".payload",
			name + ".segment_data",
			name + ".reassembled.data",
		}
	case KindApplication:
		if name == "tls" || name == "ssl" {
			return []string{name + ".segment.data"}
		}
		return nil
	case KindNetwork, KindUnknown:
		return nil
	}
	return nil
}

// Layer is one protocol layer of a decoded frame, tagged with its kind.
type Layer struct {
	Name   string
	Kind   LayerKind
	Fields map[string]any
}

// Frame is one decoded packet: the decoder's per-layer field mappings.
type Frame struct {
	Layers map[string]any
}

// TypedLayers returns the frame's layers tagged with their kinds,
// sorted by name. Layers the decoder emits as non-objects (duplicate
// layer arrays) are skipped.
func (f Frame) TypedLayers() []Layer {
	out := make([]Layer, 0, len(f.Layers))
	for name, v := range f.Layers {
		fields, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Layer{Name: name, Kind: KindOf(name), Fields: fields})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UnitText renders the frame as one retrieval unit: the layer mapping
// minus the bulk "data" layer, serialized as JSON.
func (f Frame) UnitText() (string, error) {
	trimmed := make(map[string]any, len(f.Layers))
	for k, v := range f.Layers {
		if k == "data" {
			continue
		}
		trimmed[k] = v
	}
	b, err := json.Marshal(trimmed)
	if err != nil {
		return "", fmt.Errorf("render frame: %w", err)
	}
	return string(b), nil
}

// ParseFrames extracts per-frame layer mappings from decoded JSON.
// Elements without a _source.layers object are skipped.
func ParseFrames(data []byte) ([]Frame, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse decoded JSON: %w", err)
	}

	frames := make([]Frame, 0, len(raw))
	for _, pkt := range raw {
		layers := frameLayers(pkt)
		if layers == nil {
			continue
		}
		frames = append(frames, Frame{Layers: layers})
	}
	return frames, nil
}

func frameLayers(pkt map[string]any) map[string]any {
	src, ok := pkt["_source"].(map[string]any)
	if !ok {
		return nil
	}
	layers, ok := src["layers"].(map[string]any)
	if !ok {
		return nil
	}
	return layers
}
