// Package fixture generates a small synthetic capture so the pipeline can
// be exercised end to end without touching a live network interface.
package fixture

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// FrameCount is the number of frames Write emits.
const FrameCount = 3

// Payload is carried by the second frame. Decoders that surface TCP
// payloads will show it as "deadbeef".
var Payload = []byte{0xde, 0xad, 0xbe, 0xef}

const snapLen = 65536

var (
	clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	serverMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

	clientIP   = net.ParseIP("192.0.2.10")
	serverIP   = net.ParseIP("203.0.113.5")
	resolverIP = net.ParseIP("198.51.100.53")
)

// Frame timestamps are fixed so repeated runs produce identical files.
var baseTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// Write emits a three-frame capture in classic pcap format: a TCP SYN, a
// TCP data segment carrying Payload, and a DNS query for fixture.example.
func Write(w io.Writer) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("write file header: %w", err)
	}

	if err := writeSYN(pw, baseTime); err != nil {
		return fmt.Errorf("frame 1: %w", err)
	}
	if err := writeData(pw, baseTime.Add(10*time.Millisecond)); err != nil {
		return fmt.Errorf("frame 2: %w", err)
	}
	if err := writeDNS(pw, baseTime.Add(20*time.Millisecond)); err != nil {
		return fmt.Errorf("frame 3: %w", err)
	}
	return nil
}

// WriteFile writes the capture to path, creating or truncating it.
func WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeSYN(pw *pcapgo.Writer, ts time.Time) error {
	eth := &layers.Ethernet{
		SrcMAC:       clientMAC,
		DstMAC:       serverMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    clientIP,
		DstIP:    serverIP,
	}
	tcp := &layers.TCP{
		SrcPort: 51000,
		DstPort: 443,
		Seq:     1000,
		SYN:     true,
		Window:  64240,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	return writeFrame(pw, ts, eth, ip, tcp)
}

func writeData(pw *pcapgo.Writer, ts time.Time) error {
	eth := &layers.Ethernet{
		SrcMAC:       clientMAC,
		DstMAC:       serverMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    clientIP,
		DstIP:    serverIP,
	}
	tcp := &layers.TCP{
		SrcPort: 51000,
		DstPort: 443,
		Seq:     1001,
		Ack:     2001,
		PSH:     true,
		ACK:     true,
		Window:  64240,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	return writeFrame(pw, ts, eth, ip, tcp, gopacket.Payload(Payload))
}

func writeDNS(pw *pcapgo.Writer, ts time.Time) error {
	eth := &layers.Ethernet{
		SrcMAC:       clientMAC,
		DstMAC:       serverMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    clientIP,
		DstIP:    resolverIP,
	}
	udp := &layers.UDP{
		SrcPort: 53530,
		DstPort: 53,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	dns := &layers.DNS{
		ID:     0x1234,
		RD:     true,
		OpCode: layers.DNSOpCodeQuery,
		Questions: []layers.DNSQuestion{{
			Name:  []byte("fixture.example"),
			Type:  layers.DNSTypeA,
			Class: layers.DNSClassIN,
		}},
	}
	return writeFrame(pw, ts, eth, ip, udp, dns)
}

func writeFrame(pw *pcapgo.Writer, ts time.Time, ls ...gopacket.SerializableLayer) error {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	return pw.WritePacket(ci, buf.Bytes())
}
