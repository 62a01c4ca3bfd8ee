package udpingress

import (
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapgoCaptureWriter dumps received FeaturePacket datagrams to a pcap
// file for offline diagnosis, the write-side counterpart to the
// lidar network package's pcap replay support: that code reads capture
// files back with gopacket/pcap, this writes them with gopacket/pcapgo
// so no libpcap/cgo dependency is needed just to record traffic.
type PcapgoCaptureWriter struct {
	w      *pcapgo.Writer
	closer io.Closer
}

// NewPcapgoCaptureWriter writes a pcap file header sized for UDP datagrams
// up to maxDatagramSize to out. If the header write fails, out is closed.
func NewPcapgoCaptureWriter(out io.WriteCloser) (*PcapgoCaptureWriter, error) {
	w := pcapgo.NewWriter(out)
	if err := w.WriteFileHeader(maxDatagramSize, layers.LinkTypeEthernet); err != nil {
		out.Close()
		return nil, err
	}
	return &PcapgoCaptureWriter{w: w, closer: out}, nil
}

// WritePacket records one received UDP payload. Since the listener only
// has the UDP payload (not the surrounding Ethernet/IP/UDP headers), the
// payload is wrapped in a minimal synthetic frame so the resulting file
// opens cleanly in standard pcap tooling.
func (c *PcapgoCaptureWriter) WritePacket(data []byte, receivedAt time.Time) error {
	frame := syntheticEthernetIPUDPFrame(data)
	ci := gopacket.CaptureInfo{
		Timestamp:     receivedAt,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	return c.w.WritePacket(ci, frame)
}

func (c *PcapgoCaptureWriter) Close() error { return c.closer.Close() }

// syntheticEthernetIPUDPFrame wraps a raw UDP payload in placeholder
// Ethernet/IPv4/UDP headers. Addresses and checksums are zeroed; the
// frame exists only so the dump can be opened in a packet analyzer to
// inspect the payload bytes, not to be replayed onto the wire.
func syntheticEthernetIPUDPFrame(payload []byte) []byte {
	eth := layers.Ethernet{
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    []byte{0, 0, 0, 0},
		DstIP:    []byte{0, 0, 0, 0},
	}
	udp := layers.UDP{
		SrcPort: 0,
		DstPort: 0,
	}
	udp.SetNetworkLayerForChecksum(&ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload(payload))
	if err != nil {
		// Fall back to the bare payload if serialization fails; the
		// capture is a diagnostic aid, never load-bearing.
		return payload
	}
	return buf.Bytes()
}
