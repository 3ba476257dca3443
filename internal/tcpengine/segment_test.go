package tcpengine

import (
	"net"
	"testing"
)

func TestSegmentRoundTrip(t *testing.T) {
	src := net.ParseIP("10.0.0.1")
	dst := net.ParseIP("10.0.0.2")

	seg := Segment{
		Header: TCPHeader{
			SrcPort: 1234,
			DstPort: 80,
			Seqno:   1000,
			Ackno:   2000,
			ACK:     true,
			PSH:     true,
			Win:     4096,
		},
		Payload: []byte("hello world"),
		SrcIP:   src,
		DstIP:   dst,
	}

	wire := seg.Serialize()
	got, ok := DeserializeSegment(src, dst, wire)
	if !ok {
		t.Fatalf("DeserializeSegment failed on freshly serialized segment")
	}
	if got.Header.SrcPort != seg.Header.SrcPort || got.Header.DstPort != seg.Header.DstPort {
		t.Errorf("port mismatch: got %+v", got.Header)
	}
	if got.Header.Seqno != seg.Header.Seqno || got.Header.Ackno != seg.Header.Ackno {
		t.Errorf("seq/ack mismatch: got %+v", got.Header)
	}
	if !got.Header.ACK || !got.Header.PSH || got.Header.SYN || got.Header.FIN || got.Header.RST {
		t.Errorf("flag mismatch: got %+v", got.Header)
	}
	if string(got.Payload) != "hello world" {
		t.Errorf("payload = %q", got.Payload)
	}
}

func TestSegmentChecksumMismatchDropped(t *testing.T) {
	src := net.ParseIP("10.0.0.1")
	dst := net.ParseIP("10.0.0.2")
	seg := Segment{Header: TCPHeader{SrcPort: 1, DstPort: 2, SYN: true}, SrcIP: src, DstIP: dst}
	wire := seg.Serialize()
	wire[len(wire)-1] ^= 0xff // corrupt the payload-less header's urgent pointer byte

	if _, ok := DeserializeSegment(src, dst, wire); ok {
		t.Fatalf("DeserializeSegment accepted a corrupted segment")
	}
}

func TestSegmentTruncatedDropped(t *testing.T) {
	src := net.ParseIP("10.0.0.1")
	dst := net.ParseIP("10.0.0.2")
	if _, ok := DeserializeSegment(src, dst, []byte{1, 2, 3}); ok {
		t.Fatalf("DeserializeSegment accepted a truncated buffer")
	}
}

func TestLengthInSequenceSpace(t *testing.T) {
	cases := []struct {
		seg  Segment
		want int
	}{
		{Segment{Header: TCPHeader{}}, 0},
		{Segment{Header: TCPHeader{SYN: true}}, 1},
		{Segment{Header: TCPHeader{FIN: true}}, 1},
		{Segment{Header: TCPHeader{SYN: true, FIN: true}}, 2},
		{Segment{Payload: []byte("abc")}, 3},
		{Segment{Header: TCPHeader{FIN: true}, Payload: []byte("abc")}, 4},
	}
	for _, c := range cases {
		if got := c.seg.LengthInSequenceSpace(); got != c.want {
			t.Errorf("LengthInSequenceSpace() = %d, want %d", got, c.want)
		}
	}
}
