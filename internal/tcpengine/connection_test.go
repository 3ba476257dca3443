package tcpengine

import (
	"testing"
	"time"
)

func mustOneSegment(t *testing.T, c *Connection) Segment {
	t.Helper()
	out := c.SegmentsOut()
	if len(out) != 1 {
		t.Fatalf("SegmentsOut() returned %d segments, want 1: %+v", len(out), out)
	}
	return out[0]
}

func TestHandshakeActiveOpen(t *testing.T) {
	c := New(DefaultConfig(), 10000)
	c.Connect()

	syn := mustOneSegment(t, c)
	if !syn.Header.SYN || syn.Header.Seqno != 10000 {
		t.Fatalf("unexpected SYN: %+v", syn.Header)
	}
	if c.State() != "SYN_SENT" {
		t.Fatalf("state = %s, want SYN_SENT", c.State())
	}

	c.SegmentReceived(Segment{Header: TCPHeader{
		SYN: true, ACK: true, Seqno: 20000, Ackno: 10001,
	}})

	if c.State() != "ESTABLISHED" {
		t.Fatalf("state = %s, want ESTABLISHED", c.State())
	}
	ack := mustOneSegment(t, c)
	if !ack.Header.ACK || ack.Header.Ackno != 20001 {
		t.Fatalf("unexpected ACK: %+v", ack.Header)
	}
}

func TestHandshakePassiveOpen(t *testing.T) {
	c := New(DefaultConfig(), 0)
	c.SetListening()
	if c.State() != "LISTEN" {
		t.Fatalf("state = %s, want LISTEN", c.State())
	}

	c.SegmentReceived(Segment{Header: TCPHeader{SYN: true, Seqno: 20000}})
	synAck := mustOneSegment(t, c)
	if !synAck.Header.SYN || !synAck.Header.ACK || synAck.Header.Ackno != 20001 {
		t.Fatalf("unexpected SYN+ACK: %+v", synAck.Header)
	}
	if c.State() != "SYN_RECEIVED" {
		t.Fatalf("state = %s, want SYN_RECEIVED", c.State())
	}

	c.SegmentReceived(Segment{Header: TCPHeader{
		ACK: true, Seqno: 20001, Ackno: synAck.Header.Seqno + 1,
	}})
	if c.State() != "ESTABLISHED" {
		t.Fatalf("state = %s, want ESTABLISHED", c.State())
	}
}

func establish(t *testing.T, senderISN, receiverISN Seqno, recvCapacity int) *Connection {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RecvCapacity = recvCapacity
	c := New(cfg, senderISN)
	c.Connect()
	c.SegmentsOut()
	c.SegmentReceived(Segment{Header: TCPHeader{
		SYN: true, ACK: true, Seqno: receiverISN, Ackno: senderISN + 1,
	}})
	c.SegmentsOut()
	return c
}

func TestOutOfOrderReassembly(t *testing.T) {
	c := establish(t, 0, 1001, 4000)

	c.SegmentReceived(Segment{Header: TCPHeader{Seqno: 1006, ACK: true, Ackno: 1}, Payload: []byte("efgh")})
	if got := c.OutboundStream().PeekOutput(100); len(got) != 0 {
		t.Fatalf("OutboundStream() = %q before hole filled, want empty", got)
	}

	c.SegmentReceived(Segment{Header: TCPHeader{Seqno: 1002, ACK: true, Ackno: 1}, Payload: []byte("abcd")})
	if got := string(c.OutboundStream().PeekOutput(100)); got != "abcdefgh" {
		t.Fatalf("OutboundStream() = %q, want abcdefgh", got)
	}
	if c.Ackno() != 1010 {
		t.Fatalf("Ackno() = %d, want 1010", c.Ackno())
	}
}

func TestFlowControl(t *testing.T) {
	c := establish(t, 0, 1000, 65000)
	c.receiverWindowSize = 3

	c.Write([]byte("01234567"))
	first := mustOneSegment(t, c)
	if string(first.Payload) != "012" {
		t.Fatalf("first emission = %q, want 012", first.Payload)
	}

	c.SegmentReceived(Segment{Header: TCPHeader{
		ACK: true, Seqno: 1001, Ackno: first.Header.Seqno + 3, Win: 5,
	}})
	second := mustOneSegment(t, c)
	if string(second.Payload) != "34567" {
		t.Fatalf("second emission = %q, want 34567", second.Payload)
	}
	if c.BytesInFlight() > 5 {
		t.Fatalf("BytesInFlight() = %d, want <= 5", c.BytesInFlight())
	}
}

func TestRetransmissionAndRST(t *testing.T) {
	c := establish(t, 0, 1000, 65000)
	c.receiverWindowSize = 65000
	c.Write([]byte("asdf"))
	mustOneSegment(t, c) // initial send

	rto := c.cfg.RTTimeout
	for i := 1; i <= DefaultMaxRetxAttempts; i++ {
		c.Tick(rto)
		seg := mustOneSegment(t, c)
		if seg.Header.RST {
			t.Fatalf("unexpected RST on attempt %d", i)
		}
		if string(seg.Payload) != "asdf" {
			t.Fatalf("retransmit %d payload = %q, want asdf", i, seg.Payload)
		}
		rto *= 2
	}

	c.Tick(rto)
	rst := mustOneSegment(t, c)
	if !rst.Header.RST {
		t.Fatalf("expected RST after exhausting retransmissions, got %+v", rst.Header)
	}
	if c.Active() {
		t.Fatalf("Active() = true after retransmission exhaustion")
	}
}

func TestActiveClose(t *testing.T) {
	c := establish(t, 10000, 20000, 65000)

	c.ShutdownWrite()
	fin := mustOneSegment(t, c)
	if !fin.Header.FIN || fin.Header.Seqno != 10001 {
		t.Fatalf("unexpected FIN: %+v", fin.Header)
	}
	if c.State() != "FIN_WAIT_1" {
		t.Fatalf("state = %s, want FIN_WAIT_1", c.State())
	}

	c.SegmentReceived(Segment{Header: TCPHeader{ACK: true, Seqno: 20001, Ackno: 10002}})
	if c.State() != "FIN_WAIT_2" {
		t.Fatalf("state = %s, want FIN_WAIT_2", c.State())
	}

	c.SegmentReceived(Segment{Header: TCPHeader{FIN: true, ACK: true, Seqno: 20001, Ackno: 10002}})
	ack := mustOneSegment(t, c)
	if !ack.Header.ACK || ack.Header.Ackno != 20002 {
		t.Fatalf("unexpected ACK of peer FIN: %+v", ack.Header)
	}
	if c.State() != "TIME_WAIT" {
		t.Fatalf("state = %s, want TIME_WAIT", c.State())
	}

	c.Tick(2 * c.cfg.MSL)
	if c.State() != "CLOSED" {
		t.Fatalf("state = %s, want CLOSED", c.State())
	}
}

func TestPassiveClose(t *testing.T) {
	c := establish(t, 10000, 20000, 65000)

	c.SegmentReceived(Segment{Header: TCPHeader{FIN: true, ACK: true, Seqno: 20001, Ackno: 10001}})
	if c.State() != "CLOSE_WAIT" {
		t.Fatalf("state = %s, want CLOSE_WAIT", c.State())
	}

	c.ShutdownWrite()
	fin := mustOneSegment(t, c)
	if !fin.Header.FIN {
		t.Fatalf("expected FIN from CLOSE_WAIT, got %+v", fin.Header)
	}
	if c.State() != "LAST_ACK" {
		t.Fatalf("state = %s, want LAST_ACK", c.State())
	}

	c.SegmentReceived(Segment{Header: TCPHeader{ACK: true, Seqno: 20002, Ackno: fin.Header.Seqno + 1}})
	if c.State() != "CLOSED" {
		t.Fatalf("state = %s, want CLOSED", c.State())
	}
	if c.Active() {
		t.Fatalf("Active() = true after LAST_ACK -> CLOSED")
	}
}

func TestConnectFromNonClosedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Connect() from ESTABLISHED did not panic")
		}
	}()
	c := establish(t, 0, 1000, 65000)
	c.Connect()
}

var _ = time.Millisecond
