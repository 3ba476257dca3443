package tcpengine

import "testing"

func TestReassemblerInOrder(t *testing.T) {
	r := NewReassembler(65000)
	r.DataReceived(0, []byte("abcd"), false)
	if got := string(r.Out().PeekOutput(4)); got != "abcd" {
		t.Fatalf("Out() = %q, want abcd", got)
	}
	if r.AckIndex() != 4 {
		t.Fatalf("AckIndex() = %d, want 4", r.AckIndex())
	}
}

func TestReassemblerOutOfOrder(t *testing.T) {
	r := NewReassembler(4000)
	r.DataReceived(4, []byte("efgh"), false)
	if got := r.Out().PeekOutput(100); len(got) != 0 {
		t.Fatalf("Out() not empty before hole filled: %q", got)
	}
	r.DataReceived(0, []byte("abcd"), false)
	if got := string(r.Out().PeekOutput(100)); got != "abcdefgh" {
		t.Fatalf("Out() = %q, want abcdefgh", got)
	}
	if r.AckIndex() != 8 {
		t.Fatalf("AckIndex() = %d, want 8", r.AckIndex())
	}
}

func TestReassemblerOverlapKeepsEarlierBytes(t *testing.T) {
	r := NewReassembler(4000)
	r.DataReceived(0, []byte("aaaa"), false)
	// second write overlaps [2,6); bytes [2,4) must keep the first write's
	// 'a's, only [4,6) of the second write is new.
	r.DataReceived(2, []byte("bbbb"), false)
	if got := string(r.Out().PeekOutput(100)); got != "aaaabb" {
		t.Fatalf("Out() = %q, want aaaabb", got)
	}
}

func TestReassemblerCompletesOnEOF(t *testing.T) {
	r := NewReassembler(4000)
	r.DataReceived(0, []byte("hi"), true)
	if !r.Finished() {
		t.Fatalf("Finished() = false after in-order EOF")
	}
	if !r.Out().InputEnded() {
		t.Fatalf("Out().InputEnded() = false after in-order EOF")
	}
}

func TestReassemblerEOFWaitsForHole(t *testing.T) {
	r := NewReassembler(4000)
	r.DataReceived(3, []byte("ond"), true) // "ond" is the final substring
	if r.Finished() {
		t.Fatalf("Finished() = true with an outstanding hole")
	}
	r.DataReceived(0, []byte("seca"), false)
	if !r.Finished() {
		t.Fatalf("Finished() = false once the hole is filled")
	}
	if got := string(r.Out().PeekOutput(100)); got != "second" {
		t.Fatalf("Out() = %q, want second", got)
	}
}

func TestReassemblerWindowClipsOversizeSegment(t *testing.T) {
	r := NewReassembler(4)
	// window is [0,4); only the first 4 bytes can ever be accepted until
	// the app drains some of Out().
	r.DataReceived(0, []byte("abcdef"), false)
	if got := string(r.Out().PeekOutput(100)); got != "abcd" {
		t.Fatalf("Out() = %q, want abcd", got)
	}
	if r.UnassembledBytes() != 0 {
		t.Fatalf("UnassembledBytes() = %d, want 0 (trailing bytes dropped)", r.UnassembledBytes())
	}
}

func TestReassemblerCapacityInvariant(t *testing.T) {
	r := NewReassembler(10)
	r.DataReceived(4, []byte("ef"), false)
	r.DataReceived(7, []byte("h"), false)
	total := r.UnassembledBytes() + r.Out().Size()
	if total > 10 {
		t.Fatalf("pending+out size %d exceeds capacity 10", total)
	}
}
