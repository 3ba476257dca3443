package tcpengine

import "testing"

func TestWrapUnwrapRoundtrip(t *testing.T) {
	cases := []struct {
		isn        Seqno
		checkpoint AbsSeqno
		offset     int64
	}{
		{isn: 0, checkpoint: 0, offset: 0},
		{isn: 0, checkpoint: 0, offset: 1},
		{isn: 1000, checkpoint: 0, offset: 0},
		{isn: 1000, checkpoint: 1_000_000, offset: -500},
		{isn: 0xffffffff, checkpoint: 1 << 40, offset: (1 << 31) - 1},
		{isn: 0xffffffff, checkpoint: 1 << 40, offset: -((1 << 31) - 1)},
		{isn: 12345, checkpoint: 1 << 33, offset: -1},
		{isn: 12345, checkpoint: 1 << 33, offset: 1},
	}

	for _, c := range cases {
		abs := AbsSeqno(int64(c.checkpoint) + c.offset)
		seq := Wrap(abs, c.isn)
		got := Unwrap(seq, c.isn, c.checkpoint)
		if got != abs {
			t.Errorf("Unwrap(Wrap(%d,%d),%d,%d) = %d, want %d", abs, c.isn, c.isn, c.checkpoint, got, abs)
		}
	}
}

func TestUnwrapNeverNegative(t *testing.T) {
	// checkpoint 0 with a seq that would naively unwrap negative must clamp
	// to the non-negative candidate.
	got := Unwrap(Seqno(0xfffffffe), 0, 0)
	if int64(got) < 0 {
		t.Fatalf("Unwrap produced a negative-equivalent result: %d", got)
	}
}

func TestUint32Plus(t *testing.T) {
	if got := Uint32Plus(0xffffffff, 1); got != 0 {
		t.Errorf("Uint32Plus wraparound: got %d, want 0", got)
	}
}
