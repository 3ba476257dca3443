package tcpengine

// Seqno is an on-the-wire 32-bit TCP sequence number; it wraps modulo 2^32.
type Seqno uint32

// AbsSeqno is an absolute, never-wrapping byte offset into a connection's
// stream, counted from the first byte after the ISN.
type AbsSeqno uint64

// Wrap converts an absolute offset to its on-the-wire form given isn.
func Wrap(abs AbsSeqno, isn Seqno) Seqno {
	return Seqno(uint32(abs) + uint32(isn))
}

// Unwrap returns the unique AbsSeqno whose Wrap(isn) equals seq and which is
// closest to checkpoint, biased to the non-negative candidate on ties.
func Unwrap(seq Seqno, isn Seqno, checkpoint AbsSeqno) AbsSeqno {
	c := Wrap(checkpoint, isn)
	delta := uint32(seq) - uint32(c) // mod 2^32, in [0, 2^32)

	cand1 := checkpoint + AbsSeqno(delta)
	var cand2 AbsSeqno
	wrapBack := AbsSeqno(1) << 32
	if checkpoint >= wrapBack-AbsSeqno(delta) {
		cand2 = checkpoint - (wrapBack - AbsSeqno(delta))
	} else {
		// cand2 would be negative; it is not a valid non-negative candidate.
		return cand1
	}

	d1 := absDiff(cand1, checkpoint)
	d2 := absDiff(cand2, checkpoint)
	if d1 < d2 {
		return cand1
	}
	return cand2
}

func absDiff(a, b AbsSeqno) AbsSeqno {
	if a > b {
		return a - b
	}
	return b - a
}

// Uint32Plus returns (n+x) mod 2^32.
func Uint32Plus(n Seqno, x uint32) Seqno {
	return Seqno(uint32(n) + x)
}

func seqLess(a, b Seqno) bool {
	return int32(uint32(a)-uint32(b)) < 0
}

func seqLessEq(a, b Seqno) bool {
	return int32(uint32(a)-uint32(b)) <= 0
}
