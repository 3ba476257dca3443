package tcpengine

// pendingSpan is a contiguous, not-yet-assembled run of bytes starting at
// an absolute stream offset.
type pendingSpan struct {
	offset AbsSeqno
	data   []byte
}

// Reassembler accepts out-of-order substrings of a byte stream, indexed by
// absolute offset, coalesces them, and forwards the contiguous prefix to an
// output ByteStream as it becomes available. The pending set is a small
// ordered slice rather than an interval tree: it is bounded by
// capacity/MAX_PAYLOAD_SIZE, which is small enough that linear insertion
// and merge passes are cheap.
type Reassembler struct {
	capacity        int
	unassembledBase AbsSeqno
	pending         []pendingSpan
	eofSeen         bool
	out             *ByteStream
}

// NewReassembler creates a Reassembler backed by a fresh ByteStream of the
// given capacity.
func NewReassembler(capacity int) *Reassembler {
	return &Reassembler{
		capacity: capacity,
		out:      NewByteStream(capacity),
	}
}

// DataReceived ingests a possibly out-of-order, possibly overlapping
// substring of the stream starting at the absolute offset index. eof marks
// that this is the last byte of the stream (index+len(data) is the total
// stream length).
func (r *Reassembler) DataReceived(index AbsSeqno, data []byte, eof bool) {
	if eof {
		r.eofSeen = true
	}

	first := index
	last := first + AbsSeqno(len(data))

	windowBegin := r.unassembledBase - AbsSeqno(r.out.Size())
	windowEnd := windowBegin + AbsSeqno(r.capacity)

	if last <= r.unassembledBase || first >= windowEnd {
		r.maybeFinish()
		return
	}

	left := first
	if r.unassembledBase > left {
		left = r.unassembledBase
	}
	right := last
	if windowEnd < right {
		right = windowEnd
	}

	// Bytes already pending take precedence over this arrival on overlap.
	clipped := append([]byte(nil), data[left-first:right-first]...)
	for _, span := range r.pending {
		s := max(span.offset, left)
		e := min(span.offset+AbsSeqno(len(span.data)), right)
		if s < e {
			copy(clipped[s-left:e-left], span.data[s-span.offset:e-span.offset])
		}
	}
	r.insert(left, clipped)
	r.merge()

	if len(r.pending) > 0 && r.pending[0].offset == r.unassembledBase {
		span := r.pending[0]
		r.out.Write(span.data)
		r.unassembledBase += AbsSeqno(len(span.data))
		r.pending = r.pending[1:]
	}

	r.maybeFinish()
}

func (r *Reassembler) maybeFinish() {
	if r.Finished() {
		r.out.EndInput()
	}
}

// insert places (offset, data) into the ordered pending list, keeping it
// sorted by offset. DataReceived has already copied any overlapping pending
// bytes into data, so the subsequent merge pass keeps the earlier arrival's
// bytes on overlap.
func (r *Reassembler) insert(offset AbsSeqno, data []byte) {
	place := len(r.pending)
	for i, span := range r.pending {
		if offset <= span.offset {
			place = i
			break
		}
	}
	r.pending = append(r.pending, pendingSpan{})
	copy(r.pending[place+1:], r.pending[place:])
	r.pending[place] = pendingSpan{offset: offset, data: data}
}

// merge coalesces adjacent/overlapping spans in the pending list. Two runs
// (a,d1) and (c,d2) with a<=c touch or overlap iff a+len(d1) >= c; the
// merged run keeps d1's bytes for the overlapping region (later arrivals
// never overwrite earlier ones).
func (r *Reassembler) merge() {
	i := 0
	for i < len(r.pending)-1 {
		a, d1 := r.pending[i].offset, r.pending[i].data
		b := a + AbsSeqno(len(d1))
		c, d2 := r.pending[i+1].offset, r.pending[i+1].data
		d := c + AbsSeqno(len(d2))

		if c > b {
			i++
			continue
		}
		if b >= d {
			r.pending = append(r.pending[:i+1], r.pending[i+2:]...)
			continue
		}
		merged := append(append([]byte(nil), d1...), d2[b-c:]...)
		r.pending[i] = pendingSpan{offset: a, data: merged}
		r.pending = append(r.pending[:i+1], r.pending[i+2:]...)
	}
}

// Finished reports whether EOF has been observed and every byte up to it
// has been delivered to the output stream.
func (r *Reassembler) Finished() bool {
	return r.eofSeen && r.UnassembledBytes() == 0
}

// AckIndex is the next absolute offset this reassembler expects, equal to
// the number of bytes already written to Out().
func (r *Reassembler) AckIndex() AbsSeqno { return r.unassembledBase }

// Out returns the backing output ByteStream that the application reads
// from.
func (r *Reassembler) Out() *ByteStream { return r.out }

// UnassembledBytes is the total size of spans buffered but not yet
// contiguous with the output stream.
func (r *Reassembler) UnassembledBytes() int {
	total := 0
	for _, span := range r.pending {
		total += len(span.data)
	}
	return total
}

// AssembledBytes is the number of bytes ever written to Out().
func (r *Reassembler) AssembledBytes() uint64 { return r.out.BytesWritten() }
