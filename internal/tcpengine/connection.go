package tcpengine

import "time"

// pendingOut is an unacknowledged segment sitting in the retransmission
// queue, tagged with the absolute sequence number of its first byte of
// sequence space (which may be a SYN or FIN rather than payload).
type pendingOut struct {
	startAbs AbsSeqno
	seg      Segment
}

// Connection implements one endpoint of a TCP connection: the finite state
// machine, the sender (window filling, retransmission) and the receiver
// (reassembly, ACK generation). It is driven entirely by its exported
// methods and never blocks or spawns goroutines; callers own scheduling.
type Connection struct {
	cfg    Config
	state  state
	active bool

	senderISN    Seqno
	nextSeqnoAbs AbsSeqno // abs offset of the next byte this side will send

	// inboundStream holds bytes the application has written, waiting to be
	// sent on the wire.
	inboundStream *ByteStream

	outgoing            []pendingOut
	rto                 time.Duration
	timeElapsed         time.Duration
	timerEnabled        bool
	consecutiveRetx     int
	finSent             bool
	finAcked            bool
	receiverWindowSize  uint16
	segmentsOut         []Segment

	receiverISN    Seqno
	receiverISNSet bool
	synReceived    bool
	reassembler    *Reassembler
	finReceived    bool

	timeWaitElapsed time.Duration
}

// New creates a Connection in the CLOSED state with the given
// configuration and initial sequence number for this side.
func New(cfg Config, senderISN Seqno) *Connection {
	cfg = cfg.WithDefaults()
	return &Connection{
		cfg:           cfg,
		state:         stateClosed,
		active:        true,
		senderISN:     senderISN,
		rto:           cfg.RTTimeout,
		inboundStream: NewByteStream(cfg.SendCapacity),
		reassembler:   NewReassembler(cfg.RecvCapacity),
	}
}

// Connect begins an active open: CLOSED -> SYN_SENT, emitting a SYN.
// Calling it from any other state is a programming error and panics, per
// the illegal-state-transition handling this engine uses for caller bugs.
func (c *Connection) Connect() {
	if c.state != stateClosed {
		panic("tcpengine: connect() called from state " + c.state.String())
	}
	c.state = stateSynSent
	startAbs := c.nextSeqnoAbs
	c.nextSeqnoAbs++
	seg := Segment{Header: TCPHeader{Seqno: Wrap(startAbs, c.senderISN), SYN: true}}
	c.emit(seg, true, startAbs)
}

// SetListening begins a passive open: CLOSED -> LISTEN.
func (c *Connection) SetListening() {
	if c.state != stateClosed {
		panic("tcpengine: set_listening() called from state " + c.state.String())
	}
	c.state = stateListen
}

// Write enqueues application data for sending and returns the number of
// bytes actually accepted (it may be less than len(data) if the inbound
// stream is near capacity; per ByteStream's contract this never errors,
// the error return exists only so Connection satisfies io.Writer).
func (c *Connection) Write(data []byte) (int, error) {
	n := c.inboundStream.Write(data)
	c.fillWindow()
	return n, nil
}

// ShutdownWrite marks the inbound stream ended; once it drains, a FIN is
// emitted.
func (c *Connection) ShutdownWrite() {
	c.inboundStream.EndInput()
	c.fillWindow()
	c.maybeEmitFinFromCloseWait()
}

// SegmentReceived processes one received, already-parsed segment,
// dispatching on the current FSM state.
func (c *Connection) SegmentReceived(seg Segment) {
	switch c.state {
	case stateClosed:
		return
	case stateListen:
		c.handleListen(seg)
	case stateSynSent:
		c.handleSynSent(seg)
	case stateSynReceived:
		c.handleSynReceived(seg)
	case stateEstablished:
		c.handleEstablished(seg)
	case stateCloseWait:
		c.handleCloseWait(seg)
	case stateFinWait1:
		c.handleFinWait1(seg)
	case stateFinWait2:
		c.handleFinWait2(seg)
	case stateClosing:
		c.handleClosing(seg)
	case stateLastAck:
		c.handleLastAck(seg)
	case stateTimeWait:
		c.handleTimeWait(seg)
	}
}

func (c *Connection) handleListen(seg Segment) {
	if !seg.Header.SYN {
		return
	}
	c.receiverISN = seg.Header.Seqno
	c.receiverISNSet = true
	c.synReceived = true
	c.state = stateSynReceived

	startAbs := c.nextSeqnoAbs
	c.nextSeqnoAbs++
	synAck := Segment{Header: TCPHeader{Seqno: Wrap(startAbs, c.senderISN), SYN: true}}
	c.emit(synAck, true, startAbs)
}

func (c *Connection) handleSynSent(seg Segment) {
	if !(seg.Header.SYN && seg.Header.ACK) {
		return
	}
	if Unwrap(seg.Header.Ackno, c.senderISN, c.nextSeqnoAbs) != 1 {
		return
	}
	c.receiverISN = seg.Header.Seqno
	c.receiverISNSet = true
	c.synReceived = true
	c.state = stateEstablished
	c.ackReceived(seg.Header.Ackno)
	c.sendBareAck()
}

func (c *Connection) handleSynReceived(seg Segment) {
	if !seg.Header.ACK {
		return
	}
	if Unwrap(seg.Header.Ackno, c.senderISN, c.nextSeqnoAbs) != 1 {
		return
	}
	if Unwrap(seg.Header.Seqno, c.receiverISN, 1) != 1 {
		return
	}
	c.state = stateEstablished
	c.ackReceived(seg.Header.Ackno)
}

// ingestSegment runs the shared data/ACK processing used by every state
// from ESTABLISHED onward: window-check the incoming seqno, feed payload
// to the reassembler, ACK data, and fold in any window update. It makes no
// receive-side transition itself; callers decide those from its result. The
// ACK path can still move ESTABLISHED to FIN_WAIT_1, since ackReceived
// refills the window and fillWindow may attach our FIN.
func (c *Connection) ingestSegment(seg Segment) (finReceivedNow bool) {
	absSeq := c.unwrapSeq(seg)
	base := c.reassembler.AckIndex()
	if absSeq < base || absSeq >= base+AbsSeqno(c.cfg.RecvCapacity) {
		return false
	}
	streamIndex := absSeq - 1

	finReceivedNow = seg.Header.FIN && !c.finReceived
	if seg.Header.FIN {
		c.finReceived = true
	}

	if len(seg.Payload) > 0 {
		c.reassembler.DataReceived(streamIndex, seg.Payload, seg.Header.FIN)
		c.sendBareAck()
	} else if seg.Header.FIN {
		c.reassembler.DataReceived(streamIndex, nil, true)
	}

	if seg.Header.ACK {
		c.receiverWindowSize = seg.Header.Win
		c.ackReceived(seg.Header.Ackno)
	}
	return finReceivedNow
}

func (c *Connection) handleEstablished(seg Segment) {
	if c.ingestSegment(seg) {
		c.state = stateCloseWait
	}
}

func (c *Connection) handleCloseWait(seg Segment) {
	c.ingestSegment(seg)
	c.maybeEmitFinFromCloseWait()
}

func (c *Connection) handleFinWait1(seg Segment) {
	finNow := c.ingestSegment(seg)
	switch {
	case finNow && c.finAcked:
		c.state = stateTimeWait
		c.timeWaitElapsed = 0
		c.sendBareAck()
	case finNow:
		c.state = stateClosing
		c.sendBareAck()
	case c.finAcked:
		c.state = stateFinWait2
	}
}

func (c *Connection) handleFinWait2(seg Segment) {
	if c.ingestSegment(seg) {
		c.state = stateTimeWait
		c.timeWaitElapsed = 0
		c.sendBareAck()
	}
}

func (c *Connection) handleClosing(seg Segment) {
	c.ingestSegment(seg)
	if c.finAcked {
		c.state = stateTimeWait
		c.timeWaitElapsed = 0
	}
}

func (c *Connection) handleLastAck(seg Segment) {
	c.ingestSegment(seg)
	if c.finAcked {
		c.state = stateClosed
		c.active = false
	}
}

// handleTimeWait implements the re-ACK-and-reset-timer behavior on a
// repeated peer FIN while waiting out 2*MSL.
func (c *Connection) handleTimeWait(seg Segment) {
	if seg.Header.FIN {
		c.sendBareAck()
		c.timeWaitElapsed = 0
	}
}

// maybeEmitFinFromCloseWait checks the passive-close precondition: our own
// write side drained and closed, nothing of ours still in flight, and the
// peer's side fully reassembled through its FIN.
func (c *Connection) maybeEmitFinFromCloseWait() {
	if c.state != stateCloseWait {
		return
	}
	if c.inboundStream.EOF() && c.BytesInFlight() == 0 && c.reassembler.Finished() {
		c.sendFin(stateLastAck)
	}
}

func (c *Connection) sendFin(next state) {
	startAbs := c.nextSeqnoAbs
	c.nextSeqnoAbs++
	c.finSent = true
	c.state = next
	seg := Segment{Header: TCPHeader{Seqno: Wrap(startAbs, c.senderISN), FIN: true}}
	c.emit(seg, true, startAbs)
}

func (c *Connection) sendBareAck() {
	seg := Segment{Header: TCPHeader{Seqno: Wrap(c.nextSeqnoAbs, c.senderISN)}}
	c.emit(seg, false, c.nextSeqnoAbs)
}

// unwrapSeq resolves a received segment's wire seqno to this connection's
// absolute offset space, using the next expected byte as the checkpoint.
func (c *Connection) unwrapSeq(seg Segment) AbsSeqno {
	checkpoint := AbsSeqno(1) + c.reassembler.AckIndex()
	return Unwrap(seg.Header.Seqno, c.receiverISN, checkpoint)
}

// ackno is the current value to advertise in the ACK field, per the
// formula in the data model: it is defined only once a SYN has been
// received.
func (c *Connection) ackno() Seqno {
	if !c.receiverISNSet {
		return 0
	}
	extra := uint32(0)
	if c.finReceived {
		extra = 1
	}
	return Seqno(uint32(c.receiverISN) + 1 + uint32(c.reassembler.AckIndex()) + extra)
}

// emit finalizes a segment's window/ack fields, queues it for the adapter
// to drain, and if it carries sequence space, tracks it for retransmission
// and starts the timer if it wasn't already running.
func (c *Connection) emit(seg Segment, track bool, startAbs AbsSeqno) {
	seg.Header.Win = c.WindowSize()
	if c.receiverISNSet {
		seg.Header.ACK = true
		seg.Header.Ackno = c.ackno()
	}
	c.segmentsOut = append(c.segmentsOut, seg)
	if track && seg.LengthInSequenceSpace() > 0 {
		c.outgoing = append(c.outgoing, pendingOut{startAbs: startAbs, seg: seg})
		if !c.timerEnabled {
			c.timerEnabled = true
			c.timeElapsed = 0
		}
	}
}

// State returns the FSM state's name.
func (c *Connection) State() string { return c.state.String() }

// Active reports whether the connection is still usable; it becomes false
// only after retransmission exhaustion or reaching CLOSED.
func (c *Connection) Active() bool { return c.active }

// SegmentsOut drains and returns all segments queued for transmission
// since the last call.
func (c *Connection) SegmentsOut() []Segment {
	out := c.segmentsOut
	c.segmentsOut = nil
	return out
}

// InboundStream is the stream the application writes to be sent.
func (c *Connection) InboundStream() *ByteStream { return c.inboundStream }

// OutboundStream is the stream the application reads received data from.
func (c *Connection) OutboundStream() *ByteStream { return c.reassembler.Out() }

// BytesInFlight is the total sequence space sent but not yet acknowledged.
func (c *Connection) BytesInFlight() int {
	total := 0
	for _, o := range c.outgoing {
		total += o.seg.LengthInSequenceSpace()
	}
	return total
}

// WindowSize is this side's currently advertised receive window.
func (c *Connection) WindowSize() uint16 {
	w := c.cfg.RecvCapacity - c.reassembler.Out().Size()
	if w < 0 {
		w = 0
	}
	if w > 0xffff {
		w = 0xffff
	}
	return uint16(w)
}

// Ackno is the ACK value this side would currently advertise.
func (c *Connection) Ackno() Seqno { return c.ackno() }

// RTO is the current retransmission timeout.
func (c *Connection) RTO() time.Duration { return c.rto }

// ConsecutiveRetx is the number of back-to-back retransmissions of the
// oldest unacked segment since it was last freshly acknowledged.
func (c *Connection) ConsecutiveRetx() int { return c.consecutiveRetx }
