package tcpengine

import "time"

// fillWindow pushes as much of the inbound (application-written) stream
// onto the wire as the peer's advertised window allows, attaching FIN once
// that stream is drained and ended. It is called after every event that
// can grow the window or produce new data to send: write, ack processing,
// and a peer window update.
func (c *Connection) fillWindow() {
	for {
		window := int(c.receiverWindowSize)
		if window == 0 {
			window = 1 // zero-window probing
		}

		firstUnackedAbs := c.nextSeqnoAbs
		if len(c.outgoing) > 0 {
			firstUnackedAbs = c.outgoing[0].startAbs
		}
		free := window - int(c.nextSeqnoAbs-firstUnackedAbs)
		if free <= 0 {
			return
		}

		take := free
		if take > c.cfg.MaxPayloadSize {
			take = c.cfg.MaxPayloadSize
		}
		if take > c.inboundStream.Size() {
			take = c.inboundStream.Size()
		}

		var payload []byte
		if take > 0 {
			payload = c.inboundStream.Read(take)
		}

		startAbs := c.nextSeqnoAbs
		seg := Segment{Header: TCPHeader{Seqno: Wrap(startAbs, c.senderISN)}, Payload: payload}
		if len(payload) > 0 {
			seg.Header.PSH = true
		}

		fin := free-take >= 1 && c.state == stateEstablished && !c.finSent && c.inboundStream.EOF()
		if fin {
			seg.Header.FIN = true
		}

		if seg.LengthInSequenceSpace() == 0 {
			return
		}

		c.nextSeqnoAbs += AbsSeqno(len(payload))
		if fin {
			c.nextSeqnoAbs++
			c.finSent = true
			c.state = stateFinWait1
		}

		c.emit(seg, true, startAbs)
	}
}

// ackReceived processes a peer ACK: it validates the ackno is plausible,
// retires fully-acknowledged segments from the retransmission queue, and
// resets the retransmission timer on any forward progress.
func (c *Connection) ackReceived(ackno Seqno) {
	ackAbs := Unwrap(ackno, c.senderISN, c.nextSeqnoAbs)

	firstUnackedAbs := c.nextSeqnoAbs
	if len(c.outgoing) > 0 {
		firstUnackedAbs = c.outgoing[0].startAbs
	}
	if ackAbs < firstUnackedAbs || ackAbs > c.nextSeqnoAbs {
		return
	}

	popped := false
	for len(c.outgoing) > 0 {
		o := c.outgoing[0]
		end := o.startAbs + AbsSeqno(o.seg.LengthInSequenceSpace())
		if end > ackAbs {
			break
		}
		if o.seg.Header.FIN {
			c.finAcked = true
		}
		c.outgoing = c.outgoing[1:]
		popped = true
	}

	if popped {
		c.rto = c.cfg.RTTimeout
		c.consecutiveRetx = 0
		c.timeElapsed = 0
	}
	if len(c.outgoing) == 0 {
		c.timerEnabled = false
	}

	c.fillWindow()
}

// Tick advances the connection's clocks by elapsed, driving the
// retransmission timer's exponential backoff and, in TIME_WAIT, the
// 2*MSL close timer.
func (c *Connection) Tick(elapsed time.Duration) {
	if c.state == stateTimeWait {
		c.timeWaitElapsed += elapsed
		if c.timeWaitElapsed >= 2*c.cfg.MSL {
			c.state = stateClosed
			c.active = false
		}
	}

	if !c.timerEnabled {
		return
	}
	c.timeElapsed += elapsed
	if c.timeElapsed < c.rto {
		return
	}

	if c.consecutiveRetx >= c.cfg.MaxRetxAttempts {
		c.active = false
		c.inboundStream.SetError(true)
		c.reassembler.Out().SetError(true)
		c.timerEnabled = false
		rst := Segment{Header: TCPHeader{Seqno: Wrap(c.nextSeqnoAbs, c.senderISN), RST: true}}
		c.emit(rst, false, c.nextSeqnoAbs)
		return
	}

	if len(c.outgoing) > 0 {
		seg := c.outgoing[0].seg
		c.emit(seg, false, c.outgoing[0].startAbs)
	}
	if c.receiverWindowSize > 0 {
		c.rto *= 2
	}
	c.consecutiveRetx++
	c.timeElapsed = 0
}
