package tcpengine

import (
	"encoding/binary"
	"net"
)

// TCPHeaderLen is the fixed, option-less TCP header length this engine
// emits and expects (data offset = 5).
const TCPHeaderLen = 20

const ipProtoTCP = 6

// TCP flag bits within the 6-bit flags field (URG ACK PSH RST SYN FIN).
const (
	flagFIN = 1 << 0
	flagSYN = 1 << 1
	flagRST = 1 << 2
	flagPSH = 1 << 3
	flagACK = 1 << 4
	flagURG = 1 << 5
)

// TCPHeader is the 20-byte, option-less TCP header.
type TCPHeader struct {
	SrcPort uint16
	DstPort uint16
	Seqno   Seqno
	Ackno   Seqno
	DataOff uint8 // in 32-bit words; always 5 for segments this engine builds
	URG     bool
	ACK     bool
	PSH     bool
	RST     bool
	SYN     bool
	FIN     bool
	Win     uint16
	Cksum   uint16
	Urgent  uint16
}

func (h TCPHeader) flags() uint8 {
	var f uint8
	if h.URG {
		f |= flagURG
	}
	if h.ACK {
		f |= flagACK
	}
	if h.PSH {
		f |= flagPSH
	}
	if h.RST {
		f |= flagRST
	}
	if h.SYN {
		f |= flagSYN
	}
	if h.FIN {
		f |= flagFIN
	}
	return f
}

// Segment is a TCP header plus payload, carrying the IPv4 endpoints needed
// only to compute the pseudo-header checksum on the wire.
type Segment struct {
	Header  TCPHeader
	Payload []byte
	SrcIP   net.IP
	DstIP   net.IP
}

// LengthInSequenceSpace is len(Payload) plus one for each of SYN and FIN.
func (s Segment) LengthInSequenceSpace() int {
	n := len(s.Payload)
	if s.Header.SYN {
		n++
	}
	if s.Header.FIN {
		n++
	}
	return n
}

// serializeHeader packs the 20-byte header (with a correct checksum) for
// the given payload and IPv4 endpoints.
func serializeHeader(h TCPHeader, srcIP, dstIP net.IP, payload []byte) []byte {
	buf := make([]byte, TCPHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Seqno))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Ackno))
	buf[12] = 5 << 4 // data offset, reserved bits zero
	buf[13] = h.flags()
	binary.BigEndian.PutUint16(buf[14:16], h.Win)
	binary.BigEndian.PutUint16(buf[16:18], 0) // checksum computed below
	binary.BigEndian.PutUint16(buf[18:20], h.Urgent)

	cksum := tcpChecksum(srcIP, dstIP, buf, payload)
	binary.BigEndian.PutUint16(buf[16:18], cksum)
	return buf
}

// Serialize renders the segment's wire bytes: header followed by payload.
func (s Segment) Serialize() []byte {
	hdr := serializeHeader(s.Header, s.SrcIP, s.DstIP, s.Payload)
	out := make([]byte, 0, len(hdr)+len(s.Payload))
	out = append(out, hdr...)
	out = append(out, s.Payload...)
	return out
}

// DeserializeSegment parses a TCP segment from data, validating the
// checksum against the supplied IPv4 endpoints. It returns ok=false for a
// truncated buffer or a checksum mismatch; both are silently-dropped
// conditions per the protocol, not errors.
func DeserializeSegment(srcIP, dstIP net.IP, data []byte) (Segment, bool) {
	if len(data) < TCPHeaderLen {
		return Segment{}, false
	}
	headerLen := int(data[12]>>4) * 4
	if headerLen < TCPHeaderLen || len(data) < headerLen {
		return Segment{}, false
	}

	zeroedCksum := append([]byte(nil), data[:headerLen]...)
	zeroedCksum[16], zeroedCksum[17] = 0, 0
	payload := data[headerLen:]

	got := tcpChecksum(srcIP, dstIP, zeroedCksum, payload)
	want := binary.BigEndian.Uint16(data[16:18])
	if got != want {
		return Segment{}, false
	}

	flags := data[13]
	h := TCPHeader{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Seqno:   Seqno(binary.BigEndian.Uint32(data[4:8])),
		Ackno:   Seqno(binary.BigEndian.Uint32(data[8:12])),
		DataOff: data[12] >> 4,
		URG:     flags&flagURG != 0,
		ACK:     flags&flagACK != 0,
		PSH:     flags&flagPSH != 0,
		RST:     flags&flagRST != 0,
		SYN:     flags&flagSYN != 0,
		FIN:     flags&flagFIN != 0,
		Win:     binary.BigEndian.Uint16(data[14:16]),
		Cksum:   want,
		Urgent:  binary.BigEndian.Uint16(data[18:20]),
	}
	return Segment{Header: h, Payload: append([]byte(nil), payload...), SrcIP: srcIP, DstIP: dstIP}, true
}

// tcpChecksum computes the TCP checksum over the pseudo-header
// (srcIP,dstIP,0,proto=6,len(header)+len(payload)) followed by header and
// payload. The caller must have zeroed the checksum field in header.
func tcpChecksum(srcIP, dstIP net.IP, header, payload []byte) uint16 {
	pseudo := make([]byte, 12)
	copy(pseudo[0:4], srcIP.To4())
	copy(pseudo[4:8], dstIP.To4())
	pseudo[8] = 0
	pseudo[9] = ipProtoTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(header)+len(payload)))

	return internetChecksum(pseudo, header, payload)
}

// internetChecksum computes the RFC 1071 one's-complement checksum over
// the concatenation of the given byte slices.
func internetChecksum(parts ...[]byte) uint16 {
	var sum uint32
	var carry byte
	var haveCarry bool

	for _, p := range parts {
		i := 0
		if haveCarry {
			if len(p) > 0 {
				sum += uint32(carry)<<8 | uint32(p[0])
				i = 1
			} else {
				sum += uint32(carry) << 8
			}
			haveCarry = false
		}
		for ; i+1 < len(p); i += 2 {
			sum += uint32(p[i])<<8 | uint32(p[i+1])
		}
		if i < len(p) {
			carry = p[i]
			haveCarry = true
		}
	}
	if haveCarry {
		sum += uint32(carry) << 8
	}

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
