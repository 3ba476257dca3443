package tcpengine

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IPv4HeaderLen is the fixed, option-less IPv4 header length.
const IPv4HeaderLen = 20

const defaultTTL = 64

// IDContext hands out the process-wide monotonic 16-bit IPv4 identification
// counter. It is an explicit, passed-in value rather than a package global
// so that multiple independent stacks (e.g. in tests) don't share state.
type IDContext struct {
	next uint32
}

// NewIDContext creates an identification counter starting at zero.
func NewIDContext() *IDContext { return &IDContext{} }

// Next returns the next identification value, wrapping modulo 2^16.
func (c *IDContext) Next() uint16 {
	id := uint16(c.next % 65536)
	c.next++
	return id
}

// IPv4Header is the fixed 20-byte IPv4 header (RFC 791, no options).
type IPv4Header struct {
	TOS            uint8
	TotalLen       uint16
	ID             uint16
	DF             bool
	MF             bool
	FragmentOffset uint16 // 13 bits
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	SrcIP          net.IP
	DstIP          net.IP
}

func (h IPv4Header) serialize() []byte {
	buf := make([]byte, IPv4HeaderLen)
	buf[0] = (4 << 4) | (IPv4HeaderLen / 4)
	buf[1] = h.TOS
	binary.BigEndian.PutUint16(buf[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(buf[4:6], h.ID)

	flagsOffset := h.FragmentOffset & 0x1fff
	if h.DF {
		flagsOffset |= 1 << 14
	}
	if h.MF {
		flagsOffset |= 1 << 13
	}
	binary.BigEndian.PutUint16(buf[6:8], flagsOffset)

	buf[8] = h.TTL
	buf[9] = h.Protocol
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum computed below
	copy(buf[12:16], h.SrcIP.To4())
	copy(buf[16:20], h.DstIP.To4())

	cksum := internetChecksum(buf)
	binary.BigEndian.PutUint16(buf[10:12], cksum)
	return buf
}

func deserializeIPv4Header(data []byte) (IPv4Header, error) {
	if len(data) < IPv4HeaderLen {
		return IPv4Header{}, fmt.Errorf("ipv4 header too short: %d bytes", len(data))
	}
	versionIHL := data[0]
	if versionIHL>>4 != 4 {
		return IPv4Header{}, fmt.Errorf("unsupported ip version: %d", versionIHL>>4)
	}
	ihl := int(versionIHL&0x0f) * 4
	if ihl < IPv4HeaderLen {
		return IPv4Header{}, fmt.Errorf("ipv4 header length too small: %d", ihl)
	}

	flagsOffset := binary.BigEndian.Uint16(data[6:8])

	h := IPv4Header{
		TOS:            data[1],
		TotalLen:       binary.BigEndian.Uint16(data[2:4]),
		ID:             binary.BigEndian.Uint16(data[4:6]),
		DF:             flagsOffset&(1<<14) != 0,
		MF:             flagsOffset&(1<<13) != 0,
		FragmentOffset: flagsOffset & 0x1fff,
		TTL:            data[8],
		Protocol:       data[9],
		Checksum:       binary.BigEndian.Uint16(data[10:12]),
		SrcIP:          net.IP(append([]byte(nil), data[12:16]...)),
		DstIP:          net.IP(append([]byte(nil), data[16:20]...)),
	}
	return h, nil
}

// IPv4Datagram is an IPv4 header plus payload.
type IPv4Datagram struct {
	Header  IPv4Header
	Payload []byte
}

// NewIPv4Datagram builds a datagram with reasonable defaults (DF set, TTL
// 64, protocol TCP) given an identification context.
func NewIPv4Datagram(ids *IDContext, srcIP, dstIP net.IP, payload []byte) IPv4Datagram {
	return IPv4Datagram{
		Header: IPv4Header{
			ID:       ids.Next(),
			DF:       true,
			TTL:      defaultTTL,
			Protocol: ipProtoTCP,
			SrcIP:    srcIP,
			DstIP:    dstIP,
		},
		Payload: payload,
	}
}

// Serialize renders the full IPv4 datagram, filling in TotalLen and the
// header checksum.
func (d IPv4Datagram) Serialize() []byte {
	d.Header.TotalLen = uint16(IPv4HeaderLen + len(d.Payload))
	hdr := d.Header.serialize()
	out := make([]byte, 0, len(hdr)+len(d.Payload))
	out = append(out, hdr...)
	out = append(out, d.Payload...)
	return out
}

// DeserializeIPv4Datagram parses an IPv4 datagram, validating the header
// checksum and that TotalLen fits within the supplied buffer (bytes past
// TotalLen are ignored). It returns
// ok=false (no error) for malformed input, matching the other codec
// functions' drop-silently contract.
func DeserializeIPv4Datagram(data []byte) (IPv4Datagram, bool) {
	h, err := deserializeIPv4Header(data)
	if err != nil {
		return IPv4Datagram{}, false
	}
	ihl := IPv4HeaderLen
	if int(h.TotalLen) > len(data) || int(h.TotalLen) < ihl {
		return IPv4Datagram{}, false
	}

	headerCopy := append([]byte(nil), data[:ihl]...)
	headerCopy[10], headerCopy[11] = 0, 0
	if internetChecksum(headerCopy) != h.Checksum {
		return IPv4Datagram{}, false
	}

	payload := data[ihl:h.TotalLen]
	return IPv4Datagram{Header: h, Payload: append([]byte(nil), payload...)}, true
}
