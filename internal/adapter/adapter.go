// Package adapter carries serialized TCP segments between the engine in
// internal/tcpengine and a concrete transport: a raw UDP socket for
// testing, or a TUN device for talking to the real kernel network stack.
package adapter

import (
	"math/rand/v2"
	"net"

	"github.com/tcpstack/utcp/internal/tcpengine"
)

// Config is the adapter's IPv4 4-tuple plus the artificial-loss knobs
// carried over from the reference implementation this engine's test suite
// was built against: percent chances, in [0,100], of silently dropping a
// segment in each direction. They default to zero (no loss) and exist
// purely to exercise retransmission under controlled conditions.
type Config struct {
	SAddr      net.IP `yaml:"saddr"`
	SPort      uint16 `yaml:"sport"`
	DAddr      net.IP `yaml:"daddr"`
	DPort      uint16 `yaml:"dport"`
	LossRateUp int    `yaml:"loss_rate_up"`
	LossRateDn int    `yaml:"loss_rate_dn"`
}

// shouldDrop reports whether a segment should be silently dropped to
// simulate loss, per a configured percent chance in [0,100]. Callers treat
// a drop exactly like "nothing ready"/"nothing sent" rather than a
// transport failure, the same as real loss on a lossy link.
func shouldDrop(percent int) bool {
	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}
	return rand.IntN(100) < percent
}

// fillEndpoints stamps the adapter's configured source/destination onto a
// segment the engine is about to emit, since the core leaves those fields
// blank (§6 of the design this follows treats addressing as the adapter's
// concern, not the engine's).
func (c Config) fillEndpoints(seg *tcpengine.Segment) {
	seg.SrcIP = c.SAddr
	seg.DstIP = c.DAddr
	seg.Header.SrcPort = c.SPort
	seg.Header.DstPort = c.DPort
}
