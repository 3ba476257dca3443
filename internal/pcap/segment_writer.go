package pcap

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tcpstack/utcp/internal/tcpengine"
)

// SegmentLogger serializes IPv4 datagrams carrying TCP segments to a
// LinkTypeRaw pcap stream, so a capture of this engine's traffic can be
// opened directly in Wireshark. It is safe for concurrent use by an
// event loop and an adapter goroutine writing independently.
type SegmentLogger struct {
	mu  sync.Mutex
	w   *Writer
	ids *tcpengine.IDContext
}

// NewSegmentLogger wraps out with a pcap global header already written.
func NewSegmentLogger(out io.Writer) (*SegmentLogger, error) {
	w := NewWriter(out)
	if err := w.WriteFileHeader(1<<16-1, LinkTypeRaw); err != nil {
		return nil, fmt.Errorf("pcap: open segment logger: %w", err)
	}
	return &SegmentLogger{w: w, ids: tcpengine.NewIDContext()}, nil
}

// LogSegment wraps seg in a throwaway IPv4 datagram and appends it to the
// capture, stamped with the current wall-clock time.
func (l *SegmentLogger) LogSegment(seg tcpengine.Segment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	wire := seg.Serialize()
	dgram := tcpengine.NewIPv4Datagram(l.ids, seg.SrcIP, seg.DstIP, wire)
	data := dgram.Serialize()
	return l.w.WritePacket(CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}
