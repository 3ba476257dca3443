package adapter

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/tcpstack/utcp/internal/tcpengine"
)

// UDPAdapter carries raw TCP segment bytes inside UDP datagrams, with no
// IPv4 framing of its own — useful for running the engine over an
// ordinary routed network or for tests that don't need TUN/root access.
type UDPAdapter struct {
	cfg  Config
	conn *net.UDPConn
	log  *slog.Logger

	incoming chan tcpengine.Segment
	closed   chan struct{}
}

// NewUDPAdapter binds a UDP socket per cfg and starts its background
// receive loop. The returned adapter implements tcpengine.SegmentSource
// and tcpengine.SegmentSink.
func NewUDPAdapter(cfg Config, logger *slog.Logger) (*UDPAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: cfg.SAddr, Port: int(cfg.SPort)})
	if err != nil {
		return nil, fmt.Errorf("adapter: listen udp: %w", err)
	}

	a := &UDPAdapter{
		cfg:      cfg,
		conn:     conn,
		log:      logger,
		incoming: make(chan tcpengine.Segment, 256),
		closed:   make(chan struct{}),
	}
	go a.recvLoop()
	return a, nil
}

func (a *UDPAdapter) recvLoop() {
	buf := make([]byte, 65535)
	for {
		n, _, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-a.closed:
				return
			default:
				a.log.Warn("udp adapter read failed", "error", err)
				return
			}
		}
		if shouldDrop(a.cfg.LossRateDn) {
			continue
		}
		seg, ok := tcpengine.DeserializeSegment(a.cfg.DAddr, a.cfg.SAddr, buf[:n])
		if !ok {
			a.log.Debug("udp adapter dropped malformed segment", "bytes", n)
			continue
		}
		select {
		case a.incoming <- seg:
		default:
			a.log.Warn("udp adapter incoming queue full, dropping segment")
		}
	}
}

// ReadSegment implements tcpengine.SegmentSource without blocking.
func (a *UDPAdapter) ReadSegment() (tcpengine.Segment, bool) {
	select {
	case seg := <-a.incoming:
		return seg, true
	default:
		return tcpengine.Segment{}, false
	}
}

// WriteSegment implements tcpengine.SegmentSink.
func (a *UDPAdapter) WriteSegment(seg tcpengine.Segment) error {
	if shouldDrop(a.cfg.LossRateUp) {
		return nil
	}
	a.cfg.fillEndpoints(&seg)
	wire := seg.Serialize()
	_, err := a.conn.WriteToUDP(wire, &net.UDPAddr{IP: a.cfg.DAddr, Port: int(a.cfg.DPort)})
	if err != nil {
		return fmt.Errorf("adapter: write udp: %w", err)
	}
	return nil
}

// Close releases the underlying socket and stops the receive loop.
func (a *UDPAdapter) Close() error {
	close(a.closed)
	return a.conn.Close()
}

// FileDescriptor exposes the socket's file descriptor for an event loop
// that wants to poll it directly (golang.org/x/sys/unix.Poll) rather than
// rely on the background goroutine's channel.
func (a *UDPAdapter) FileDescriptor() (uintptr, error) {
	sc, err := a.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	if err := sc.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, err
	}
	return fd, nil
}
