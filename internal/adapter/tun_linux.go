//go:build linux

package adapter

import (
	"fmt"
	"log/slog"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tcpstack/utcp/internal/tcpengine"
)

// TUNAdapter reads and writes whole IPv4 datagrams through a Linux TUN
// device, unwrapping/wrapping the TCP segment each carries. Unlike
// UDPAdapter it can optionally run in listening mode, in which the peer's
// 4-tuple is learned from the first inbound SYN rather than fixed up
// front.
type TUNAdapter struct {
	cfg       Config
	fd        int
	file      *os.File
	log       *slog.Logger
	ids       *tcpengine.IDContext
	listening bool
}

const (
	tunDevicePath = "/dev/net/tun"
	ifnameSize    = 16
)

// ifreq mirrors struct ifreq's name+flags prefix as used by TUNSETIFF;
// only the fields the ioctl reads are modeled.
type ifreq struct {
	name  [ifnameSize]byte
	flags uint16
	_     [22]byte // pad to the kernel's sizeof(struct ifreq)
}

// NewTUNAdapter opens ifname (creating it if necessary) as a TUN interface
// and configures it per cfg. When listening is true, the adapter accepts
// the first valid inbound SYN from any peer and learns cfg.DAddr/DPort
// from it, mirroring set_listening() at the adapter layer.
func NewTUNAdapter(ifname string, cfg Config, listening bool, logger *slog.Logger) (*TUNAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(tunDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("adapter: open %s: %w", tunDevicePath, err)
	}

	var req ifreq
	copy(req.name[:], ifname)
	req.flags = unix.IFF_TUN | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		f.Fd(),
		uintptr(unix.TUNSETIFF),
		uintptr(unsafe.Pointer(&req)),
	); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("adapter: TUNSETIFF %s: %w", ifname, errno)
	}

	// f.Fd() switches the descriptor to blocking mode; ReadSegment must not
	// block, so switch it back.
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		f.Close()
		return nil, fmt.Errorf("adapter: set nonblocking %s: %w", ifname, err)
	}

	return &TUNAdapter{
		cfg:       cfg,
		fd:        fd,
		file:      f,
		log:       logger,
		ids:       tcpengine.NewIDContext(),
		listening: listening,
	}, nil
}

// ReadSegment reads one IPv4 datagram from the TUN device, non-blocking,
// and returns the TCP segment it carries if it matches this adapter's
// configured (or, in listening mode, not-yet-learned) endpoints.
func (a *TUNAdapter) ReadSegment() (tcpengine.Segment, bool) {
	buf := make([]byte, 65535)
	n, err := unix.Read(a.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return tcpengine.Segment{}, false
		}
		a.log.Warn("tun adapter read failed", "error", err)
		return tcpengine.Segment{}, false
	}
	if shouldDrop(a.cfg.LossRateDn) {
		return tcpengine.Segment{}, false
	}

	dgram, ok := tcpengine.DeserializeIPv4Datagram(buf[:n])
	if !ok || dgram.Header.Protocol != 6 {
		return tcpengine.Segment{}, false
	}
	if !a.listening {
		if !dgram.Header.DstIP.Equal(a.cfg.SAddr) || !dgram.Header.SrcIP.Equal(a.cfg.DAddr) {
			return tcpengine.Segment{}, false
		}
	}

	seg, ok := tcpengine.DeserializeSegment(dgram.Header.SrcIP, dgram.Header.DstIP, dgram.Payload)
	if !ok {
		return tcpengine.Segment{}, false
	}

	if a.listening {
		if !seg.Header.SYN || seg.Header.RST {
			return tcpengine.Segment{}, false
		}
		a.cfg.SAddr = dgram.Header.DstIP
		a.cfg.SPort = seg.Header.DstPort
		a.cfg.DAddr = dgram.Header.SrcIP
		a.cfg.DPort = seg.Header.SrcPort
		a.listening = false
	}
	if seg.Header.DstPort != a.cfg.SPort {
		return tcpengine.Segment{}, false
	}
	return seg, true
}

// WriteSegment wraps seg in an IPv4 datagram addressed per this adapter's
// 4-tuple and writes it to the TUN device.
func (a *TUNAdapter) WriteSegment(seg tcpengine.Segment) error {
	if shouldDrop(a.cfg.LossRateUp) {
		return nil
	}
	a.cfg.fillEndpoints(&seg)
	dgram := tcpengine.NewIPv4Datagram(a.ids, a.cfg.SAddr, a.cfg.DAddr, seg.Serialize())
	if _, err := unix.Write(a.fd, dgram.Serialize()); err != nil {
		return fmt.Errorf("adapter: write tun: %w", err)
	}
	return nil
}

// FileDescriptor exposes the TUN fd for an event loop's poll set.
func (a *TUNAdapter) FileDescriptor() uintptr { return uintptr(a.fd) }

// Close releases the TUN device.
func (a *TUNAdapter) Close() error { return a.file.Close() }
