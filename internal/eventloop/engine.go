package eventloop

import (
	"io"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tcpstack/utcp/internal/tcpengine"
)

// fdReaderWriter is the subset of *os.File / *net.TCPConn this package
// needs to poll an application-side stream by file descriptor.
type fdReaderWriter interface {
	io.Reader
	io.Writer
}

// Engine wires a tcpengine.Connection to an adapter (SegmentSource/Sink
// over a pollable fd) and an application stream (also pollable), and
// registers the four ready-conditions the core's concurrency model is
// defined against: adapter-readable, adapter-writable, app-readable,
// app-writable.
type Engine struct {
	conn *tcpengine.Connection
	src  tcpengine.SegmentSource
	sink tcpengine.SegmentSink
	app  fdReaderWriter
	log  *slog.Logger

	pendingOut []tcpengine.Segment
}

// Attach registers an Engine's rules on loop. adapterFD and appFD are the
// fds to poll for the adapter and the application stream respectively.
func Attach(loop *Loop, conn *tcpengine.Connection, src tcpengine.SegmentSource, sink tcpengine.SegmentSink, adapterFD int, app fdReaderWriter, appFD int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{conn: conn, src: src, sink: sink, app: app, log: logger}

	loop.AddRule(&Rule{
		FD:       adapterFD,
		Events:   unix.POLLIN,
		Interest: func() bool { return true },
		Callback: e.onAdapterReadable,
	})
	loop.AddRule(&Rule{
		FD:       adapterFD,
		Events:   unix.POLLOUT,
		Interest: func() bool { return len(e.pendingOut) > 0 },
		Callback: e.onAdapterWritable,
	})
	if app != nil {
		loop.AddRule(&Rule{
			FD:       appFD,
			Events:   unix.POLLIN,
			Interest: func() bool { return e.conn.Active() && e.conn.InboundStream().RemainingCapacity() > 0 },
			Callback: e.onAppReadable,
		})
		loop.AddRule(&Rule{
			FD:       appFD,
			Events:   unix.POLLOUT,
			Interest: func() bool { return !e.conn.OutboundStream().Empty() },
			Callback: e.onAppWritable,
		})
	}
	return e
}

func (e *Engine) drainOutgoing() {
	e.pendingOut = append(e.pendingOut, e.conn.SegmentsOut()...)
}

func (e *Engine) onAdapterReadable() error {
	for {
		seg, ok := e.src.ReadSegment()
		if !ok {
			break
		}
		e.conn.SegmentReceived(seg)
	}
	e.drainOutgoing()
	return nil
}

func (e *Engine) onAdapterWritable() error {
	for len(e.pendingOut) > 0 {
		seg := e.pendingOut[0]
		if err := e.sink.WriteSegment(seg); err != nil {
			return err
		}
		e.pendingOut = e.pendingOut[1:]
	}
	return nil
}

func (e *Engine) onAppReadable() error {
	buf := make([]byte, e.conn.InboundStream().RemainingCapacity())
	n, err := e.app.Read(buf)
	if n > 0 {
		e.conn.Write(buf[:n])
		e.drainOutgoing()
	}
	if err != nil && err != io.EOF {
		return err
	}
	if err == io.EOF {
		e.conn.ShutdownWrite()
		e.drainOutgoing()
	}
	return nil
}

func (e *Engine) onAppWritable() error {
	out := e.conn.OutboundStream()
	chunk := out.PeekOutput(out.Size())
	if len(chunk) == 0 {
		return nil
	}
	n, err := e.app.Write(chunk)
	if n > 0 {
		out.PopOutput(n)
	}
	return err
}

// Tick advances the wrapped connection's timers and drains any segments
// the timer produced (retransmissions, RST). Pass this as the Loop's tick
// callback.
func (e *Engine) Tick(elapsed time.Duration) {
	e.conn.Tick(elapsed)
	e.drainOutgoing()
}
