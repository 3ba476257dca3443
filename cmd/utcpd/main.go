// Command utcpd runs one end of a user-space TCP connection: it attaches
// the engine in internal/tcpengine to either a raw UDP adapter or (on
// Linux) a TUN device, drives it through internal/eventloop, and serves
// Prometheus metrics over HTTP, using a flag-driven, run()-error, os.Exit
// CLI shape.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tcpstack/utcp/internal/adapter"
	"github.com/tcpstack/utcp/internal/eventloop"
	"github.com/tcpstack/utcp/internal/metrics"
	"github.com/tcpstack/utcp/internal/resolver"
	"github.com/tcpstack/utcp/internal/tcpengine"
)

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (see DaemonConfig in cmd/utcpd/config.go for the schema)")
	listen := flag.Bool("listen", false, "passive open: wait for an inbound SYN instead of dialing -connect")
	connect := flag.String("connect", "", "host:port to actively open a connection to (resolved via -resolver if host is not an IPv4 literal)")
	localAddr := flag.String("local", "0.0.0.0:0", "local host:port for the UDP adapter")
	resolverAddr := flag.String("resolver", "", "DNS server (host[:53]) used to resolve -connect; required if -connect's host is not an IPv4 literal")
	tunIface := flag.String("tun", "", "Linux TUN interface name; when set, use TUN instead of UDP framing")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9110 (disabled if empty)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `utcpd - run one endpoint of a user-space TCP connection

USAGE:
  utcpd -listen [flags]
  utcpd -connect host:port [flags]

FLAGS:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
  utcpd -listen -local 0.0.0.0:9000 -metrics-addr :9110
  utcpd -connect example.com:9000 -resolver 8.8.8.8 -local 0.0.0.0:0
  utcpd -listen -tun tun0 -metrics-addr :9110
`)
	}
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	if *listen == (*connect != "") {
		flag.Usage()
		return errors.New("exactly one of -listen or -connect must be given")
	}

	daemonCfg, err := loadDaemonConfig(*configPath)
	if err != nil {
		return err
	}
	if *metricsAddr == "" {
		*metricsAddr = daemonCfg.Metrics
	}
	if *tunIface == "" {
		*tunIface = daemonCfg.Adapter.Iface
	}

	adapterCfg := daemonCfg.Adapter.toAdapterConfig()

	if *connect != "" {
		dstIP, dstPort, err := resolveTarget(*connect, *resolverAddr)
		if err != nil {
			return err
		}
		adapterCfg.DAddr = dstIP
		adapterCfg.DPort = dstPort
	}

	localIP, localPort, err := splitLocal(*localAddr)
	if err != nil {
		return err
	}
	if adapterCfg.SAddr == nil {
		adapterCfg.SAddr = localIP
	}
	if adapterCfg.SPort == 0 {
		adapterCfg.SPort = localPort
	}

	engineCfg := daemonCfg.TCP.WithDefaults()
	isn := tcpengine.Seqno(uint32(time.Now().UnixNano()))
	conn := tcpengine.New(engineCfg, isn)

	var src tcpengine.SegmentSource
	var sink tcpengine.SegmentSink
	var adapterFD int
	var closer func() error

	if *tunIface != "" {
		tun, err := adapter.NewTUNAdapter(*tunIface, adapterCfg, *listen, logger)
		if err != nil {
			return fmt.Errorf("utcpd: tun adapter: %w", err)
		}
		src, sink = tun, tun
		adapterFD = int(tun.FileDescriptor())
		closer = tun.Close
	} else {
		udp, err := adapter.NewUDPAdapter(adapterCfg, logger)
		if err != nil {
			return fmt.Errorf("utcpd: udp adapter: %w", err)
		}
		src, sink = udp, udp
		fd, err := udp.FileDescriptor()
		if err != nil {
			return fmt.Errorf("utcpd: udp adapter fd: %w", err)
		}
		adapterFD = int(fd)
		closer = udp.Close
	}
	defer closer()

	collector := metrics.NewConnectionCollector([]string{"role"}, nil)
	role := "active"
	if *listen {
		role = "passive"
	}
	collector.Add(conn, []string{role})
	prometheus.MustRegister(collector)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", *metricsAddr)
	}

	var engine *eventloop.Engine
	loop := eventloop.New(func(elapsed time.Duration) { engine.Tick(elapsed) }, logger)
	engine = eventloop.Attach(loop, conn, src, sink, adapterFD, nil, 0, logger)

	if *listen {
		conn.SetListening()
		logger.Info("listening", "local", fmt.Sprintf("%s:%d", adapterCfg.SAddr, adapterCfg.SPort))
	} else {
		conn.Connect()
		logger.Info("connecting", "remote", fmt.Sprintf("%s:%d", adapterCfg.DAddr, adapterCfg.DPort))
	}

	for conn.Active() && conn.State() != "CLOSED" {
		if _, err := loop.RunOnce(100 * time.Millisecond); err != nil {
			return fmt.Errorf("utcpd: event loop: %w", err)
		}
	}

	logger.Info("connection closed", "state", conn.State())
	return nil
}

func resolveTarget(connect, resolverAddr string) (net.IP, uint16, error) {
	host, portStr, err := net.SplitHostPort(connect)
	if err != nil {
		return nil, 0, fmt.Errorf("utcpd: -connect %q: %w", connect, err)
	}
	if ip := net.ParseIP(host); ip != nil {
		port, err := net.LookupPort("tcp", portStr)
		if err != nil {
			return nil, 0, fmt.Errorf("utcpd: -connect %q: %w", connect, err)
		}
		return ip.To4(), uint16(port), nil
	}
	if resolverAddr == "" {
		return nil, 0, fmt.Errorf("utcpd: -connect host %q is not an IPv4 literal, -resolver is required", host)
	}
	r := resolver.New(resolverAddr)
	return resolver.ResolveHostPort(r, connect)
}

func splitLocal(addr string) (net.IP, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("utcpd: -local %q: %w", addr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0, fmt.Errorf("utcpd: -local %q: invalid IP", addr)
	}
	port, err := net.LookupPort("udp", portStr)
	if err != nil {
		return nil, 0, fmt.Errorf("utcpd: -local %q: %w", addr, err)
	}
	return ip.To4(), uint16(port), nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "utcpd: %v\n", err)
		os.Exit(1)
	}
}
