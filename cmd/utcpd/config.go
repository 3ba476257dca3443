package main

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tcpstack/utcp/internal/adapter"
	"github.com/tcpstack/utcp/internal/tcpengine"
)

// DaemonConfig is the on-disk shape of utcpd's YAML config file; any field
// left unset falls back to the engine's own defaults or to a flag.
type DaemonConfig struct {
	TCP     tcpengine.Config `yaml:"tcp"`
	Adapter AdapterFileConfig `yaml:"adapter"`
	Metrics string           `yaml:"metrics_addr"`
}

// AdapterFileConfig mirrors adapter.Config but with string-typed IPv4
// fields, since net.IP doesn't round-trip through YAML the way a plain
// dotted-quad string does.
type AdapterFileConfig struct {
	SAddr      string `yaml:"saddr"`
	SPort      uint16 `yaml:"sport"`
	DAddr      string `yaml:"daddr"`
	DPort      uint16 `yaml:"dport"`
	LossRateUp int    `yaml:"loss_rate_up"`
	LossRateDn int    `yaml:"loss_rate_dn"`
	Iface      string `yaml:"iface"`
}

func (a AdapterFileConfig) toAdapterConfig() adapter.Config {
	return adapter.Config{
		SAddr:      net.ParseIP(a.SAddr),
		SPort:      a.SPort,
		DAddr:      net.ParseIP(a.DAddr),
		DPort:      a.DPort,
		LossRateUp: a.LossRateUp,
		LossRateDn: a.LossRateDn,
	}
}

// loadDaemonConfig reads path if non-empty and it exists; a missing path
// (the default) is not an error, it just yields TCP defaults and an empty
// adapter config for flags to fill in.
func loadDaemonConfig(path string) (DaemonConfig, error) {
	cfg := DaemonConfig{TCP: tcpengine.DefaultConfig()}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.TCP = cfg.TCP.WithDefaults()
	return cfg, nil
}
