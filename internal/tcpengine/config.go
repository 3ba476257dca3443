package tcpengine

import "time"

// Default configuration values (§6 of the design document this engine
// follows; these are the only recognized parameters).
const (
	DefaultSendCapacity    = 64000
	DefaultRecvCapacity    = 64000
	DefaultMaxPayloadSize  = 1000
	DefaultRTTimeout       = 1000 * time.Millisecond
	DefaultMaxRetxAttempts = 8
	DefaultMSL             = 120000 * time.Millisecond
)

// Config holds the tunable parameters of a Connection. Zero-value fields
// are filled with defaults by WithDefaults; callers loading from YAML
// should call WithDefaults after Unmarshal.
type Config struct {
	SendCapacity    int           `yaml:"send_capacity"`
	RecvCapacity    int           `yaml:"recv_capacity"`
	MaxPayloadSize  int           `yaml:"max_payload_size"`
	RTTimeout       time.Duration `yaml:"rt_timeout"`
	MaxRetxAttempts int           `yaml:"max_retx_attempts"`
	MSL             time.Duration `yaml:"msl"`
}

// DefaultConfig returns a Config populated with the spec's default values.
func DefaultConfig() Config {
	return Config{
		SendCapacity:    DefaultSendCapacity,
		RecvCapacity:    DefaultRecvCapacity,
		MaxPayloadSize:  DefaultMaxPayloadSize,
		RTTimeout:       DefaultRTTimeout,
		MaxRetxAttempts: DefaultMaxRetxAttempts,
		MSL:             DefaultMSL,
	}
}

// WithDefaults returns a copy of c with any zero-valued field replaced by
// its default, so a partially-specified YAML document still produces a
// usable configuration.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SendCapacity == 0 {
		c.SendCapacity = d.SendCapacity
	}
	if c.RecvCapacity == 0 {
		c.RecvCapacity = d.RecvCapacity
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = d.MaxPayloadSize
	}
	if c.RTTimeout == 0 {
		c.RTTimeout = d.RTTimeout
	}
	if c.MaxRetxAttempts == 0 {
		c.MaxRetxAttempts = d.MaxRetxAttempts
	}
	if c.MSL == 0 {
		c.MSL = d.MSL
	}
	return c
}
