// Package config assembles the functional-option configuration used to
// construct a responder, per §4.J. It follows the teacher's
// responder/options.go pattern of Option func(*T) error, validated
// eagerly rather than deferred to first use.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// DefaultProbeTimeout bounds how long a Register call waits for probing
// and announcing to complete before giving up, per §5.
const DefaultProbeTimeout = 3 * time.Second

// Config holds everything a responder needs to bring itself up: the
// hostname it probes and defends, which interfaces to join multicast
// groups on, where to log, and the two behavioral knobs the source
// exposed as flags.
type Config struct {
	Hostname      string
	Interfaces    []net.Interface
	Logger        *slog.Logger
	ProbeTimeout  time.Duration
	BonjourStrict bool
}

// Option mutates a Config under construction, per the teacher's
// functional-options style. An Option that fails validation returns a
// non-nil error, aborting New before any bad value is used.
type Option func(*Config) error

// New builds a Config from sane defaults and then applies opts in
// order, so later options override earlier ones.
func New(opts ...Option) (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}

	cfg := &Config{
		Hostname:     canonicalHostname(hostname),
		ProbeTimeout: DefaultProbeTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return cfg, nil
}

func canonicalHostname(h string) string {
	for _, c := range h {
		if c == '.' {
			return h
		}
	}
	return h + ".local."
}

// WithHostname overrides the default os.Hostname()-derived name. hostname
// need not carry the trailing ".local." label; it is appended if absent.
func WithHostname(hostname string) Option {
	return func(c *Config) error {
		if hostname == "" {
			return fmt.Errorf("config: hostname must not be empty")
		}
		c.Hostname = canonicalHostname(hostname)
		return nil
	}
}

// WithInterface adds iface to the set of interfaces the responder joins
// multicast groups on and advertises addresses for. Calling it more
// than once accumulates interfaces rather than replacing the set.
func WithInterface(iface net.Interface) Option {
	return func(c *Config) error {
		c.Interfaces = append(c.Interfaces, iface)
		return nil
	}
}

// WithLogger sets the base logger every component's telemetry.For child
// logger derives from. A nil logger is rejected; use the zero-value
// Config (falls back to slog.Default) instead of passing nil explicitly.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return fmt.Errorf("config: logger must not be nil")
		}
		c.Logger = l
		return nil
	}
}

// WithProbeTimeout overrides DefaultProbeTimeout. d must be positive.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("config: probe timeout must be positive, got %s", d)
		}
		c.ProbeTimeout = d
		return nil
	}
}

// WithBonjourStrict disables name-pointer compression on the SRV
// target when a service's records are built, for interop with legacy
// DNS-SD stacks that don't expect a compression pointer inside SRV
// rdata. Most callers should leave this false.
func WithBonjourStrict(strict bool) Option {
	return func(c *Config) error {
		c.BonjourStrict = strict
		return nil
	}
}
