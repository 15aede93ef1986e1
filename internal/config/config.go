package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultDNSBypass is the resolver whose traffic is routed around the tunnel.
// The tunnel only carries TCP, so DNS to this resolver has to go out directly.
const DefaultDNSBypass = "8.8.8.8"

// Config represents the configuration for the tunnel route switcher
type Config struct {
	LogLevel   string
	SilentMode bool
	DryRun     bool

	// DNSBypass is the resolver that keeps a host route via the previous gateway
	DNSBypass net.IP

	// status probe
	ProbeConcurrency int
	ProbeTimeout     time.Duration
}

// NewConfig creates a new config with default values
func NewConfig() *Config {
	return &Config{
		LogLevel:         "info",
		DNSBypass:        net.ParseIP(DefaultDNSBypass).To4(),
		ProbeConcurrency: 4,
		ProbeTimeout:     5 * time.Second,
	}
}

// Validate checks the config for values the switcher cannot work with
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	if c.DNSBypass.To4() == nil {
		return fmt.Errorf("dns bypass address must be IPv4, got %v", c.DNSBypass)
	}

	if c.ProbeConcurrency < 1 {
		return fmt.Errorf("probe concurrency must be positive, got %d", c.ProbeConcurrency)
	}

	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive, got %v", c.ProbeTimeout)
	}

	return nil
}
