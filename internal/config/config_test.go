package config

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleywu/tunroute/internal/routing/entities"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, net.IP{8, 8, 8, 8}, cfg.DNSBypass)
	assert.Equal(t, 4, cfg.ProbeConcurrency)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.False(t, cfg.DryRun)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"valid config", func(*Config) {}, false},
		{"debug level", func(c *Config) { c.LogLevel = "DEBUG" }, false},
		{"invalid log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"ipv6 dns", func(c *Config) { c.DNSBypass = net.ParseIP("2001:4860:4860::8888") }, true},
		{"missing dns", func(c *Config) { c.DNSBypass = nil }, true},
		{"zero concurrency", func(c *Config) { c.ProbeConcurrency = 0 }, true},
		{"zero timeout", func(c *Config) { c.ProbeTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseIPv4(t *testing.T) {
	ip, err := ParseIPv4("proxy server", " 203.0.113.7 ")
	require.NoError(t, err)
	assert.Equal(t, net.IP{203, 0, 113, 7}, ip)

	for _, bad := range []string{"", "example.com", "10.0.0", "300.1.1.1", "::1", "::ffff:10.0.0.1", "255.255.255.255"} {
		_, err := ParseIPv4("proxy server", bad)
		require.Error(t, err, bad)
		assert.True(t, entities.IsKind(err, entities.ErrAddressParse), bad)
		assert.Contains(t, err.Error(), "could not parse proxy server IP")
	}
}

func TestParseDNSBypass(t *testing.T) {
	ip, err := ParseDNSBypass("")
	require.NoError(t, err)
	assert.Equal(t, net.IP{8, 8, 8, 8}, ip)

	ip, err = ParseDNSBypass("1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, net.IP{1, 1, 1, 1}, ip)

	_, err = ParseDNSBypass("dns.google")
	assert.True(t, entities.IsKind(err, entities.ErrAddressParse))
}
