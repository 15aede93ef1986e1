package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleywu/tunroute/internal/routing/entities"
)

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWrongArityPrintsUsage(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"10.0.85.1", "203.0.113.7"},
		{"on", "10.0.85.1"},
		{"on", "10.0.85.1", "203.0.113.7", "192.168.1.1"},
		{"off", "10.0.85.1", "203.0.113.7"},
		{"status", "10.0.85.1"},
	} {
		out, err := execute(args...)
		require.Error(t, err, args)
		assert.Contains(t, out, "Usage:", args)
	}
}

func TestBareInvocationIsBadArguments(t *testing.T) {
	_, err := execute()
	require.Error(t, err)
	assert.True(t, entities.IsKind(err, entities.ErrBadArguments))
}

func TestBadAddressFailsBeforeTouchingTable(t *testing.T) {
	out, err := execute("on", "10.0.85.1", "proxy.example.com")
	require.Error(t, err)
	assert.True(t, entities.IsKind(err, entities.ErrAddressParse))
	assert.Contains(t, err.Error(), "could not parse proxy server IP")
	assert.NotContains(t, out, "Usage:")

	_, err = execute("off", "10.0.85.1", "203.0.113.7", "255.255.255.255")
	assert.True(t, entities.IsKind(err, entities.ErrAddressParse))

	_, err = execute("on", "10.0.85.1", "203.0.113.7", "--dns", "dns.google")
	assert.True(t, entities.IsKind(err, entities.ErrAddressParse))
}

func TestVersion(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.Contains(t, out, "tunroute "+version)
	assert.Contains(t, out, "Platform:")
}
