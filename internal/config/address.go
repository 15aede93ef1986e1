package config

import (
	"net"
	"strings"

	"github.com/wesleywu/tunroute/internal/routing/entities"
)

// ParseIPv4 parses a dotted-quad IPv4 address given for the named argument.
// The limited broadcast address is rejected: it is the error value of the
// classic inet_addr API and never a valid gateway or server.
func ParseIPv4(name, value string) (net.IP, error) {
	ip := net.ParseIP(strings.TrimSpace(value))
	if ip == nil || ip.To4() == nil || strings.Contains(value, ":") {
		return nil, &entities.RouteError{
			Kind:    entities.ErrAddressParse,
			Message: "could not parse " + name + " IP " + quote(value),
		}
	}

	ip4 := ip.To4()
	if ip4.Equal(net.IPv4bcast) {
		return nil, &entities.RouteError{
			Kind:    entities.ErrAddressParse,
			Message: "could not parse " + name + " IP " + quote(value),
		}
	}

	return ip4, nil
}

// ParseDNSBypass parses the --dns flag value
func ParseDNSBypass(value string) (net.IP, error) {
	if strings.TrimSpace(value) == "" {
		value = DefaultDNSBypass
	}
	return ParseIPv4("DNS bypass", value)
}

func quote(s string) string {
	return "\"" + s + "\""
}
