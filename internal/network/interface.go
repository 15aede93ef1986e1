package network

import (
	"fmt"
	"net"
	"strings"
)

// InterfaceInfo describes the local adapter a destination is reached through
type InterfaceInfo struct {
	Index  int
	Name   string
	MTU    int
	IsUp   bool
	Tunnel bool
}

// GetInterfaceByIndex looks up the adapter with the given index
func GetInterfaceByIndex(index int) (*InterfaceInfo, error) {
	iface, err := net.InterfaceByIndex(index)
	if err != nil {
		return nil, fmt.Errorf("interface %d not found: %w", index, err)
	}

	return &InterfaceInfo{
		Index:  iface.Index,
		Name:   iface.Name,
		MTU:    iface.MTU,
		IsUp:   iface.Flags&net.FlagUp != 0,
		Tunnel: IsTunnelInterface(iface.Name),
	}, nil
}

// IsTunnelInterface checks if the given interface name belongs to a tunnel adapter
func IsTunnelInterface(interfaceName string) bool {
	name := strings.ToLower(interfaceName)

	// Common tunnel interface patterns
	tunnelPrefixes := []string{"utun", "tun", "tap", "ppp", "ipsec", "wg", "wintun"}
	for _, prefix := range tunnelPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	// Windows adapters carry a description-like name
	return strings.Contains(name, "tap-windows") || strings.Contains(name, "wintun")
}
