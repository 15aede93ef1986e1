package entities

import (
	"fmt"
	"net"
)

// Management tags stamped on every row this tool creates.
const (
	// RouteTypeIndirect marks a route whose next hop is not the final destination
	RouteTypeIndirect uint32 = 4
	// RouteProtoNetMgmt marks a route created by network management
	RouteProtoNetMgmt uint32 = 3
)

var (
	// IPv4Zero is the all-zero destination and mask of a default route
	IPv4Zero = net.IPv4zero.To4()
	// HostMask restricts a route to a single IPv4 destination
	HostMask = net.CIDRMask(32, 32)
	// DefaultMask matches every IPv4 destination
	DefaultMask = net.CIDRMask(0, 32)
)

// RouteEntry represents one row of the IPv4 forwarding table
type RouteEntry struct {
	Destination    net.IP     // Destination address, 4-byte form
	Mask           net.IPMask // Destination mask
	NextHop        net.IP     // Next hop (gateway) address
	InterfaceIndex uint32     // Outbound interface index
	Metric         uint32     // Route metric/priority
	Type           uint32     // Route type tag
	Protocol       uint32     // Routing protocol tag

	// Native is the platform's own representation of the row, kept so the
	// exact row that was read can be deleted again.
	Native any
}

// Interface describes the outbound interface chosen to reach a destination
type Interface struct {
	Index  uint32
	Metric uint32
}

// NewDefaultRoute builds a default route via gateway on the given interface
func NewDefaultRoute(gateway net.IP, iface Interface) RouteEntry {
	return newTemplateRoute(IPv4Zero, DefaultMask, gateway, iface)
}

// NewHostRoute builds a route to the single address destination via gateway
func NewHostRoute(destination, gateway net.IP, iface Interface) RouteEntry {
	return newTemplateRoute(destination, HostMask, gateway, iface)
}

func newTemplateRoute(destination net.IP, mask net.IPMask, gateway net.IP, iface Interface) RouteEntry {
	return RouteEntry{
		Destination:    To4(destination),
		Mask:           mask,
		NextHop:        To4(gateway),
		InterfaceIndex: iface.Index,
		Metric:         iface.Metric,
		Type:           RouteTypeIndirect,
		Protocol:       RouteProtoNetMgmt,
	}
}

// IsDefault reports whether the route is a default (catch-all) route
func (r RouteEntry) IsDefault() bool {
	dst := r.Destination.To4()
	return dst != nil && dst.Equal(IPv4Zero)
}

// IsHost reports whether the route is restricted to a single destination
func (r RouteEntry) IsHost() bool {
	ones, bits := r.Mask.Size()
	return bits == 32 && ones == 32
}

// String returns a compact, human-readable form of the route
func (r RouteEntry) String() string {
	ones, _ := r.Mask.Size()
	return fmt.Sprintf("%s/%d via %s if %d metric %d", ipString(r.Destination), ones, ipString(r.NextHop), r.InterfaceIndex, r.Metric)
}

// To4 returns the 4-byte form of ip, or nil when ip is not IPv4
func To4(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	return ip.To4()
}

func ipString(ip net.IP) string {
	if ip == nil {
		return "-"
	}
	return ip.String()
}
