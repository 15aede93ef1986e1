//go:build linux

package platform

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/routing/entities"
)

// netlinkHandle is the subset of netlink.Handle the route manager uses,
// so tests can stand in for the kernel.
type netlinkHandle interface {
	RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error)
	RouteAdd(route *netlink.Route) error
	RouteAppend(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
	RouteGet(destination net.IP) ([]netlink.Route, error)
	Close()
}

var _ netlinkHandle = (*netlink.Handle)(nil)

// LinuxRouteManager reads and changes the main IPv4 table over netlink
type LinuxRouteManager struct {
	mutex  sync.Mutex
	handle netlinkHandle
	logger *logger.Logger
}

// NewPlatformRouteManager creates a platform-specific route manager (Linux implementation)
func NewPlatformRouteManager(log *logger.Logger) (entities.RouteManager, error) {
	h, err := netlink.NewHandle(unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("failed to open netlink socket: %w", err)
	}
	return newLinuxRouteManager(h, log), nil
}

func newLinuxRouteManager(h netlinkHandle, log *logger.Logger) *LinuxRouteManager {
	return &LinuxRouteManager{
		handle: h,
		logger: log.WithComponent("netlink"),
	}
}

// Snapshot reads the IPv4 main table. An interrupted dump is retried once.
func (rm *LinuxRouteManager) Snapshot() ([]entities.RouteEntry, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	filter := &netlink.Route{Table: unix.RT_TABLE_MAIN}
	routes, err := rm.handle.RouteListFiltered(netlink.FAMILY_V4, filter, netlink.RT_FILTER_TABLE)
	if errors.Is(err, netlink.ErrDumpInterrupted) {
		rm.logger.Debug("route dump interrupted, fetching again")
		routes, err = rm.handle.RouteListFiltered(netlink.FAMILY_V4, filter, netlink.RT_FILTER_TABLE)
	}
	if err != nil {
		return nil, entities.NewError(entities.ErrTableFetch, err, "could not query routing table")
	}

	entries := make([]entities.RouteEntry, 0, len(routes))
	for _, r := range routes {
		if entry, ok := fromNetlink(r); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// CreateRoute adds route to the main table. Default routes are appended so
// the tunnel's can sit next to an existing one with the same priority; the
// kernel keeps using the older route until it is deleted.
func (rm *LinuxRouteManager) CreateRoute(route entities.RouteEntry) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if route.IsDefault() {
		return rm.handle.RouteAppend(toNetlink(route))
	}
	return rm.handle.RouteAdd(toNetlink(route))
}

// DeleteRoute removes the row as it was read, or one rebuilt from route
func (rm *LinuxRouteManager) DeleteRoute(route entities.RouteEntry) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if native, ok := route.Native.(netlink.Route); ok {
		return rm.handle.RouteDel(&native)
	}
	return rm.handle.RouteDel(toNetlink(route))
}

// BestInterface asks the kernel for the route it would use to reach dst.
// Linux has no per-interface metric; the priority of the default route
// on the chosen link stands in for it, or 0 when the link has none.
func (rm *LinuxRouteManager) BestInterface(dst net.IP) (entities.Interface, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	routes, err := rm.handle.RouteGet(dst)
	if err != nil {
		return entities.Interface{}, err
	}
	if len(routes) == 0 || routes[0].LinkIndex <= 0 {
		return entities.Interface{}, fmt.Errorf("kernel returned no route to %s", dst)
	}
	linkIndex := routes[0].LinkIndex

	filter := &netlink.Route{Table: unix.RT_TABLE_MAIN, LinkIndex: linkIndex}
	onLink, err := rm.handle.RouteListFiltered(netlink.FAMILY_V4, filter, netlink.RT_FILTER_TABLE|netlink.RT_FILTER_OIF)
	if err != nil {
		return entities.Interface{}, fmt.Errorf("failed to list routes on link %d: %w", linkIndex, err)
	}

	iface := entities.Interface{Index: uint32(linkIndex)}
	for _, r := range onLink {
		if isNetlinkDefault(r) {
			iface.Metric = uint32(r.Priority)
			break
		}
	}
	return iface, nil
}

// Close releases the netlink socket
func (rm *LinuxRouteManager) Close() error {
	rm.handle.Close()
	return nil
}

func isNetlinkDefault(r netlink.Route) bool {
	if r.Dst == nil {
		return true
	}
	ones, _ := r.Dst.Mask.Size()
	return ones == 0 && r.Dst.IP.IsUnspecified()
}

func fromNetlink(r netlink.Route) (entities.RouteEntry, bool) {
	entry := entities.RouteEntry{
		Destination:    entities.IPv4Zero,
		Mask:           entities.DefaultMask,
		NextHop:        entities.To4(r.Gw),
		InterfaceIndex: uint32(r.LinkIndex),
		Metric:         uint32(r.Priority),
		Type:           uint32(r.Type),
		Protocol:       uint32(r.Protocol),
		Native:         r,
	}

	if r.Dst != nil {
		ip4 := r.Dst.IP.To4()
		if ip4 == nil {
			return entities.RouteEntry{}, false
		}
		entry.Destination = ip4
		entry.Mask = ipv4Mask(r.Dst.Mask)
	}
	return entry, true
}

func toNetlink(r entities.RouteEntry) *netlink.Route {
	return &netlink.Route{
		LinkIndex: int(r.InterfaceIndex),
		Dst:       &net.IPNet{IP: entities.To4(r.Destination), Mask: ipv4Mask(r.Mask)},
		Gw:        entities.To4(r.NextHop),
		Priority:  int(r.Metric),
		Protocol:  netlink.RouteProtocol(unix.RTPROT_STATIC),
		Scope:     netlink.SCOPE_UNIVERSE,
		Table:     unix.RT_TABLE_MAIN,
		Type:      unix.RTN_UNICAST,
	}
}
