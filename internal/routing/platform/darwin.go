//go:build darwin

// Package platform provides platform-specific route manager implementations
package platform

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"

	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/routing/entities"
)

// DarwinRouteManager talks to the kernel through a PF_ROUTE socket
type DarwinRouteManager struct {
	socket int
	mutex  sync.Mutex
	seqNum int
	pid    int
	logger *logger.Logger
}

// NewPlatformRouteManager creates a platform-specific route manager (Darwin implementation)
func NewPlatformRouteManager(log *logger.Logger) (entities.RouteManager, error) {
	sock, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create route socket: %w", err)
	}

	// replies to RTM_GET must not block forever
	tv := unix.Timeval{Sec: 2}
	if err := unix.SetsockoptTimeval(sock, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(sock)
		return nil, fmt.Errorf("failed to set route socket timeout: %w", err)
	}

	return &DarwinRouteManager{
		socket: sock,
		seqNum: 1,
		pid:    os.Getpid(),
		logger: log.WithComponent("route-socket"),
	}, nil
}

// Snapshot dumps the IPv4 routing table through sysctl
func (rm *DarwinRouteManager) Snapshot() ([]entities.RouteEntry, error) {
	rib, err := route.FetchRIB(unix.AF_INET, route.RIBTypeRoute, 0)
	if err != nil {
		return nil, &entities.RouteError{Kind: entities.ErrTableFetch, Message: "could not query routing table", Cause: err}
	}
	msgs, err := route.ParseRIB(route.RIBTypeRoute, rib)
	if err != nil {
		return nil, &entities.RouteError{Kind: entities.ErrTableFetch, Message: "could not parse routing table", Cause: err}
	}

	entries := make([]entities.RouteEntry, 0, len(msgs))
	for _, m := range msgs {
		rmsg, ok := m.(*route.RouteMessage)
		if !ok {
			continue
		}
		if entry, ok := fromRouteMessage(rmsg); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// CreateRoute sends RTM_ADD for r
func (rm *DarwinRouteManager) CreateRoute(r entities.RouteEntry) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	_, err := rm.send(unix.RTM_ADD, unix.RTF_UP|unix.RTF_GATEWAY|unix.RTF_STATIC, r)
	return err
}

// DeleteRoute sends RTM_DELETE for r
func (rm *DarwinRouteManager) DeleteRoute(r entities.RouteEntry) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	_, err := rm.send(unix.RTM_DELETE, unix.RTF_GATEWAY|unix.RTF_STATIC, r)
	return err
}

// BestInterface issues RTM_GET for dst and reads back the kernel's answer.
// Darwin routes carry no metric, so the metric is always 0.
func (rm *DarwinRouteManager) BestInterface(dst net.IP) (entities.Interface, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	query := entities.RouteEntry{Destination: dst, Mask: entities.HostMask}
	seq, err := rm.send(unix.RTM_GET, unix.RTF_UP|unix.RTF_HOST, query)
	if err != nil {
		return entities.Interface{}, err
	}

	buf := make([]byte, os.Getpagesize())
	for {
		n, err := unix.Read(rm.socket, buf)
		if err != nil {
			return entities.Interface{}, fmt.Errorf("failed to read route reply: %w", err)
		}
		msgs, err := route.ParseRIB(route.RIBTypeRoute, buf[:n])
		if err != nil {
			continue
		}
		for _, m := range msgs {
			reply, ok := m.(*route.RouteMessage)
			if !ok || reply.Type != unix.RTM_GET || reply.Seq != seq || reply.ID != uintptr(rm.pid) {
				continue
			}
			if reply.Err != nil {
				return entities.Interface{}, reply.Err
			}
			if reply.Index <= 0 {
				return entities.Interface{}, fmt.Errorf("kernel returned no interface for %s", dst)
			}
			return entities.Interface{Index: uint32(reply.Index)}, nil
		}
	}
}

// MaxDefaultRoutes is 1: the BSD table keys rows by destination and mask,
// so a second unscoped 0.0.0.0/0 cannot be added next to the first.
func (rm *DarwinRouteManager) MaxDefaultRoutes() int {
	return 1
}

// Close closes the routing socket
func (rm *DarwinRouteManager) Close() error {
	return unix.Close(rm.socket)
}

// send writes one routing message and returns its sequence number.
// Callers hold the mutex.
func (rm *DarwinRouteManager) send(msgType, flags int, r entities.RouteEntry) (int, error) {
	rm.seqNum++

	addrs := make([]route.Addr, unix.RTAX_MAX)
	addrs[unix.RTAX_DST] = inet4Addr(r.Destination)
	if r.NextHop != nil {
		addrs[unix.RTAX_GATEWAY] = inet4Addr(r.NextHop)
	}
	addrs[unix.RTAX_NETMASK] = inet4Addr(net.IP(ipv4Mask(r.Mask)))
	if r.IsHost() && msgType != unix.RTM_GET {
		flags |= unix.RTF_HOST
	}

	msg := &route.RouteMessage{
		Version: unix.RTM_VERSION,
		Type:    msgType,
		Flags:   flags,
		Seq:     rm.seqNum,
		Addrs:   addrs,
	}
	b, err := msg.Marshal()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal route message: %w", err)
	}

	if _, err := unix.Write(rm.socket, b); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return 0, fmt.Errorf("route %s not in table: %w", r, err)
		}
		return 0, err
	}
	return rm.seqNum, nil
}

func inet4Addr(ip net.IP) *route.Inet4Addr {
	a := &route.Inet4Addr{}
	copy(a.IP[:], entities.To4(ip))
	return a
}

func fromRouteMessage(m *route.RouteMessage) (entities.RouteEntry, bool) {
	if len(m.Addrs) <= unix.RTAX_NETMASK {
		return entities.RouteEntry{}, false
	}
	dst, ok := m.Addrs[unix.RTAX_DST].(*route.Inet4Addr)
	if !ok {
		return entities.RouteEntry{}, false
	}

	entry := entities.RouteEntry{
		Destination:    net.IP(dst.IP[:]).To4(),
		InterfaceIndex: uint32(m.Index),
		Type:           uint32(m.Flags),
		Native:         m,
	}

	// link-layer gateways are on-link routes and have no next hop
	if gw, ok := m.Addrs[unix.RTAX_GATEWAY].(*route.Inet4Addr); ok {
		entry.NextHop = net.IP(gw.IP[:]).To4()
	}

	switch mask := m.Addrs[unix.RTAX_NETMASK].(type) {
	case *route.Inet4Addr:
		entry.Mask = net.IPMask(mask.IP[:])
	default:
		if m.Flags&unix.RTF_HOST != 0 {
			entry.Mask = entities.HostMask
		} else if entry.Destination.Equal(net.IPv4zero) {
			entry.Mask = entities.DefaultMask
		} else {
			entry.Mask = entities.HostMask
		}
	}
	return entry, true
}
