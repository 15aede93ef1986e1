package entities

import (
	"net"
)

// RouteTable is the live IPv4 forwarding table
type RouteTable interface {
	// Snapshot reads every row of the table. Buffer sizing is handled internally.
	Snapshot() ([]RouteEntry, error)

	// Single row mutations
	CreateRoute(route RouteEntry) error
	DeleteRoute(route RouteEntry) error
}

// InterfaceResolver asks the OS which interface, and which link metric, would carry traffic to dst
type InterfaceResolver interface {
	BestInterface(dst net.IP) (Interface, error)
}

// RouteManager is a routing table together with the resolver for the same host
type RouteManager interface {
	RouteTable
	InterfaceResolver

	// Resource management
	Close() error
}

// DefaultRouteLimiter is implemented by tables that hold at most a fixed
// number of default routes at a time. 0 means no limit.
type DefaultRouteLimiter interface {
	MaxDefaultRoutes() int
}
