package routing

import (
	"net"

	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/routing/entities"
)

// Params are the caller-supplied addresses a table is classified against
type Params struct {
	TunnelGateway   net.IP // Virtual router of the tunnel adapter
	ProxyServer     net.IP // Remote proxy the tunnel connects to
	PreviousGateway net.IP // Gateway printed by an earlier connect; nil when connecting
	DNSBypass       net.IP // Resolver kept outside the tunnel
}

// Classification maps table rows to the roles the transitions care about.
// Slots point into the snapshot and are nil when no row plays the role.
type Classification struct {
	TunnelGateway *entities.RouteEntry
	ProxyBypass   *entities.RouteEntry
	DNSBypass     *entities.RouteEntry

	// previous holds the default route via the supplied previous gateway,
	// or else the one default route that matched nothing else.
	previous *entities.RouteEntry
}

// PreviousGateway returns the default route the tunnel replaces (or replaced)
func (c *Classification) PreviousGateway() *entities.RouteEntry {
	return c.previous
}

// Classify assigns each relevant row of the snapshot to at most one role.
// It never touches the table, so a failure here leaves the host as it was.
func Classify(snapshot []entities.RouteEntry, p Params, log *logger.Logger) (*Classification, error) {
	tunnelGW := entities.To4(p.TunnelGateway)
	priorGW := entities.To4(p.PreviousGateway)
	proxy := entities.To4(p.ProxyServer)
	dns := entities.To4(p.DNSBypass)

	c := &Classification{}

	for i := range snapshot {
		row := &snapshot[i]

		switch {
		case row.IsDefault():
			nextHop := row.NextHop.To4()
			if nextHop != nil && nextHop.Equal(tunnelGW) {
				if c.TunnelGateway != nil {
					log.Warn("ignoring extra tunnel gateway route", "route", row.String())
					continue
				}
				c.TunnelGateway = row
				continue
			}

			if priorGW != nil && nextHop != nil && nextHop.Equal(priorGW) {
				// claims the slot even over an earlier unmatched default
				log.Info("the previous gateway already exists", "gateway", priorGW.String())
				c.previous = row
				continue
			}

			if c.previous != nil {
				return nil, &entities.RouteError{
					Kind:    entities.ErrAmbiguousGateway,
					Gateway: row.NextHop,
					Message: "cannot handle multiple gateways: " + c.previous.String() + " and " + row.String(),
				}
			}
			c.previous = row

		case row.IsHost() && proxy != nil && row.Destination.Equal(proxy):
			if c.ProxyBypass != nil {
				return nil, &entities.RouteError{
					Kind:        entities.ErrDuplicateRoute,
					Destination: proxy,
					Message:     "found multiple routes to proxy server, cannot handle",
				}
			}
			c.ProxyBypass = row

		case row.IsHost() && dns != nil && row.Destination.Equal(dns):
			if c.DNSBypass != nil {
				return nil, &entities.RouteError{
					Kind:        entities.ErrDuplicateRoute,
					Destination: dns,
					Message:     "found multiple routes to DNS server, cannot handle",
				}
			}
			c.DNSBypass = row
		}
	}

	log.Debug("routing table classified",
		"tunnel_gateway", describe(c.TunnelGateway),
		"previous_gateway", describe(c.PreviousGateway()),
		"proxy_bypass", describe(c.ProxyBypass),
		"dns_bypass", describe(c.DNSBypass))

	return c, nil
}

func describe(r *entities.RouteEntry) string {
	if r == nil {
		return "none"
	}
	return r.String()
}
