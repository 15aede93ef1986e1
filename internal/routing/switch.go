package routing

import (
	"fmt"
	"io"
	"net"

	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/routing/entities"
	"github.com/wesleywu/tunroute/internal/routing/metrics"
)

// RouteSwitch moves the host's default route onto the tunnel and back.
// Each call performs exactly one transition: snapshot, classify, plan, apply.
type RouteSwitch struct {
	rm        entities.RouteManager
	logger    *logger.Logger
	out       io.Writer
	dnsBypass net.IP
	metrics   *metrics.Metrics
}

// NewRouteSwitch creates a new route switch handler
func NewRouteSwitch(rm entities.RouteManager, dnsBypass net.IP, out io.Writer, log *logger.Logger) (*RouteSwitch, error) {
	dns := entities.To4(dnsBypass)
	if dns == nil {
		return nil, &entities.RouteError{
			Kind:    entities.ErrBadArguments,
			Message: fmt.Sprintf("DNS bypass address must be IPv4, got %v", dnsBypass),
		}
	}

	return &RouteSwitch{
		rm:        rm,
		logger:    log.WithComponent("switch"),
		out:       out,
		dnsBypass: dns,
		metrics:   metrics.NewMetrics(),
	}, nil
}

// Connect routes everything through tunnelGateway except traffic to the proxy
// server and the DNS bypass resolver. It returns the gateway it replaced,
// which has to be handed back to Disconnect.
func (rs *RouteSwitch) Connect(tunnelGateway, proxyServer net.IP) (net.IP, error) {
	p := Params{
		TunnelGateway: tunnelGateway,
		ProxyServer:   proxyServer,
		DNSBypass:     rs.dnsBypass,
	}

	snapshot, c, err := rs.Inspect(p)
	if err != nil {
		return nil, err
	}

	plan, err := PlanConnect(c, p, rs.rm)
	if err != nil {
		return nil, err
	}

	if err := plan.CheckDefaultRoute(snapshot); err != nil {
		return nil, err
	}
	if err := rs.checkLimit(plan, snapshot); err != nil {
		return nil, err
	}

	if err := rs.run(plan, p); err != nil {
		return nil, err
	}
	return plan.PreviousGateway, nil
}

// Disconnect removes the tunnel's default route and the bypass routes and,
// unless something already did, restores the default route via previousGateway.
func (rs *RouteSwitch) Disconnect(tunnelGateway, proxyServer, previousGateway net.IP) error {
	p := Params{
		TunnelGateway:   tunnelGateway,
		ProxyServer:     proxyServer,
		PreviousGateway: previousGateway,
		DNSBypass:       rs.dnsBypass,
	}

	snapshot, c, err := rs.Inspect(p)
	if err != nil {
		return err
	}

	plan, err := PlanDisconnect(c, p, rs.rm)
	if err != nil {
		return err
	}
	if err := rs.checkLimit(plan, snapshot); err != nil {
		return err
	}

	return rs.run(plan, p)
}

// Inspect fetches the table once and classifies it without changing anything
func (rs *RouteSwitch) Inspect(p Params) ([]entities.RouteEntry, *Classification, error) {
	if p.DNSBypass == nil {
		p.DNSBypass = rs.dnsBypass
	}

	snapshot, err := rs.rm.Snapshot()
	if err != nil {
		if !entities.IsKind(err, entities.ErrTableFetch) {
			err = &entities.RouteError{Kind: entities.ErrTableFetch, Message: "could not query routing table", Cause: err}
		}
		return nil, nil, err
	}
	rs.logger.Snapshot(len(snapshot), entities.Fingerprint(snapshot))

	c, err := Classify(snapshot, p, rs.logger)
	if err != nil {
		return nil, nil, err
	}
	return snapshot, c, nil
}

// Stats returns the mutation counters of this switch
func (rs *RouteSwitch) Stats() metrics.Stats {
	return rs.metrics.GetStats()
}

func (rs *RouteSwitch) checkLimit(plan *Plan, snapshot []entities.RouteEntry) error {
	limiter, ok := rs.rm.(entities.DefaultRouteLimiter)
	if !ok {
		return nil
	}
	return plan.CheckDefaultRouteLimit(snapshot, limiter.MaxDefaultRoutes())
}

func (rs *RouteSwitch) run(plan *Plan, p Params) error {
	rs.logger.Transition(plan.Name, p.TunnelGateway.String(), p.ProxyServer.String(), len(plan.Steps))
	return NewExecutor(rs.rm, rs.out, rs.logger.WithFields("transition", plan.Name), rs.metrics).Apply(plan)
}
