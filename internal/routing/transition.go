package routing

import (
	"errors"
	"fmt"
	"net"

	"github.com/wesleywu/tunroute/internal/routing/entities"
)

// Action is what a plan step does
type Action int

// Action constants
const (
	// ActionAdd creates a row in the forwarding table
	ActionAdd Action = iota
	// ActionDelete removes a row from the forwarding table
	ActionDelete
	// ActionReport writes a line to the output without touching the table
	ActionReport
)

// String returns a string representation of the action
func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionDelete:
		return "delete"
	case ActionReport:
		return "report"
	default:
		return "unknown"
	}
}

// Step is one entry of a plan. Message is printed once the step succeeded.
type Step struct {
	Action  Action
	Route   entities.RouteEntry
	Message string
}

// Plan is the ordered list of steps of one transition
type Plan struct {
	Name  string
	Steps []Step

	// PreviousGateway is the gateway the caller has to remember for disconnect (connect only)
	PreviousGateway net.IP

	// KeepDefaultRoute requires at least one default route after every step
	KeepDefaultRoute bool
}

func (p *Plan) add(route entities.RouteEntry, msg string) {
	p.Steps = append(p.Steps, Step{Action: ActionAdd, Route: route, Message: msg})
}

func (p *Plan) delete(route entities.RouteEntry, msg string) {
	p.Steps = append(p.Steps, Step{Action: ActionDelete, Route: route, Message: msg})
}

func (p *Plan) report(msg string) {
	p.Steps = append(p.Steps, Step{Action: ActionReport, Message: msg})
}

// PlanConnect builds the Disconnected -> Connected transition.
//
// A default route via the tunnel is added before the old default route is
// deleted, so the host always has one. Every interface lookup happens here,
// before any mutation.
func PlanConnect(c *Classification, p Params, resolver entities.InterfaceResolver) (*Plan, error) {
	prev := c.PreviousGateway()
	if prev == nil {
		return nil, &entities.RouteError{
			Kind:    entities.ErrNoGatewayFound,
			Message: "found no other gateway - cannot handle this",
		}
	}

	plan := &Plan{Name: "connect", KeepDefaultRoute: true}

	// A tunnel gateway route left behind by a crashed tunnel client is
	// invisible until the client restarts, so an existing one is reused.
	if c.TunnelGateway == nil {
		iface, err := bestInterface(resolver, p.TunnelGateway, "tunnel gateway")
		if err != nil {
			return nil, err
		}
		plan.add(entities.NewDefaultRoute(p.TunnelGateway, iface), "added new gateway")
	}

	oldGateway := entities.To4(prev.NextHop)
	plan.PreviousGateway = oldGateway
	plan.report("current gateway: " + oldGateway.String())
	plan.delete(*prev, "removed old gateway")

	// bypass traffic leaves through the interface that reaches the old gateway
	iface, err := bestInterface(resolver, oldGateway, "previous gateway")
	if err != nil {
		return nil, err
	}

	if c.ProxyBypass != nil {
		plan.delete(*c.ProxyBypass, "removed old route to proxy server")
	}
	plan.add(entities.NewHostRoute(p.ProxyServer, oldGateway, iface), "added route to proxy server")

	if sameAddress(p.DNSBypass, p.ProxyServer) {
		return plan, nil
	}

	if c.DNSBypass != nil {
		plan.delete(*c.DNSBypass, "deleted old route to DNS server")
	}
	plan.add(entities.NewHostRoute(p.DNSBypass, oldGateway, iface), "added new route to DNS server")

	return plan, nil
}

// PlanDisconnect builds the Connected -> Disconnected transition.
//
// The tunnel route goes first: some stacks prefer the most recently added
// of two equal-cost default routes.
func PlanDisconnect(c *Classification, p Params, resolver entities.InterfaceResolver) (*Plan, error) {
	priorGW := entities.To4(p.PreviousGateway)
	if priorGW == nil {
		return nil, &entities.RouteError{
			Kind:    entities.ErrBadArguments,
			Message: "previous gateway is required to disconnect",
		}
	}

	plan := &Plan{Name: "disconnect", PreviousGateway: priorGW}

	if c.TunnelGateway != nil {
		plan.delete(*c.TunnelGateway, "removed tunnel gateway")
	}

	// Rebuilt from the address alone: interface and metric are looked up
	// again and may differ from the route that was deleted on connect.
	if c.PreviousGateway() == nil {
		iface, err := bestInterface(resolver, priorGW, "previous gateway")
		if err != nil {
			return nil, err
		}
		plan.add(entities.NewDefaultRoute(priorGW, iface), "restored gateway")
	}

	if c.ProxyBypass != nil {
		plan.delete(*c.ProxyBypass, "removed route to proxy server")
	}

	if c.DNSBypass != nil {
		plan.delete(*c.DNSBypass, "removed route to DNS server")
	}

	return plan, nil
}

// CheckDefaultRoute replays the plan's effect on the number of default routes
// in snapshot. It fails when a plan that must keep a default route would,
// after some step, leave none.
func (p *Plan) CheckDefaultRoute(snapshot []entities.RouteEntry) error {
	if !p.KeepDefaultRoute {
		return nil
	}

	defaults := countDefaults(snapshot)
	for i, step := range p.Steps {
		if !step.Route.IsDefault() {
			continue
		}
		switch step.Action {
		case ActionAdd:
			defaults++
		case ActionDelete:
			defaults--
		}
		if defaults < 1 {
			return &entities.RouteError{
				Kind:    entities.ErrUnsafePlan,
				Message: fmt.Sprintf("%s step %d (%s %s) would leave no default route", p.Name, i+1, step.Action, step.Route.String()),
			}
		}
	}

	return nil
}

// CheckDefaultRouteLimit fails when some step would need more than limit
// default routes in the table at once. A limit of 0 means no limit.
func (p *Plan) CheckDefaultRouteLimit(snapshot []entities.RouteEntry, limit int) error {
	if limit <= 0 {
		return nil
	}

	defaults := countDefaults(snapshot)
	for i, step := range p.Steps {
		if !step.Route.IsDefault() {
			continue
		}
		switch step.Action {
		case ActionAdd:
			defaults++
		case ActionDelete:
			defaults--
		}
		if defaults > limit {
			return &entities.RouteError{
				Kind:    entities.ErrUnsafePlan,
				Gateway: step.Route.NextHop,
				Message: fmt.Sprintf("%s step %d (%s %s) needs %d default routes at once, this routing table holds at most %d",
					p.Name, i+1, step.Action, step.Route.String(), defaults, limit),
			}
		}
	}

	return nil
}

func countDefaults(rows []entities.RouteEntry) int {
	n := 0
	for _, r := range rows {
		if r.IsDefault() {
			n++
		}
	}
	return n
}

func bestInterface(resolver entities.InterfaceResolver, dst net.IP, what string) (entities.Interface, error) {
	iface, err := resolver.BestInterface(dst)
	if err != nil {
		var re *entities.RouteError
		if errors.As(err, &re) && re.Kind == entities.ErrInterfaceLookup {
			return entities.Interface{}, err
		}
		return entities.Interface{}, &entities.RouteError{
			Kind:        entities.ErrInterfaceLookup,
			Destination: dst,
			Message:     "could not figure best interface for " + what + " " + dst.String(),
			Cause:       err,
		}
	}
	return iface, nil
}

func sameAddress(a, b net.IP) bool {
	return a != nil && b != nil && a.Equal(b)
}
