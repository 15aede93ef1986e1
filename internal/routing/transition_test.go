package routing

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/routing/entities"
	"github.com/wesleywu/tunroute/internal/routing/memtable"
)

func newResolver() *memtable.Table {
	r := memtable.New()
	r.SetInterface(tunnelGW, tap0)
	r.SetInterface(lanGW, eth0)
	return r
}

func actions(plan *Plan) []string {
	var out []string
	for _, s := range plan.Steps {
		if s.Action == ActionReport {
			out = append(out, "report "+s.Message)
			continue
		}
		out = append(out, s.Action.String()+" "+s.Route.String())
	}
	return out
}

func TestPlanConnectOrder(t *testing.T) {
	snapshot := []entities.RouteEntry{foreignDefault(lanGW, eth0)}
	c, err := Classify(snapshot, connectParams(), logger.Nop())
	require.NoError(t, err)

	plan, err := PlanConnect(c, connectParams(), newResolver())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"add 0.0.0.0/0 via 10.0.85.1 if 17 metric 5",
		"report current gateway: 192.168.1.1",
		"delete 0.0.0.0/0 via 192.168.1.1 if 3 metric 25",
		"add 203.0.113.7/32 via 192.168.1.1 if 3 metric 25",
		"add 8.8.8.8/32 via 192.168.1.1 if 3 metric 25",
	}, actions(plan))
	assert.Equal(t, lanGW, plan.PreviousGateway)
	assert.True(t, plan.KeepDefaultRoute)
	assert.NoError(t, plan.CheckDefaultRoute(snapshot))
}

func TestPlanConnectReplacesStaleBypassRoutes(t *testing.T) {
	snapshot := []entities.RouteEntry{
		foreignDefault(lanGW, eth0),
		entities.NewHostRoute(proxyIP, otherGW, eth0),
		entities.NewHostRoute(dnsIP, otherGW, eth0),
	}
	c, err := Classify(snapshot, connectParams(), logger.Nop())
	require.NoError(t, err)

	plan, err := PlanConnect(c, connectParams(), newResolver())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"add 0.0.0.0/0 via 10.0.85.1 if 17 metric 5",
		"report current gateway: 192.168.1.1",
		"delete 0.0.0.0/0 via 192.168.1.1 if 3 metric 25",
		"delete 203.0.113.7/32 via 192.168.1.254 if 3 metric 25",
		"add 203.0.113.7/32 via 192.168.1.1 if 3 metric 25",
		"delete 8.8.8.8/32 via 192.168.1.254 if 3 metric 25",
		"add 8.8.8.8/32 via 192.168.1.1 if 3 metric 25",
	}, actions(plan))
}

func TestPlanConnectSkipsExistingTunnelRoute(t *testing.T) {
	snapshot := []entities.RouteEntry{
		entities.NewDefaultRoute(tunnelGW, tap0),
		foreignDefault(lanGW, eth0),
	}
	c, err := Classify(snapshot, connectParams(), logger.Nop())
	require.NoError(t, err)

	plan, err := PlanConnect(c, connectParams(), newResolver())
	require.NoError(t, err)

	for _, s := range plan.Steps {
		if s.Action == ActionAdd {
			assert.False(t, s.Route.IsDefault(), "unexpected default route %s", s.Route)
		}
	}
	assert.Equal(t, "report current gateway: 192.168.1.1", actions(plan)[0])
}

func TestPlanConnectProxyIsDNSBypass(t *testing.T) {
	p := connectParams()
	p.ProxyServer = dnsIP

	c, err := Classify([]entities.RouteEntry{foreignDefault(lanGW, eth0)}, p, logger.Nop())
	require.NoError(t, err)

	plan, err := PlanConnect(c, p, newResolver())
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 4)
}

func TestPlanConnectNoGateway(t *testing.T) {
	c, err := Classify([]entities.RouteEntry{onLink()}, connectParams(), logger.Nop())
	require.NoError(t, err)

	_, err = PlanConnect(c, connectParams(), newResolver())
	require.Error(t, err)
	assert.True(t, entities.IsKind(err, entities.ErrNoGatewayFound))
}

func TestPlanConnectLookupFailure(t *testing.T) {
	c, err := Classify([]entities.RouteEntry{foreignDefault(lanGW, eth0)}, connectParams(), logger.Nop())
	require.NoError(t, err)

	// only the LAN gateway resolves: the tunnel adapter is down
	resolver := memtable.New()
	resolver.SetInterface(lanGW, eth0)

	_, err = PlanConnect(c, connectParams(), resolver)
	require.Error(t, err)
	assert.True(t, entities.IsKind(err, entities.ErrInterfaceLookup))
	assert.Contains(t, err.Error(), "tunnel gateway 10.0.85.1")
}

func TestPlanDisconnect(t *testing.T) {
	snapshot := []entities.RouteEntry{
		entities.NewDefaultRoute(tunnelGW, tap0),
		entities.NewHostRoute(proxyIP, lanGW, eth0),
		entities.NewHostRoute(dnsIP, lanGW, eth0),
	}
	c, err := Classify(snapshot, disconnectParams(), logger.Nop())
	require.NoError(t, err)

	plan, err := PlanDisconnect(c, disconnectParams(), newResolver())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"delete 0.0.0.0/0 via 10.0.85.1 if 17 metric 5",
		"add 0.0.0.0/0 via 192.168.1.1 if 3 metric 25",
		"delete 203.0.113.7/32 via 192.168.1.1 if 3 metric 25",
		"delete 8.8.8.8/32 via 192.168.1.1 if 3 metric 25",
	}, actions(plan))
	assert.False(t, plan.KeepDefaultRoute)
}

func TestPlanDisconnectGatewayAlreadyRestored(t *testing.T) {
	snapshot := []entities.RouteEntry{
		entities.NewDefaultRoute(tunnelGW, tap0),
		foreignDefault(lanGW, eth0),
	}
	c, err := Classify(snapshot, disconnectParams(), logger.Nop())
	require.NoError(t, err)

	plan, err := PlanDisconnect(c, disconnectParams(), newResolver())
	require.NoError(t, err)
	assert.Equal(t, []string{"delete 0.0.0.0/0 via 10.0.85.1 if 17 metric 5"}, actions(plan))
}

func TestPlanDisconnectRequiresPreviousGateway(t *testing.T) {
	c, err := Classify(nil, connectParams(), logger.Nop())
	require.NoError(t, err)

	_, err = PlanDisconnect(c, connectParams(), newResolver())
	assert.True(t, entities.IsKind(err, entities.ErrBadArguments))
}

func TestCheckDefaultRoute(t *testing.T) {
	snapshot := []entities.RouteEntry{foreignDefault(lanGW, eth0)}

	// delete before add would strand the host
	unsafe := &Plan{Name: "connect", KeepDefaultRoute: true}
	unsafe.delete(snapshot[0], "")
	unsafe.add(entities.NewDefaultRoute(tunnelGW, tap0), "")

	err := unsafe.CheckDefaultRoute(snapshot)
	require.Error(t, err)
	assert.True(t, entities.IsKind(err, entities.ErrUnsafePlan))
	assert.Contains(t, err.Error(), "step 1")

	unsafe.KeepDefaultRoute = false
	assert.NoError(t, unsafe.CheckDefaultRoute(snapshot))
}

func TestCheckDefaultRouteLimit(t *testing.T) {
	snapshot := []entities.RouteEntry{foreignDefault(lanGW, eth0)}
	c, err := Classify(snapshot, connectParams(), logger.Nop())
	require.NoError(t, err)
	connect, err := PlanConnect(c, connectParams(), newResolver())
	require.NoError(t, err)

	assert.NoError(t, connect.CheckDefaultRouteLimit(snapshot, 0))
	assert.NoError(t, connect.CheckDefaultRouteLimit(snapshot, 2))

	err = connect.CheckDefaultRouteLimit(snapshot, 1)
	require.Error(t, err)
	assert.True(t, entities.IsKind(err, entities.ErrUnsafePlan))
	assert.Contains(t, err.Error(), "connect step 1")
	assert.Contains(t, err.Error(), "holds at most 1")

	// disconnect removes the tunnel route before restoring the old one
	connected := []entities.RouteEntry{entities.NewDefaultRoute(tunnelGW, tap0)}
	c, err = Classify(connected, disconnectParams(), logger.Nop())
	require.NoError(t, err)
	disconnect, err := PlanDisconnect(c, disconnectParams(), newResolver())
	require.NoError(t, err)
	assert.NoError(t, disconnect.CheckDefaultRouteLimit(connected, 1))
}

type failingResolver struct{ err error }

func (f failingResolver) BestInterface(net.IP) (entities.Interface, error) {
	return entities.Interface{}, f.err
}

func TestBestInterfaceWrapsCause(t *testing.T) {
	cause := errors.New("element not found")
	_, err := bestInterface(failingResolver{cause}, lanGW, "previous gateway")
	assert.True(t, entities.IsKind(err, entities.ErrInterfaceLookup))
	assert.ErrorIs(t, err, cause)

	already := &entities.RouteError{Kind: entities.ErrInterfaceLookup, Message: "GetBestInterface failed"}
	_, err = bestInterface(failingResolver{already}, lanGW, "previous gateway")
	assert.Same(t, already, err)
}
