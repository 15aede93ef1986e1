package routing

import (
	"fmt"
	"io"
	"time"

	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/routing/entities"
	"github.com/wesleywu/tunroute/internal/routing/metrics"
)

// Executor runs a plan against a routing table, one step at a time
type Executor struct {
	table   entities.RouteTable
	out     io.Writer
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewExecutor creates an executor that prints progress lines to out
func NewExecutor(table entities.RouteTable, out io.Writer, log *logger.Logger, m *metrics.Metrics) *Executor {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Executor{
		table:   table,
		out:     out,
		logger:  log,
		metrics: m,
	}
}

// Apply runs every step in order and stops at the first failure.
// Completed steps are not rolled back.
func (e *Executor) Apply(plan *Plan) error {
	start := time.Now()

	for i, step := range plan.Steps {
		switch step.Action {
		case ActionReport:
			// nothing to mutate

		case ActionAdd:
			opStart := time.Now()
			err := e.table.CreateRoute(step.Route)
			e.metrics.RecordCreate(time.Since(opStart), err == nil)
			e.logger.RouteOperation("add", step.Route.String(), time.Since(opStart).Milliseconds(), err == nil)
			if err != nil {
				return e.mutationError(plan, i, step, "could not create route", err)
			}

		case ActionDelete:
			opStart := time.Now()
			err := e.table.DeleteRoute(step.Route)
			e.metrics.RecordDelete(time.Since(opStart), err == nil)
			e.logger.RouteOperation("delete", step.Route.String(), time.Since(opStart).Milliseconds(), err == nil)
			if err != nil {
				return e.mutationError(plan, i, step, "could not delete route", err)
			}

		default:
			return fmt.Errorf("%s step %d: unknown action %d", plan.Name, i+1, step.Action)
		}

		if step.Message != "" {
			fmt.Fprintln(e.out, step.Message)
		}
	}

	s := e.metrics.GetStats()
	e.logger.BatchOperation(plan.Name, len(plan.Steps), int(s.Created+s.Deleted), int(s.Failed), time.Since(start).Milliseconds())
	return nil
}

func (e *Executor) mutationError(plan *Plan, i int, step Step, what string, cause error) error {
	e.logger.Error("route mutation failed, table left as is",
		"step", i+1,
		"of", len(plan.Steps),
		"route", step.Route.String(),
		"error", cause)

	return &entities.RouteError{
		Kind:        entities.ErrRouteMutation,
		Destination: step.Route.Destination,
		Gateway:     step.Route.NextHop,
		Message:     fmt.Sprintf("%s %s (%s step %d of %d)", what, step.Route.String(), plan.Name, i+1, len(plan.Steps)),
		Cause:       cause,
	}
}
