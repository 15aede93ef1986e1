// Package memtable is an in-memory IPv4 forwarding table. It backs the unit
// tests of the transitions and the --dry-run mode of the command line.
package memtable

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/wesleywu/tunroute/internal/routing/entities"
)

var (
	// ErrExists is returned when a created row already exists
	ErrExists = errors.New("route already exists")
	// ErrNotFound is returned when a deleted row does not exist
	ErrNotFound = errors.New("route not found")
)

// Mutation is one successful change applied to the table
type Mutation struct {
	Created bool
	Route   entities.RouteEntry
}

// Table is an in-memory routing table and interface resolver
type Table struct {
	mutex sync.Mutex
	rows  []entities.RouteEntry

	interfaces map[string]entities.Interface
	fallback   entities.InterfaceResolver
	defaultIf  *entities.Interface

	history []Mutation

	// FailOn, when set, is consulted before every mutation; a non-nil error rejects it
	FailOn func(created bool, route entities.RouteEntry) error
	// OnMutate, when set, is called with the table contents after every mutation
	OnMutate func(rows []entities.RouteEntry)

	// MaxDefaults is the number of default routes the emulated table can hold, 0 for no limit
	MaxDefaults int
}

// New creates a table holding a copy of rows
func New(rows ...entities.RouteEntry) *Table {
	t := &Table{interfaces: make(map[string]entities.Interface)}
	for _, r := range rows {
		t.rows = append(t.rows, normalize(r))
	}
	return t
}

// FromSnapshot copies a live table; interface lookups are delegated to resolver
func FromSnapshot(rows []entities.RouteEntry, resolver entities.InterfaceResolver) *Table {
	t := New(rows...)
	t.fallback = resolver
	return t
}

// SetInterface makes dst resolve to iface
func (t *Table) SetInterface(dst net.IP, iface entities.Interface) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.interfaces[dst.To4().String()] = iface
}

// SetDefaultInterface makes every address without an explicit entry resolve to iface
func (t *Table) SetDefaultInterface(iface entities.Interface) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.defaultIf = &iface
}

// Snapshot returns a copy of the rows
func (t *Table) Snapshot() ([]entities.RouteEntry, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.copyRows(), nil
}

// CreateRoute adds a row unless one with the same identity exists
func (t *Table) CreateRoute(route entities.RouteEntry) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	route = normalize(route)
	if t.FailOn != nil {
		if err := t.FailOn(true, route); err != nil {
			return err
		}
	}
	if t.indexOf(route) >= 0 {
		return fmt.Errorf("%w: %s", ErrExists, route.String())
	}

	t.rows = append(t.rows, route)
	t.mutated(true, route)
	return nil
}

// DeleteRoute removes the row with the same identity as route
func (t *Table) DeleteRoute(route entities.RouteEntry) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	route = normalize(route)
	if t.FailOn != nil {
		if err := t.FailOn(false, route); err != nil {
			return err
		}
	}
	i := t.indexOf(route)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, route.String())
	}

	removed := t.rows[i]
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	t.mutated(false, removed)
	return nil
}

// BestInterface resolves dst from the configured interfaces, then the fallback resolver
func (t *Table) BestInterface(dst net.IP) (entities.Interface, error) {
	t.mutex.Lock()
	iface, ok := t.interfaces[dst.To4().String()]
	defaultIf := t.defaultIf
	fallback := t.fallback
	t.mutex.Unlock()

	switch {
	case ok:
		return iface, nil
	case fallback != nil:
		return fallback.BestInterface(dst)
	case defaultIf != nil:
		return *defaultIf, nil
	default:
		return entities.Interface{}, fmt.Errorf("no interface reaches %s", dst)
	}
}

// MaxDefaultRoutes reports MaxDefaults
func (t *Table) MaxDefaultRoutes() int {
	return t.MaxDefaults
}

// History returns the successful mutations in the order they happened
func (t *Table) History() []Mutation {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]Mutation(nil), t.history...)
}

// Close implements entities.RouteManager
func (t *Table) Close() error {
	return nil
}

func (t *Table) indexOf(route entities.RouteEntry) int {
	key := route.Key()
	for i, r := range t.rows {
		if r.Key() == key {
			return i
		}
	}
	return -1
}

func (t *Table) mutated(created bool, route entities.RouteEntry) {
	t.history = append(t.history, Mutation{Created: created, Route: route})
	if t.OnMutate != nil {
		t.OnMutate(t.copyRows())
	}
}

func (t *Table) copyRows() []entities.RouteEntry {
	return append([]entities.RouteEntry(nil), t.rows...)
}

func normalize(r entities.RouteEntry) entities.RouteEntry {
	r.Destination = entities.To4(r.Destination)
	r.NextHop = entities.To4(r.NextHop)
	r.Native = nil
	return r
}

var _ entities.RouteManager = (*Table)(nil)
