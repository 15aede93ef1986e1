package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/routing/entities"
)

// Target is an address whose outbound path should be probed
type Target struct {
	Label   string
	Address net.IP
}

// PathInfo is the outcome of probing one target
type PathInfo struct {
	Target
	Interface entities.Interface
	Adapter   *InterfaceInfo // nil when the index has no local adapter
	Err       error
}

func (p PathInfo) String() string {
	if p.Err != nil {
		return fmt.Sprintf("%s %s: %v", p.Label, p.Address, p.Err)
	}
	name := "?"
	if p.Adapter != nil {
		name = p.Adapter.Name
		if p.Adapter.Tunnel {
			name += " (tunnel)"
		}
	}
	return fmt.Sprintf("%s %s: if %d %s metric %d", p.Label, p.Address, p.Interface.Index, name, p.Interface.Metric)
}

// Prober resolves the outbound interface of several destinations in parallel.
// It only reads; the routing table is never touched.
type Prober struct {
	resolver    entities.InterfaceResolver
	concurrency int
	timeout     time.Duration
	logger      *logger.Logger

	lookupAdapter func(index int) (*InterfaceInfo, error)
}

// NewProber creates a prober backed by resolver
func NewProber(resolver entities.InterfaceResolver, concurrency int, timeout time.Duration, log *logger.Logger) *Prober {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Prober{
		resolver:      resolver,
		concurrency:   concurrency,
		timeout:       timeout,
		logger:        log.WithComponent("probe"),
		lookupAdapter: GetInterfaceByIndex,
	}
}

// Probe returns one PathInfo per target, in target order. Lookup failures are
// reported per target; the returned error is only set when the pool could
// not be created.
func (p *Prober) Probe(ctx context.Context, targets []Target) ([]PathInfo, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	pool, err := ants.NewPool(p.concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe pool: %w", err)
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]PathInfo, len(targets))
		done    = make([]bool, len(targets))
	)

	for i, target := range targets {
		i, target := i, target
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			info := p.probeOne(target)

			mu.Lock()
			results[i] = info
			done[i] = true
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			results[i] = PathInfo{Target: target, Err: err}
			done[i] = true
			mu.Unlock()
		}
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		p.logger.Warn("probe did not finish in time", "timeout", p.timeout)
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]PathInfo, len(results))
	for i := range results {
		if !done[i] {
			out[i] = PathInfo{Target: targets[i], Err: ctx.Err()}
			continue
		}
		out[i] = results[i]
	}
	return out, nil
}

func (p *Prober) probeOne(target Target) PathInfo {
	info := PathInfo{Target: target}

	start := time.Now()
	iface, err := p.resolver.BestInterface(target.Address)
	if err != nil {
		info.Err = err
		p.logger.Debug("best interface lookup failed", "target", target.Label, "address", target.Address.String(), "error", err)
		return info
	}
	info.Interface = iface

	adapter, err := p.lookupAdapter(int(iface.Index))
	if err != nil {
		p.logger.Debug("adapter lookup failed", "index", iface.Index, "error", err)
	} else {
		info.Adapter = adapter
	}

	p.logger.Debug("path probed",
		"target", target.Label,
		"address", target.Address.String(),
		"interface", iface.Index,
		"duration_ms", time.Since(start).Milliseconds())
	return info
}
