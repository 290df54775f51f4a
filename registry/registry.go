// Package registry implements the provider registry (C5): holds constructed
// drivers by canonical name, reports availability, and fans health checks
// out in parallel under one overall deadline.
package registry

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumenforge/aigateway/gateway"
)

// ErrProviderUnavailable is returned by Get when name is absent or its
// driver is unconfigured.
var ErrProviderUnavailable = errors.New("registry: provider unavailable")

// HealthDeadline is the overall deadline for HealthCheckAll (§4.1, §5).
const HealthDeadline = 5 * time.Second

// Registry is immutable after New returns (§5 "the registry is immutable
// after initialisation").
type Registry struct {
	drivers map[string]gateway.Driver
}

// New builds a Registry from the given drivers, keyed by Driver.Name().
func New(drivers ...gateway.Driver) *Registry {
	r := &Registry{drivers: make(map[string]gateway.Driver, len(drivers))}
	for _, d := range drivers {
		r.drivers[d.Name()] = d
	}
	return r
}

// Get returns the driver for name, or ErrProviderUnavailable when absent or
// unconfigured.
func (r *Registry) Get(name string) (gateway.Driver, error) {
	d, ok := r.drivers[name]
	if !ok || !d.Configured() {
		return nil, ErrProviderUnavailable
	}
	return d, nil
}

// Available reports the names of every driver whose configuration is
// present.
func (r *Registry) Available() []string {
	var out []string
	for name, d := range r.drivers {
		if d.Configured() {
			out = append(out, name)
		}
	}
	return out
}

// HealthStatus is one driver's health-check outcome.
type HealthStatus struct {
	OK      bool
	Skipped bool // driver unconfigured; health check was not attempted
	Err     error
}

// HealthCheckAll invokes HealthCheck on every driver in parallel with an
// overall HealthDeadline. Drivers that exceed the deadline are reported as
// errors (their ctx is cancelled, and HealthCheck is expected to return
// promptly once cancelled).
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, HealthDeadline)
	defer cancel()

	results := make(map[string]HealthStatus, len(r.drivers))
	var mu lockedMap
	mu.results = results

	g, gctx := errgroup.WithContext(ctx)
	for name, d := range r.drivers {
		name, d := name, d
		if !d.Configured() {
			mu.set(name, HealthStatus{Skipped: true})
			continue
		}
		g.Go(func() error {
			err := d.HealthCheck(gctx)
			mu.set(name, HealthStatus{OK: err == nil, Err: err})
			return nil // errgroup is only used for fan-out, not fail-fast
		})
	}
	_ = g.Wait()
	return results
}

// Close closes every driver, collecting and returning the first error (each
// Close is still attempted regardless of earlier failures).
func (r *Registry) Close() error {
	var firstErr error
	for _, d := range r.drivers {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
