// Package metrics wraps a single go-metrics Registry with the named
// meters the engine and the DHI client mark against.
package metrics

import metrics "github.com/rcrowley/go-metrics"

// Name constants for the meters this repository marks. Kept as named
// constants rather than ad-hoc strings so callers can't typo a path.
const (
	PassingsProcessed = "/velotrain/passings/processed"
	SectorMatches     = "/velotrain/passings/sector-match"
	IsolatedMatches   = "/velotrain/passings/isolated-match"
	Chokes            = "/velotrain/passings/choked"
	BatteryWarnings   = "/velotrain/decoder/battery-warning"
	DHISends          = "/velotrain/dhi/sent"
	DHIErrors         = "/velotrain/dhi/error"
)

// Registry is the process-wide metrics registry, created once at
// startup and threaded into internal/engine, internal/dhi and
// internal/debugsrv.
type Registry struct {
	reg metrics.Registry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{reg: metrics.NewRegistry()}
}

// Mark increments the named meter by one.
func (r *Registry) Mark(name string) {
	if r == nil {
		return
	}
	metrics.GetOrRegisterMeter(name, r.reg).Mark(1)
}

// MarkN increments the named meter by n.
func (r *Registry) MarkN(name string, n int64) {
	if r == nil {
		return
	}
	metrics.GetOrRegisterMeter(name, r.reg).Mark(n)
}

// Registry returns the underlying go-metrics registry, for wiring to a
// reporter (graphite/log) at startup.
func (r *Registry) Registry() metrics.Registry { return r.reg }
