package fetch

import "github.com/ethereum/go-ethereum/metrics"

// Stats holds the externally observable request-manager counters,
// registered through geth's metrics registry the same way eth/fetcher
// registers its meters — a surrounding node already wired to that registry
// (RPC, Prometheus, InfluxDB exporter) picks these up for free. Unlike
// eth/fetcher's monotonic meters, InFlight and Pending are metrics.Counter:
// cleanup corrects them downward as items resolve, via Inc/Dec, which
// metrics.Gauge here doesn't expose (it only takes Update(int64)).
type Stats struct {
	InFlight metrics.Counter // Σ outstanding_reqs over TX records
	Received metrics.Counter // cumulative successful deliveries
	Rejected metrics.Counter // cumulative peer-attributed rejections
	Dropped  metrics.Counter // retries issued for still-unresolved items
	Pending  metrics.Counter // live object records (TX + block)
}

// NewStats registers a fresh set of counters under the given metrics
// namespace prefix (e.g. "nxd/fetch"). NewManagerWithClock always passes
// "nxd/fetch", so every Manager in a process uses the same metric names.
func NewStats(namespace string) *Stats {
	return &Stats{
		InFlight: metrics.NewRegisteredCounter(namespace+"/inflight", nil),
		Received: metrics.NewRegisteredCounter(namespace+"/received", nil),
		Rejected: metrics.NewRegisteredCounter(namespace+"/rejected", nil),
		Dropped:  metrics.NewRegisteredCounter(namespace+"/dropped", nil),
		Pending:  metrics.NewRegisteredCounter(namespace+"/pending", nil),
	}
}
