package fetch

import "github.com/nxblock/nxd/peer"

// MaxLatency is the clamp applied to a peer's average transaction
// round-trip latency when computing desirability, and the flat bonus
// granted to thin-block-capable peers while the chain is near-synced.
const MaxLatency = 10_000_000 // microseconds

// DefaultLatencyMicros is assigned to peers with no recorded round-trip
// sample yet.
const DefaultLatencyMicros = 80_000

// desirability scores a peer as a source for an item: thin-block-capable
// peers get a flat bonus while the chain is near-synced, then the peer's
// clamped average transaction latency is subtracted — lower latency, or no
// bonus at all, still yields a usable (possibly negative) score used only
// for relative ordering.
func desirability(p peer.Handle, nearSynced bool) int64 {
	var score int64
	if nearSynced && p.ThinBlockCapable() {
		score += MaxLatency
	}
	latency, ok := p.AverageTxLatencyMicros()
	if !ok {
		latency = DefaultLatencyMicros
	}
	if latency < 0 {
		latency = 0
	}
	if latency > MaxLatency {
		latency = MaxLatency
	}
	return score - latency
}
