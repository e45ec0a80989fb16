// Package assert holds the small set of always-on invariant checks used by
// the weakblock package. These guard internal bookkeeping, never
// consensus-visible or externally-triggerable conditions; tripping one means
// a bug in this module, not a malformed peer.
package assert

import "fmt"

// Hold panics with msg if cond is false. It mirrors the unconditional
// assertions eth/fetcher's TxFetcher uses for its own invariants (e.g.
// "announced tracker already contains alternate item").
func Hold(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
