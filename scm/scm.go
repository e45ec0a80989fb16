// Package scm implements a sharded concurrent map: a fixed array of inner
// maps, each guarded by its own mutex, so unrelated keys never contend on
// the same lock. It backs the Request Manager's transaction object-record
// table (see fetch.Manager), following the same "many small locks instead
// of one big one" shape as geth's peer sets, but keyed by content hash
// rather than peer id.
package scm

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NumShards is the shard count. Must stay a power of two: shard selection
// masks the low bits of the key instead of taking a modulus.
const NumShards = 16

// Map is a hash-keyed map split across NumShards independently locked
// shards. The zero value is not usable; use New.
type Map[V any] struct {
	shards [NumShards]shard[V]
}

type shard[V any] struct {
	mu sync.Mutex
	m  map[common.Hash]V
}

// New returns an empty sharded map.
func New[V any]() *Map[V] {
	sm := &Map[V]{}
	for i := range sm.shards {
		sm.shards[i].m = make(map[common.Hash]V)
	}
	return sm
}

// ShardFor returns the shard index a key belongs to.
func ShardFor(key common.Hash) int {
	// Low byte of the hash is as good a shard selector as any; hashes are
	// uniformly distributed content ids, not attacker-chosen bucket indices.
	return int(key[common.HashLength-1]) & (NumShards - 1)
}

// Accessor is a scoped handle on one shard's lock and inner map. Callers
// must call Unlock when done; the zero-cost pattern is:
//
//	a := m.Accessor(key)
//	defer a.Unlock()
type Accessor[V any] struct {
	sh *shard[V]
}

// Accessor locks and returns the shard owning key.
func (m *Map[V]) Accessor(key common.Hash) *Accessor[V] {
	return m.AccessorForShard(ShardFor(key))
}

// AccessorForShard locks and returns the shard at the given index directly,
// used by the scheduler's random-shard selection pass.
func (m *Map[V]) AccessorForShard(idx int) *Accessor[V] {
	sh := &m.shards[idx]
	sh.mu.Lock()
	return &Accessor[V]{sh: sh}
}

// Unlock releases the shard lock. An Accessor must not be used afterward.
func (a *Accessor[V]) Unlock() {
	a.sh.mu.Unlock()
}

// Get, Set and Delete operate on the locked shard's inner map.
func (a *Accessor[V]) Get(key common.Hash) (V, bool) {
	v, ok := a.sh.m[key]
	return v, ok
}

func (a *Accessor[V]) Set(key common.Hash, v V) {
	a.sh.m[key] = v
}

func (a *Accessor[V]) Delete(key common.Hash) {
	delete(a.sh.m, key)
}

// Len returns the number of entries in the locked shard.
func (a *Accessor[V]) Len() int {
	return len(a.sh.m)
}

// Range calls do for every entry in the locked shard, in the inner map's
// (unspecified) iteration order. do must not call back into the Map.
func (a *Accessor[V]) Range(do func(key common.Hash, v V)) {
	for k, v := range a.sh.m {
		do(k, v)
	}
}

// Get is a convenience one-shot lookup that acquires and releases the
// owning shard's lock internally.
func (m *Map[V]) Get(key common.Hash) (V, bool) {
	a := m.Accessor(key)
	defer a.Unlock()
	return a.Get(key)
}

// Set is a convenience one-shot insert/update.
func (m *Map[V]) Set(key common.Hash, v V) {
	a := m.Accessor(key)
	defer a.Unlock()
	a.Set(key, v)
}

// Delete is a convenience one-shot removal.
func (m *Map[V]) Delete(key common.Hash) {
	a := m.Accessor(key)
	defer a.Unlock()
	a.Delete(key)
}

// Len sums the length of every shard. It acquires and releases one shard
// lock at a time, never two simultaneously, so it does not observe a
// single consistent snapshot under concurrent mutation.
func (m *Map[V]) Len() int {
	total := 0
	for i := range m.shards {
		a := m.AccessorForShard(i)
		total += a.Len()
		a.Unlock()
	}
	return total
}

// Range iterates every entry of every shard, shard by shard, holding only
// one shard's lock at a time. It tolerates concurrent mutation of shards
// not currently locked and does not guarantee a consistent whole-map
// snapshot.
func (m *Map[V]) Range(do func(key common.Hash, v V)) {
	for i := range m.shards {
		a := m.AccessorForShard(i)
		a.Range(do)
		a.Unlock()
	}
}
