package scm

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func hashOf(b byte) common.Hash {
	var h common.Hash
	h[common.HashLength-1] = b
	return h
}

func TestSetGetDelete(t *testing.T) {
	m := New[int]()
	h := hashOf(1)

	if _, ok := m.Get(h); ok {
		t.Fatalf("expected miss on empty map")
	}
	m.Set(h, 42)
	v, ok := m.Get(h)
	if !ok || v != 42 {
		t.Fatalf("got (%v, %v), want (42, true)", v, ok)
	}
	m.Delete(h)
	if _, ok := m.Get(h); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestShardDistribution(t *testing.T) {
	m := New[int]()
	for i := 0; i < NumShards; i++ {
		m.Set(hashOf(byte(i)), i)
	}
	if got := m.Len(); got != NumShards {
		t.Fatalf("Len() = %d, want %d", got, NumShards)
	}
	seen := make(map[int]bool)
	m.Range(func(_ common.Hash, v int) {
		seen[v] = true
	})
	if len(seen) != NumShards {
		t.Fatalf("Range saw %d distinct values, want %d", len(seen), NumShards)
	}
}

func TestAccessorScopesOneShardAtATime(t *testing.T) {
	m := New[int]()
	// Populate every shard so each goroutine's accessor has entries to walk.
	for i := 0; i < NumShards*3; i++ {
		m.Set(hashOf(byte(i)), i)
	}
	var wg sync.WaitGroup
	for i := 0; i < NumShards; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			a := m.AccessorForShard(idx)
			a.Range(func(common.Hash, int) {})
			a.Unlock()
		}(i)
	}
	wg.Wait()
}

func TestAccessorDirectShardAccess(t *testing.T) {
	m := New[int]()
	a := m.AccessorForShard(3)
	a.Set(hashOf(3), 99)
	a.Unlock()

	v, ok := m.Get(hashOf(3))
	if !ok || v != 99 {
		t.Fatalf("shard-direct write not visible via Get: (%v, %v)", v, ok)
	}
}
