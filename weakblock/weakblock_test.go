package weakblock

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func txHash(b byte) common.Hash {
	var h common.Hash
	h[len(h)-1] = b
	return h
}

func blockHash(b byte) common.Hash {
	var h common.Hash
	h[0] = b
	return h
}

func mkTx(b byte) Tx { return Tx{Hash: txHash(b)} }

func mkHeader(b byte) Header { return Header{Hash: blockHash(b)} }

func TestStoreWeakblockIdempotent(t *testing.T) {
	c := NewCache(64)
	hdr := mkHeader(1)
	cb := mkTx(0x10)
	body := []Tx{mkTx(1)}

	if !c.StoreWeakblock(hdr, cb, body) {
		t.Fatalf("first StoreWeakblock should return true")
	}
	if c.StoreWeakblock(hdr, cb, body) {
		t.Fatalf("second StoreWeakblock with same hash should return false")
	}
	if c.NumKnownWeakblocks() != 1 {
		t.Fatalf("numKnownWeakblocks = %d, want 1", c.NumKnownWeakblocks())
	}
}

// TestLinearStack matches the "Weak-block DAG linear stack" scenario:
// W1=[cb1,t1], W2=[cb2,t1,t2], W3=[cb3,t1,t2,t3].
func TestLinearStack(t *testing.T) {
	c := NewCache(64)

	w1 := mkHeader(1)
	c.StoreWeakblock(w1, mkTx(0xc1), []Tx{mkTx(1)})
	w2 := mkHeader(2)
	c.StoreWeakblock(w2, mkTx(0xc2), []Tx{mkTx(1), mkTx(2)})
	w3 := mkHeader(3)
	c.StoreWeakblock(w3, mkTx(0xc3), []Tx{mkTx(1), mkTx(2), mkTx(3)})

	wb1, _ := c.GetWeakblock(w1.Hash)
	wb2, _ := c.GetWeakblock(w2.Hash)
	wb3, _ := c.GetWeakblock(w3.Hash)

	if got := c.MiniextendsWeak(wb2); got == nil || got.Hash != wb1.Hash {
		t.Fatalf("miniextends[W2] should be W1")
	}
	if got := c.MiniextendsWeak(wb3); got == nil || got.Hash != wb2.Hash {
		t.Fatalf("miniextends[W3] should be W2")
	}

	tips := c.WeakChainTips()
	if len(tips) != 1 || tips[0].Hash != w3.Hash {
		t.Fatalf("expected single tip W3, got %v", tips)
	}
	if h := c.WeakHeight(wb3); h != 2 {
		t.Fatalf("weakHeight(W3) = %d, want 2", h)
	}
	if tip := c.GetWeakLongestChainTip(); tip == nil || tip.Hash != w3.Hash {
		t.Fatalf("expected longest chain tip W3")
	}
}

// TestInterposition matches the "Interposition" scenario: W1 then W3
// (attaches directly to W1), then W2 interposes between them.
func TestInterposition(t *testing.T) {
	c := NewCache(64)

	w1 := mkHeader(1)
	c.StoreWeakblock(w1, mkTx(0xc1), []Tx{mkTx(1)})
	w3 := mkHeader(3)
	c.StoreWeakblock(w3, mkTx(0xc3), []Tx{mkTx(1), mkTx(2), mkTx(3)})

	wb1, _ := c.GetWeakblock(w1.Hash)
	wb3, _ := c.GetWeakblock(w3.Hash)
	if got := c.MiniextendsWeak(wb3); got == nil || got.Hash != wb1.Hash {
		t.Fatalf("miniextends[W3] should initially be W1")
	}
	if h := c.WeakHeight(wb3); h != 1 {
		t.Fatalf("weakHeight(W3) = %d, want 1 before interposition", h)
	}

	w2 := mkHeader(2)
	c.StoreWeakblock(w2, mkTx(0xc2), []Tx{mkTx(1), mkTx(2)})
	wb2, _ := c.GetWeakblock(w2.Hash)
	wb3, _ = c.GetWeakblock(w3.Hash)

	if got := c.MiniextendsWeak(wb2); got == nil || got.Hash != wb1.Hash {
		t.Fatalf("miniextends[W2] should be W1")
	}
	if got := c.MiniextendsWeak(wb3); got == nil || got.Hash != wb2.Hash {
		t.Fatalf("miniextends[W3] should be rewired to W2")
	}

	tips := c.WeakChainTips()
	if len(tips) != 1 || tips[0].Hash != w3.Hash {
		t.Fatalf("expected tips to remain {W3}, got %v", tips)
	}
	if h := c.WeakHeight(wb3); h != 2 {
		t.Fatalf("weakHeight(W3) = %d, want 2 after interposition", h)
	}
}

// TestPurgeCascade continues from the interposition state and purges with
// leaveTips=1, keeping one ancestor behind the single tip W3: W1 should be
// forgotten, W2 and W3 survive.
func TestPurgeCascade(t *testing.T) {
	c := NewCache(64)

	w1 := mkHeader(1)
	c.StoreWeakblock(w1, mkTx(0xc1), []Tx{mkTx(1)})
	w3 := mkHeader(3)
	c.StoreWeakblock(w3, mkTx(0xc3), []Tx{mkTx(1), mkTx(2), mkTx(3)})
	w2 := mkHeader(2)
	c.StoreWeakblock(w2, mkTx(0xc2), []Tx{mkTx(1), mkTx(2)})

	c.PurgeOldWeakblocks(1)

	_, w1Present := c.GetWeakblock(w1.Hash)
	_, w2Present := c.GetWeakblock(w2.Hash)
	_, w3Present := c.GetWeakblock(w3.Hash)
	require.False(t, w1Present, "W1 should have been purged")
	require.True(t, w2Present, "W2 should survive the purge")
	require.True(t, w3Present, "W3 should survive the purge")
	require.Equal(t, 2, c.NumKnownWeakblocks())
	// t1 is still referenced by W2 and W3's slot 1, so the pool must not
	// have been emptied even though W1, which also referenced it, is gone.
	if got := c.NumKnownWeakblockTransactions(); got == 0 {
		t.Fatalf("expected surviving transactions in the pool")
	}
}

func TestPurgeToZeroEmptiesCache(t *testing.T) {
	c := NewCache(64)
	hdr := mkHeader(1)
	c.StoreWeakblock(hdr, mkTx(0xc1), []Tx{mkTx(1), mkTx(2)})

	c.PurgeOldWeakblocks(0)

	if c.NumKnownWeakblocks() != 0 {
		t.Fatalf("expected empty cache after purge to zero tips")
	}
	if c.NumKnownWeakblockTransactions() != 0 {
		t.Fatalf("expected empty tx pool after purge to zero tips")
	}
	if len(c.WeakChainTips()) != 0 {
		t.Fatalf("expected no tips after purge to zero")
	}
}

func TestWeakHeightOfAbsentIsMinusOne(t *testing.T) {
	c := NewCache(64)
	if h := c.WeakHeight(nil); h != -1 {
		t.Fatalf("weakHeight(nil) = %d, want -1", h)
	}
	if tip := c.GetWeakLongestChainTip(); tip != nil {
		t.Fatalf("expected nil longest chain tip on an empty cache")
	}
}

func TestBlockForWeakReconstructsAndCaches(t *testing.T) {
	c := NewCache(64)
	hdr := mkHeader(1)
	cb := mkTx(0xc1)
	body := []Tx{mkTx(1), mkTx(2)}
	c.StoreWeakblock(hdr, cb, body)

	wb, _ := c.GetWeakblock(hdr.Hash)
	block := c.BlockForWeak(wb)
	if len(block.Txs) != 3 {
		t.Fatalf("reconstructed block has %d txs, want 3", len(block.Txs))
	}
	if block.Txs[0].Hash != cb.Hash {
		t.Fatalf("coinbase not first in reconstructed block")
	}

	again := c.BlockForWeak(wb)
	if again != block {
		t.Fatalf("expected BlockForWeak to return the memoized pointer")
	}
}
