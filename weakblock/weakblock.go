// Package weakblock implements an in-memory cache of sub-threshold "weak"
// block candidates: full blocks that haven't yet cleared the network's
// proof-of-work target but are assembled and broadcast early so peers can
// pre-fetch the bulk of a block's transactions before the real block
// arrives. Weak blocks that share a transaction prefix form chains via a
// mini-extension relation; the cache tracks that relation as a DAG, keeps
// the tips reachable for mining-template and RPC consumers, and purges the
// oldest part of each chain behind its tips.
package weakblock

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/heimdalr/dag"

	"github.com/nxblock/nxd/internal/assert"
)

var log_ = log.New("pkg", "weakblock")

// Tx is the content-addressed payload the cache deduplicates. The cache
// never interprets tx bytes; it only hashes, refcounts and hands them back.
type Tx struct {
	Hash common.Hash
	Raw  []byte
}

// Header is the block header carried alongside a weak block's transaction
// list. Its fields beyond ParentHash are opaque to the cache; reassembly
// into a full Block is the surrounding node's concern (BlockForWeak only
// concatenates the stored references).
type Header struct {
	Hash       common.Hash
	ParentHash common.Hash
	Opaque     []byte // node-specific serialized header fields
}

// Block is a reconstructed full block: header plus resolved transactions in
// order, coinbase first.
type Block struct {
	Header Header
	Txs    []Tx
}

// WeakBlock is a candidate block kept by hash, header, and the ordered list
// of transaction references (coinbase first) borrowed from the shared pool.
type WeakBlock struct {
	Hash   common.Hash
	Header Header
	TxRefs []common.Hash // index 0 is the coinbase
}

// Len is the number of transaction slots in the weak block, coinbase
// included.
func (w *WeakBlock) Len() int { return len(w.TxRefs) }

func (w *WeakBlock) dagID() string { return w.Hash.Hex() }

type dagVertex struct {
	id string
}

func (v dagVertex) ID() string { return v.id }

type txPoolEntry struct {
	tx       Tx
	refcount int
}

// Cache is the Weak-Block Cache. One mutex guards every field; the DAG
// library call and the height/tip bookkeeping it doesn't model are kept
// consistent under the same lock.
type Cache struct {
	mu sync.Mutex

	txPool map[common.Hash]*txPoolEntry
	blocks map[common.Hash]*WeakBlock // hash2weakblock

	miniextends map[common.Hash]common.Hash // wb -> the wb it mini-extends; absent = root
	heights     map[common.Hash]int

	tips   []common.Hash // insertion order of current chain tips
	tipSet map[common.Hash]struct{}

	graph *dag.DAG

	reassembly *lru.Cache // common.Hash -> *Block

	TipFeed event.Feed // emits common.Hash of the new chain tip on change
}

// NewCache returns an empty Weak-Block Cache. reassemblyCacheSize bounds the
// number of reconstructed blocks memoized by BlockForWeak; a miss just
// rebuilds from the stored references so eviction is harmless.
func NewCache(reassemblyCacheSize int) *Cache {
	reassembly, err := lru.New(reassemblyCacheSize)
	if err != nil {
		panic(err)
	}
	return &Cache{
		txPool:      make(map[common.Hash]*txPoolEntry),
		blocks:      make(map[common.Hash]*WeakBlock),
		miniextends: make(map[common.Hash]common.Hash),
		heights:     make(map[common.Hash]int),
		tipSet:      make(map[common.Hash]struct{}),
		graph:       dag.NewDAG(),
		reassembly:  reassembly,
	}
}

// StoreWeakblock registers a new weak block built from coinbase + body, in
// block order (coinbase first). Returns false without side effects if a
// block with this hash is already known.
func (c *Cache) StoreWeakblock(header Header, coinbase Tx, body []Tx) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.blocks[header.Hash]; exists {
		return false
	}

	refs := make([]common.Hash, 0, len(body)+1)
	refs = append(refs, c.internTx(coinbase))
	for _, tx := range body {
		refs = append(refs, c.internTx(tx))
	}

	wb := &WeakBlock{Hash: header.Hash, Header: header, TxRefs: refs}
	c.blocks[header.Hash] = wb

	if _, err := c.graph.AddVertex(dagVertex{id: wb.dagID()}); err != nil {
		log_.Warn("weak block vertex already present", "hash", header.Hash, "err", err)
	}

	c.insertChainDAG(wb)
	return true
}

func (c *Cache) internTx(tx Tx) common.Hash {
	e, ok := c.txPool[tx.Hash]
	if !ok {
		c.txPool[tx.Hash] = &txPoolEntry{tx: tx, refcount: 1}
		return tx.Hash
	}
	e.refcount++
	return tx.Hash
}

// GetWeakblock returns the weak block stored under hash, if any.
func (c *Cache) GetWeakblock(hash common.Hash) (*WeakBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wb, ok := c.blocks[hash]
	return wb, ok
}

// BlockForWeak reconstructs wb into a full Block, memoizing the result
// until wb is purged.
func (c *Cache) BlockForWeak(wb *WeakBlock) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.reassembly.Get(wb.Hash); ok {
		return cached.(*Block)
	}
	txs := make([]Tx, 0, len(wb.TxRefs))
	for _, ref := range wb.TxRefs {
		if e, ok := c.txPool[ref]; ok {
			txs = append(txs, e.tx)
		}
	}
	block := &Block{Header: wb.Header, Txs: txs}
	c.reassembly.Add(wb.Hash, block)
	return block
}

// WeakHeight returns the length of the mini-extension chain below wb: 0 at
// a DAG root, -1 if wb is nil (the sentinel absent weak block).
func (c *Cache) WeakHeight(wb *WeakBlock) int {
	if wb == nil {
		return -1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heights[wb.Hash]
}

// MiniextendsWeak returns the weak block wb mini-extends, or nil at a root.
func (c *Cache) MiniextendsWeak(wb *WeakBlock) *WeakBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	parent, ok := c.miniextends[wb.Hash]
	if !ok {
		return nil
	}
	return c.blocks[parent]
}

// GetWeakLongestChainTip returns the chain tip with maximum height, ties
// broken by earliest insertion order, or nil if the cache holds no tips.
func (c *Cache) GetWeakLongestChainTip() *WeakBlock {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *WeakBlock
	for _, hash := range c.tips {
		wb := c.blocks[hash]
		if best == nil || c.heights[wb.Hash] > c.heights[best.Hash] {
			best = wb
		}
	}
	return best
}

// TipHeight pairs a chain tip's hash with its height.
type TipHeight struct {
	Hash   common.Hash
	Height int
}

// WeakChainTips returns every current chain tip paired with its height, in
// insertion order.
func (c *Cache) WeakChainTips() []TipHeight {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TipHeight, 0, len(c.tips))
	for _, hash := range c.tips {
		out = append(out, TipHeight{Hash: hash, Height: c.heights[hash]})
	}
	return out
}

// SubscribeNewTip registers ch to receive the hash of every new chain tip
// as it's established, for RPC/mining-template callers that would rather
// be notified than poll WeakChainTips.
func (c *Cache) SubscribeNewTip(ch chan<- common.Hash) event.Subscription {
	return c.TipFeed.Subscribe(ch)
}

// NumKnownWeakblocks and NumKnownWeakblockTransactions are the cache's
// observable size counters.
func (c *Cache) NumKnownWeakblocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

func (c *Cache) NumKnownWeakblockTransactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txPool)
}

// weakExtends reports whether wb mini-extends under: strictly longer, and
// agreeing with under on every non-coinbase slot under shares.
func weakExtends(under, wb *WeakBlock) bool {
	if wb.Hash == under.Hash || wb.Len() <= under.Len() {
		return false
	}
	for i := 1; i < under.Len(); i++ {
		if wb.TxRefs[i] != under.TxRefs[i] {
			return false
		}
	}
	return true
}

// insertChainDAG runs the mini-extension search for a freshly stored wb: it
// walks candidates from tallest to shortest looking for one wb extends,
// then rewires any node that used to mini-extend that candidate but is now
// better explained by wb interposing. Caller holds c.mu.
func (c *Cache) insertChainDAG(wb *WeakBlock) {
	candidates := make([]common.Hash, 0, len(c.tips))
	candidates = append(candidates, c.tips...)

	var chosen *common.Hash
	for len(candidates) > 0 {
		// Pop the tallest remaining candidate.
		bestIdx := 0
		for i, h := range candidates {
			if c.heights[h] > c.heights[candidates[bestIdx]] {
				bestIdx = i
			}
		}
		hash := candidates[bestIdx]
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)

		if parent, ok := c.miniextends[hash]; ok {
			candidates = append(candidates, parent)
		}

		candidate := c.blocks[hash]
		if weakExtends(candidate, wb) {
			h := hash
			chosen = &h
			break
		}
	}

	buried := false
	if chosen != nil {
		oldChosenHeight := c.heights[*chosen]
		c.miniextends[wb.Hash] = *chosen
		if err := c.graph.AddEdge(c.blocks[*chosen].dagID(), wb.dagID()); err != nil {
			log_.Debug("weak block dag edge already present", "hash", wb.Hash, "err", err)
		}
		c.heights[wb.Hash] = oldChosenHeight + 1
		assert.Hold(c.heights[wb.Hash] > oldChosenHeight, "mini-extension height must strictly increase: %d <= %d", c.heights[wb.Hash], oldChosenHeight)
		buried = c.reconnect(chosen, wb)
		if !buried {
			c.removeTip(*chosen)
			c.addTip(wb.Hash)
		}
	} else {
		c.heights[wb.Hash] = 0
		buried = c.reconnect(nil, wb)
		if !buried {
			c.addTip(wb.Hash)
		}
	}

	if !buried {
		c.TipFeed.Send(wb.Hash)
	}
}

// reconnect rewires any WB that mini-extended candidate (or, when candidate
// is nil, any root) but is better explained by wb interposing between
// candidate and it. Returns true if any rewiring happened, meaning wb is
// buried (not itself a tip).
func (c *Cache) reconnect(candidate *common.Hash, wb *WeakBlock) bool {
	rewired := false
	for hash, t := range c.blocks {
		if hash == wb.Hash {
			continue
		}
		parent, hasParent := c.miniextends[hash]
		isChildOfCandidate := hasParent && candidate != nil && parent == *candidate
		isRoot := !hasParent && candidate == nil
		if !isChildOfCandidate && !isRoot {
			continue
		}
		if !weakExtends(wb, t) {
			continue
		}
		c.miniextends[hash] = wb.Hash
		if err := c.graph.AddEdge(wb.dagID(), t.dagID()); err != nil {
			log_.Debug("weak block dag rewire edge already present", "hash", hash, "err", err)
		}
		c.recomputeHeightsFrom(t)
		rewired = true
	}
	return rewired
}

// recomputeHeightsFrom refreshes start's height from its (possibly new)
// parent and propagates the change to every descendant.
func (c *Cache) recomputeHeightsFrom(start *WeakBlock) {
	queue := []common.Hash{start.Hash}
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]
		parent, ok := c.miniextends[hash]
		if ok {
			c.heights[hash] = c.heights[parent] + 1
		} else {
			c.heights[hash] = 0
		}
		for other, p := range c.miniextends {
			if p == hash {
				queue = append(queue, other)
			}
		}
	}
}

func (c *Cache) addTip(hash common.Hash) {
	if _, ok := c.tipSet[hash]; ok {
		return
	}
	c.tipSet[hash] = struct{}{}
	c.tips = append(c.tips, hash)
}

func (c *Cache) removeTip(hash common.Hash) {
	if _, ok := c.tipSet[hash]; !ok {
		return
	}
	delete(c.tipSet, hash)
	for i, h := range c.tips {
		if h == hash {
			c.tips = append(c.tips[:i], c.tips[i+1:]...)
			break
		}
	}
}

// PurgeOldWeakblocks bounds memory by discarding the oldest end of each
// chain tip's mini-extension history, retaining at most leaveTips ancestors
// behind every current tip (the tip itself is never purged by this pass).
// leaveTips <= 0 empties the cache entirely. A chain stops being trimmed
// early if it shares an ancestor with another surviving chain.
func (c *Cache) PurgeOldWeakblocks(leaveTips int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if leaveTips <= 0 {
		c.purgeEverything()
		return
	}

	tips := append([]common.Hash(nil), c.tips...)
	for _, tip := range tips {
		c.purgeChainBeyondDepth(tip, leaveTips)
	}
}

// purgeChainBeyondDepth walks keepAncestors hops back from tip to find the
// oldest ancestor still worth keeping, then forgets everything further back
// than that, stopping at a branch point shared with another chain.
func (c *Cache) purgeChainBeyondDepth(tip common.Hash, keepAncestors int) {
	boundary := tip
	for i := 0; i < keepAncestors; i++ {
		parent, ok := c.miniextends[boundary]
		if !ok {
			return // chain already shorter than the retention window
		}
		boundary = parent
	}

	cursor, hasParent := c.miniextends[boundary]
	for hasParent {
		if c.childCount(cursor) > 1 {
			break // still feeds a different surviving chain
		}
		next, nextHasParent := c.miniextends[cursor]
		c.forgetWeakblock(c.blocks[cursor])
		cursor, hasParent = next, nextHasParent
	}

	if parent, stillLinked := c.miniextends[boundary]; stillLinked {
		if _, parentKept := c.blocks[parent]; !parentKept {
			delete(c.miniextends, boundary) // its old parent is gone; it's a root now
			if bwb, ok := c.blocks[boundary]; ok {
				c.recomputeHeightsFrom(bwb)
			}
		}
	}
}

func (c *Cache) childCount(hash common.Hash) int {
	n := 0
	for _, p := range c.miniextends {
		if p == hash {
			n++
		}
	}
	return n
}

func (c *Cache) purgeEverything() {
	for _, wb := range c.blocks {
		c.reassembly.Remove(wb.Hash)
		if err := c.graph.DeleteVertex(wb.dagID()); err != nil {
			log_.Debug("weak block dag vertex already gone", "hash", wb.Hash, "err", err)
		}
	}
	c.txPool = make(map[common.Hash]*txPoolEntry)
	c.blocks = make(map[common.Hash]*WeakBlock)
	c.miniextends = make(map[common.Hash]common.Hash)
	c.heights = make(map[common.Hash]int)
	c.tips = nil
	c.tipSet = make(map[common.Hash]struct{})
}

// forgetWeakblock releases wb's transaction references, drops its header,
// invalidates its reassembly cache entry, and removes it from every index.
func (c *Cache) forgetWeakblock(wb *WeakBlock) {
	for _, ref := range wb.TxRefs {
		if e, ok := c.txPool[ref]; ok {
			e.refcount--
			if e.refcount <= 0 {
				delete(c.txPool, ref)
			}
		}
	}
	delete(c.blocks, wb.Hash)
	delete(c.miniextends, wb.Hash)
	delete(c.heights, wb.Hash)
	c.reassembly.Remove(wb.Hash)
	if err := c.graph.DeleteVertex(wb.dagID()); err != nil {
		log_.Debug("weak block dag vertex already gone", "hash", wb.Hash, "err", err)
	}
}

// ResetOrPurgeAll empties every index; equivalent to purging down to zero
// tips.
func (c *Cache) ResetOrPurgeAll() {
	c.PurgeOldWeakblocks(0)
}
