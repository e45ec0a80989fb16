package fetch

import (
	"bytes"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/nxblock/nxd/fetch/inv"
	"github.com/nxblock/nxd/peer"
	"github.com/nxblock/nxd/scm"
)

// SendRequests is the scheduler's driver tick. It may be called from any
// goroutine and concurrent invocations are tolerated: the block pass is a
// try-lock (skipped if contended) and the tx pass touches exactly one
// shard.
func (m *Manager) SendRequests() {
	now := m.clock.Now()

	txRetry := m.cfg.TxRetry
	blkRetry := m.cfg.BlkRetry
	if (!m.chain.NearSynced() && !m.chain.Regtest()) || m.chain.TrafficShapingEnabled() {
		txRetry *= 24
		blkRetry *= 6
	}

	m.blockPass(now, blkRetry)
	m.txPass(now, txRetry)
}

// blockPass walks the block records starting from the round-robin cursor,
// skipping the tick entirely (no blocking) if another caller already holds
// the block-map lock.
func (m *Manager) blockPass(now mclock.AbsTime, blkRetry time.Duration) {
	if !m.blockMu.TryLock() {
		return
	}

	keys := sortedBlockKeys(m.blockRecords)
	n := len(keys)
	if n == 0 {
		m.blockMu.Unlock()
		return
	}
	start := 0
	if m.blockCursor != nil {
		for i, k := range keys {
			if k == *m.blockCursor {
				start = i
				break
			}
		}
	}

	stopped := false
	for i := 0; i < n && !stopped; i++ {
		hash := keys[(start+i)%n]
		r, ok := m.blockRecords[hash]
		if !ok {
			continue // removed earlier in this same pass
		}
		if r.isPaused() || (r.lastRequestTime != 0 && time.Duration(now-r.lastRequestTime) <= blkRetry) {
			continue
		}

		chosen := m.popUsableSource(r)
		if chosen == nil {
			if len(r.sourc) == 0 {
				m.cleanupBlockLocked(hash, r)
			}
			continue
		}
		if !m.blockPacer.TryLeak(1) {
			// Put the popped entry back in front and stop; resume here
			// next tick.
			r.sourc = append([]*sourceEntry{chosen}, r.sourc...)
			next := hash
			m.blockCursor = &next
			stopped = true
			break
		}

		prevLastRequest := r.lastRequestTime
		r.outstandingReqs++
		r.lastRequestTime = now
		r.receivingFrom = chosen.peer.ID()
		item := r.item
		p := chosen.peer

		m.blockMu.Unlock()
		ok2 := m.requestBlock(item, p)
		m.tracker.Release(p)
		m.blockMu.Lock()

		if !ok2 {
			// Re-find the record by hash before mutating: its identity may
			// have changed while the lock was released, so roll back
			// against the live map slot, never a captured local.
			if rr, stillPresent := m.blockRecords[hash]; stillPresent {
				rr.outstandingReqs--
				rr.lastRequestTime = prevLastRequest
				rr.receivingFrom = 0
			}
		}
	}

	if !stopped {
		m.blockCursor = nil
	}
	m.blockMu.Unlock()
}

// popUsableSource pops source entries from the front of r until it finds
// one whose peer is not flagged for disconnect and, while the chain isn't
// near-synced, has acceptable ping latency. Discarded entries release their
// reference. Caller must hold the owning lock. Block-pass only: during IBD
// a slow peer is worth skipping for a block, but not for a single tx.
func (m *Manager) popUsableSource(r *record) *sourceEntry {
	for {
		s := r.popFront()
		if s == nil {
			return nil
		}
		if s.peer.FlaggedForDisconnect() {
			m.tracker.Release(s.peer)
			continue
		}
		if !m.chain.NearSynced() && s.peer.PingMicroseconds() >= m.cfg.AcceptablePingUsec {
			m.tracker.Release(s.peer)
			continue
		}
		return s
	}
}

// popUsableTxSource pops source entries from the front of r until it finds
// one whose peer isn't flagged for disconnect. Unlike popUsableSource, it
// never filters on ping latency: the tx pass has no IBD/near-synced notion
// of a source being too slow to bother with, only connected or not.
func (m *Manager) popUsableTxSource(r *record) *sourceEntry {
	for {
		s := r.popFront()
		if s == nil {
			return nil
		}
		if s.peer.FlaggedForDisconnect() {
			m.tracker.Release(s.peer)
			continue
		}
		return s
	}
}

func sortedBlockKeys(records map[common.Hash]*record) []common.Hash {
	keys := make([]common.Hash, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

// requestBlock decides between a plain getdata, a headers-first priming
// request, and an xthin fetch. Returns whether the chosen message was
// queued successfully; on failure the caller rolls back its bookkeeping.
func (m *Manager) requestBlock(item inv.Inv, p peer.Handle) bool {
	hash := item.Hash
	nearOrRegtest := m.chain.NearSynced() || m.chain.Regtest()

	if nearOrRegtest && !m.chain.KnowsHeader(hash) {
		if err := p.PushMessage("GETHEADERS", m.chain.BestHeaderHash()); err != nil {
			return false
		}
	}

	if m.thin.Enabled() && m.chain.NearSynced() &&
		(m.thin.HasDedicatedPeer() || m.thin.TimerElapsed(hash)) &&
		p.ThinBlockCapable() && p.ThinBlocksInFlightCount() == 0 {

		filter, err := buildOrphanFilter(m.thin.OrphanPoolHashes())
		if err != nil {
			log_.Warn("failed to build xthin bloom filter", "block", hash, "err", err)
		} else if err := p.PushMessage("GET_XTHIN", xthinRequest{Hash: hash, Filter: filter}); err == nil {
			return true
		} else {
			return false
		}
	}

	return p.QueueGetData(item) == nil
}

// xthinRequest is the payload pushed alongside a GET_XTHIN message; its
// exact wire encoding is the surrounding node's concern.
type xthinRequest struct {
	Hash   common.Hash
	Filter interface{}
}

// txPass selects one random shard and walks its TX records. A pacer
// exhaustion stops the whole pass immediately, since the bucket won't
// refill mid-tick.
func (m *Manager) txPass(now mclock.AbsTime, txRetry time.Duration) {
	idx := m.rand.Intn(scm.NumShards)
	a := m.txRecords.AccessorForShard(idx)
	defer a.Unlock()

	type candidate struct {
		hash common.Hash
		r    *record
	}
	var due []candidate
	a.Range(func(hash common.Hash, r *record) {
		if r.isPaused() {
			return
		}
		if r.lastRequestTime != 0 && time.Duration(now-r.lastRequestTime) <= txRetry {
			return
		}
		due = append(due, candidate{hash: hash, r: r})
	})

	var toDelete []common.Hash
	for _, c := range due {
		if c.r.lastRequestTime != 0 {
			m.stats.Dropped.Inc(1)
		}
		if !m.requestPacer.TryLeak(1) {
			break
		}
		if len(c.r.sourc) == 0 {
			toDelete = append(toDelete, c.hash)
			continue
		}
		chosen := m.popUsableTxSource(c.r)
		if chosen == nil {
			if len(c.r.sourc) == 0 {
				toDelete = append(toDelete, c.hash)
			}
			continue
		}
		c.r.outstandingReqs++
		c.r.lastRequestTime = now
		c.r.receivingFrom = chosen.peer.ID()

		item := c.r.item
		p := chosen.peer
		if err := p.QueueGetData(item); err != nil {
			log_.Debug("getdata send failed", "tx", item.Hash, "peer", p.Name(), "err", err)
		}
		m.tracker.Release(p)
		m.stats.InFlight.Inc(1)
	}

	for _, hash := range toDelete {
		if r, ok := a.Get(hash); ok {
			m.cleanupTxLocked(hash, r, a)
		}
	}
}
