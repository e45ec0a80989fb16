package fetch

import (
	"sort"

	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/nxblock/nxd/fetch/inv"
	"github.com/nxblock/nxd/peer"
)

// sourceEntry is one candidate peer for a record, ranked by desirability.
type sourceEntry struct {
	peer         peer.Handle
	requestCount uint32
	desirability int64
}

// record is the per-fetch bookkeeping for one outstanding Inv. All access
// to a record's fields must happen while
// holding the lock of the shard (tx) or block map (block) it lives in.
type record struct {
	item  inv.Inv
	prio  uint32
	sourc []*sourceEntry // non-increasing desirability order, no duplicate peers

	outstandingReqs int32
	lastRequestTime mclock.AbsTime // 0 = never attempted
	receivingFrom   uint64         // 0 = none
	paused          uint32
}

func newRecord(item inv.Inv, priority uint32) *record {
	return &record{item: item, prio: priority}
}

// addSource inserts p as a source if not already present, keeping sourc
// sorted by desirability descending. Returns false if p was already a
// source (AskFor is then idempotent w.r.t. this call). Acquires a strong
// reference to p on insertion.
func (r *record) addSource(p peer.Handle, nearSynced bool) bool {
	for _, s := range r.sourc {
		if s.peer.ID() == p.ID() {
			return false
		}
	}
	p.AddRef()
	entry := &sourceEntry{peer: p, desirability: desirability(p, nearSynced)}
	idx := sort.Search(len(r.sourc), func(i int) bool {
		return r.sourc[i].desirability < entry.desirability
	})
	r.sourc = append(r.sourc, nil)
	copy(r.sourc[idx+1:], r.sourc[idx:])
	r.sourc[idx] = entry
	return true
}

// raisePriority raises r's priority to the max of its current value and p.
func (r *record) raisePriority(p uint32) {
	if p > r.prio {
		r.prio = p
	}
}

// popFront removes and returns the front (most desirable) source entry, or
// nil if none remain. The returned entry's reference is the caller's to
// release.
func (r *record) popFront() *sourceEntry {
	if len(r.sourc) == 0 {
		return nil
	}
	e := r.sourc[0]
	r.sourc = r.sourc[1:]
	return e
}

// removeByPeerID drops the source entry for peerID, if present, releasing
// its reference. Nothing calls it at present: RemoveSource leaves source
// entries in place, and the scheduler's pop loops discard the entries of
// disconnect-flagged peers as they reach the front.
func (r *record) removeByPeerID(id uint64, tr *peer.Tracker) bool {
	for i, s := range r.sourc {
		if s.peer.ID() == id {
			tr.Release(s.peer)
			r.sourc = append(r.sourc[:i], r.sourc[i+1:]...)
			return true
		}
	}
	return false
}

// releaseAllSources releases every remaining source's reference and empties
// the list. Used by cleanup.
func (r *record) releaseAllSources(tr *peer.Tracker) {
	for _, s := range r.sourc {
		tr.Release(s.peer)
	}
	r.sourc = nil
}

func (r *record) isPaused() bool { return r.paused > 0 }

func (r *record) pause() { r.paused++ }

func (r *record) resume() {
	if r.paused > 0 {
		r.paused--
	}
}
