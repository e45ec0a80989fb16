// Package fetch implements an asynchronous fetch coordinator that tracks
// which peers can supply which advertised objects, ranks them by
// desirability, and drives retries and cleanup.
package fetch

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nxblock/nxd/fetch/inv"
	"github.com/nxblock/nxd/peer"
	"github.com/nxblock/nxd/pacer"
	"github.com/nxblock/nxd/scm"
)

// ChainView is the narrow slice of header-chain state the scheduler needs.
// It is implemented by the surrounding node; block validation and header
// chain maintenance themselves are out of scope for this module.
type ChainView interface {
	NearSynced() bool
	Regtest() bool
	TrafficShapingEnabled() bool
	KnowsHeader(hash common.Hash) bool
	BestHeaderHash() common.Hash
}

// ThinBlockPolicy is the narrow slice of thin-block configuration/state the
// block-request helper needs; bloom-filter construction and thin-block
// encoding themselves are out of scope for this module.
type ThinBlockPolicy interface {
	Enabled() bool
	HasDedicatedPeer() bool
	TimerElapsed(blockHash common.Hash) bool
	OrphanPoolHashes() []common.Hash
}

// RejectReason enumerates the rejection reasons the manager recognises.
type RejectReason int

const (
	Malformed RejectReason = iota
	Invalid
	Obsolete
	Checkpoint
	InsufficientFee
	Duplicate
	Nonstandard
	Dust
)

func (r RejectReason) String() string {
	switch r {
	case Malformed:
		return "MALFORMED"
	case Invalid:
		return "INVALID"
	case Obsolete:
		return "OBSOLETE"
	case Checkpoint:
		return "CHECKPOINT"
	case InsufficientFee:
		return "INSUFFICIENTFEE"
	case Duplicate:
		return "DUPLICATE"
	case Nonstandard:
		return "NONSTANDARD"
	case Dust:
		return "DUST"
	default:
		return "UNKNOWN"
	}
}

func (r RejectReason) recognised() bool {
	return r >= Malformed && r <= Dust
}

var log_ = log.New("pkg", "fetch")

// Manager is the Request Manager. A node runs one instance.
type Manager struct {
	cfg   Config
	chain ChainView
	thin  ThinBlockPolicy

	clock mclock.Clock
	rand  randSource

	txRecords *scm.Map[*record]

	blockMu      sync.Mutex
	blockRecords map[common.Hash]*record
	blockCursor  *common.Hash // resume key for round-robin scheduling

	requestPacer *pacer.Pacer
	blockPacer   *pacer.Pacer

	tracker *peer.Tracker
	stats   *Stats
}

// randSource abstracts math/rand's Intn so tests can make shard selection
// deterministic.
type randSource interface {
	Intn(n int) int
}

// NewManager constructs a Manager with the given config and chain
// collaborators, using the real wall clock and its own pair of pacers.
func NewManager(cfg Config, chain ChainView, thin ThinBlockPolicy) *Manager {
	return NewManagerWithClock(cfg, chain, thin, mclock.System{}, defaultRand{})
}

// NewManagerWithClock is NewManager with injectable clock/rand, for
// deterministic tests.
func NewManagerWithClock(cfg Config, chain ChainView, thin ThinBlockPolicy, clock mclock.Clock, rand randSource) *Manager {
	return &Manager{
		cfg:          cfg,
		chain:        chain,
		thin:         thin,
		clock:        clock,
		rand:         rand,
		txRecords:    scm.New[*record](),
		blockRecords: make(map[common.Hash]*record),
		requestPacer: pacer.NewWithClock(cfg.RequestPacerMaxBurst, cfg.RequestPacerAverage, clock),
		blockPacer:   pacer.NewWithClock(cfg.BlockPacerMaxBurst, cfg.BlockPacerAverage, clock),
		tracker:      peer.NewTracker(4096),
		stats:        NewStats("nxd/fetch"),
	}
}

// Stats exposes the manager's counters for RPC/metrics consumers.
func (m *Manager) Stats() *Stats { return m.stats }

// AskFor inserts or updates a record for item: priority is raised to the
// max of old and new, and p is added as a source if not already present.
// Idempotent w.r.t. repeated (item, p) pairs.
func (m *Manager) AskFor(item inv.Inv, p peer.Handle, priority uint32) {
	if item.Type.IsBlockFamily() {
		m.askForBlock(item, p, priority)
		return
	}
	m.askForTx(item, p, priority)
}

// AskForMany applies AskFor to every item in items.
func (m *Manager) AskForMany(items []inv.Inv, p peer.Handle, priority uint32) {
	for _, item := range items {
		m.AskFor(item, p, priority)
	}
}

func (m *Manager) askForTx(item inv.Inv, p peer.Handle, priority uint32) {
	a := m.txRecords.Accessor(item.Hash)
	defer a.Unlock()

	r, ok := a.Get(item.Hash)
	if !ok {
		r = newRecord(item, priority)
		a.Set(item.Hash, r)
		m.stats.Pending.Inc(1)
	}
	r.raisePriority(priority)
	r.addSource(p, m.chain.NearSynced())
}

func (m *Manager) askForBlock(item inv.Inv, p peer.Handle, priority uint32) {
	m.blockMu.Lock()
	defer m.blockMu.Unlock()

	r, ok := m.blockRecords[item.Hash]
	if !ok {
		r = newRecord(item, priority)
		m.blockRecords[item.Hash] = r
		m.stats.Pending.Inc(1)
	}
	r.raisePriority(priority)
	r.addSource(p, m.chain.NearSynced())
}

// Received finalizes a successful delivery: if a record exists it records
// the round-trip latency (TX only) then fully cleans up. No-op if absent.
func (m *Manager) Received(item inv.Inv, p peer.Handle, bytes int) {
	if item.Type.IsBlockFamily() {
		m.blockMu.Lock()
		r, ok := m.blockRecords[item.Hash]
		if !ok {
			m.blockMu.Unlock()
			return
		}
		m.cleanupBlockLocked(item.Hash, r)
		m.blockMu.Unlock()
		m.stats.Received.Inc(1)
		return
	}
	a := m.txRecords.Accessor(item.Hash)
	r, ok := a.Get(item.Hash)
	if !ok {
		a.Unlock()
		return
	}
	if r.lastRequestTime != 0 && r.receivingFrom != 0 {
		// last_request_time is stored as an AbsTime (ns); the peer wants a
		// time.Duration round-trip sample.
		rtt := time.Duration(m.clock.Now() - r.lastRequestTime)
		p.RecordTxLatency(rtt)
	}
	m.cleanupTxLocked(item.Hash, r, a)
	a.Unlock()
	m.stats.Received.Inc(1)
}

// AlreadyReceived cleans up a record with no latency accounting, for
// objects that turned out to already be known locally.
func (m *Manager) AlreadyReceived(item inv.Inv) {
	if item.Type.IsBlockFamily() {
		m.blockMu.Lock()
		defer m.blockMu.Unlock()
		if r, ok := m.blockRecords[item.Hash]; ok {
			m.cleanupBlockLocked(item.Hash, r)
		}
		return
	}
	a := m.txRecords.Accessor(item.Hash)
	defer a.Unlock()
	if r, ok := a.Get(item.Hash); ok {
		m.cleanupTxLocked(item.Hash, r, a)
	}
}

// Rejected decrements outstanding_reqs/in_flight and advances the rejection
// counter. Unknown reasons are logged but not fatal; the record is never
// removed here.
func (m *Manager) Rejected(item inv.Inv, p peer.Handle, reason RejectReason) {
	if !reason.recognised() {
		log_.Warn("rejected with unrecognised reason", "item", item.Hash, "reason", int(reason))
	}
	if item.Type.IsBlockFamily() {
		m.blockMu.Lock()
		if r, ok := m.blockRecords[item.Hash]; ok {
			if r.outstandingReqs > 0 {
				r.outstandingReqs--
			}
		}
		m.blockMu.Unlock()
	} else {
		a := m.txRecords.Accessor(item.Hash)
		if r, ok := a.Get(item.Hash); ok {
			if r.outstandingReqs > 0 {
				r.outstandingReqs--
				m.stats.InFlight.Dec(1)
			}
		}
		a.Unlock()
	}
	m.stats.Rejected.Inc(1)
}

// RemoveSource abandons every record currently awaiting p: it zeroes
// last_request_time, decrements outstanding_reqs, clears receiving_from and
// resets paused to 0. The stale source entry itself is dropped lazily on
// the next scheduler pass.
func (m *Manager) RemoveSource(p peer.Handle) {
	id := p.ID()
	for i := 0; i < scm.NumShards; i++ {
		a := m.txRecords.AccessorForShard(i)
		a.Range(func(_ common.Hash, r *record) {
			m.abandonIfAwaiting(r, id, true)
		})
		a.Unlock()
	}
	m.blockMu.Lock()
	for _, r := range m.blockRecords {
		m.abandonIfAwaiting(r, id, false)
	}
	m.blockMu.Unlock()
}

// abandonIfAwaiting clears a record's in-flight state if p was its current
// source. in_flight only tracks TX records; isTx gates the gauge update so
// abandoning a block request doesn't skew it.
func (m *Manager) abandonIfAwaiting(r *record, peerID uint64, isTx bool) {
	if r.receivingFrom != peerID {
		return
	}
	r.lastRequestTime = 0
	if r.outstandingReqs > 0 {
		r.outstandingReqs--
		if isTx {
			m.stats.InFlight.Dec(1)
		}
	}
	r.receivingFrom = 0
	r.paused = 0
}

// Pause increments the record's paused counter; Resume saturatingly
// decrements it. Paused records are skipped by the scheduler.
func (m *Manager) Pause(item inv.Inv) {
	m.withRecord(item, func(r *record) { r.pause() })
}

func (m *Manager) Resume(item inv.Inv) {
	m.withRecord(item, func(r *record) { r.resume() })
}

func (m *Manager) withRecord(item inv.Inv, do func(r *record)) {
	if item.Type.IsBlockFamily() {
		m.blockMu.Lock()
		defer m.blockMu.Unlock()
		if r, ok := m.blockRecords[item.Hash]; ok {
			do(r)
		}
		return
	}
	a := m.txRecords.Accessor(item.Hash)
	defer a.Unlock()
	if r, ok := a.Get(item.Hash); ok {
		do(r)
	}
}

// cleanupTxLocked implements the per-record cleanup contract: decrements
// in_flight by outstanding_reqs, adjusts dropped/pending, releases every
// source reference, and removes the record from its shard.
func (m *Manager) cleanupTxLocked(hash common.Hash, r *record, a *scm.Accessor[*record]) {
	if r.outstandingReqs > 0 {
		m.stats.InFlight.Dec(int64(r.outstandingReqs))
	}
	// Correct the dropped counter by outstanding_reqs-1 so a
	// retried-but-ultimately-resolved item doesn't leave a permanent
	// dropped mark once it's cleaned up.
	m.stats.Dropped.Dec(int64(r.outstandingReqs) - 1)
	m.stats.Pending.Dec(1)
	r.releaseAllSources(m.tracker)
	a.Delete(hash)
}

// cleanupBlockLocked mirrors cleanupTxLocked for a block record. Block
// outstanding_reqs do not feed the TX-only in_flight gauge; blocks are rare
// enough to observe directly via the block map's length instead.
func (m *Manager) cleanupBlockLocked(hash common.Hash, r *record) {
	m.stats.Pending.Dec(1)
	r.releaseAllSources(m.tracker)
	delete(m.blockRecords, hash)
	if m.blockCursor != nil && *m.blockCursor == hash {
		m.blockCursor = nil
	}
}

type defaultRand struct{}

func (defaultRand) Intn(n int) int {
	return mathrand.Intn(n)
}
