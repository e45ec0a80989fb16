// Package peer defines the capability surface the fetch and weakblock
// packages consume from a live peer connection. This module never
// implements a peer connection itself — that lifecycle (dialing,
// handshake, wire codec) belongs to the surrounding node — but it does
// define the Handle interface those connections must satisfy, plus a small
// Tracker that wraps reference release and remembers recently released ids.
package peer

import (
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/nxblock/nxd/fetch/inv"
)

// Handle is the capability surface the Request Manager and Weak-Block
// Cache require from a peer connection. Implementations are provided by
// the surrounding node; nothing here constructs one outside of tests.
type Handle interface {
	// ID returns a stable identifier for the remote peer, used as the map
	// key for source entries and retrieval bookkeeping.
	ID() uint64
	// Name is a human-readable display name for logs.
	Name() string

	// AddRef and Release implement atomic reference counting around the
	// peer connection's lifetime. A source entry acquires exactly one
	// reference on insertion and releases exactly one on removal.
	AddRef()
	Release()

	// FlaggedForDisconnect reports whether the peer is being torn down and
	// should no longer be selected as a request destination.
	FlaggedForDisconnect() bool
	// ThinBlockCapable reports whether the peer supports xthin retrieval.
	ThinBlockCapable() bool
	// PingMicroseconds is the peer's last measured round-trip ping.
	PingMicroseconds() int64
	// ThinBlocksInFlightCount is the number of xthin requests currently
	// outstanding to this peer; the scheduler allows at most one.
	ThinBlocksInFlightCount() int

	// RecordTxLatency accumulates a transaction request round-trip
	// latency sample, consumed by desirability scoring on future AskFor
	// calls.
	RecordTxLatency(d time.Duration)
	// AverageTxLatencyMicros returns the peer's current average
	// transaction round-trip latency in microseconds, or false if no
	// sample has ever been recorded.
	AverageTxLatencyMicros() (int64, bool)

	// PushMessage queues a raw protocol message to the peer. msgType
	// is the wire command name (GETHEADERS, GETDATA, GET_XTHIN, ...).
	PushMessage(msgType string, payload interface{}) error
	// QueueGetData is the higher-level helper that queues a getdata for
	// a single inventory item.
	QueueGetData(item inv.Inv) error
}

// Tracker wraps Release with a small bounded record of recently released
// peer ids. It does not detect or log a second Release of the same id:
// every call is passed through to the handle, and the record can only be
// queried afterwards through WasRecentlyReleased.
type Tracker struct {
	recent *lru.Cache
}

// NewTracker returns a Tracker remembering up to capacity recently
// released peer ids.
func NewTracker(capacity int) *Tracker {
	c, err := lru.New(capacity)
	if err != nil {
		// Only returns an error for a non-positive size, which is a
		// programming error at the call site, not a runtime condition.
		panic(err)
	}
	return &Tracker{recent: c}
}

// Release releases h's strong reference and records the release.
func (t *Tracker) Release(h Handle) {
	h.Release()
	t.recent.Add(h.ID(), time.Now())
}

// WasRecentlyReleased reports whether id is among the recently released
// ids the Tracker still remembers.
func (t *Tracker) WasRecentlyReleased(id uint64) bool {
	return t.recent.Contains(id)
}
