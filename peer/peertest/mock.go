// Package peertest provides a Handle implementation for use by tests
// (fetch, peer), kept in its own package so it can be imported across
// package boundaries.
package peertest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nxblock/nxd/fetch/inv"
	"github.com/nxblock/nxd/peer"
)

var _ peer.Handle = (*Mock)(nil)

// Mock is a controllable in-memory peer.Handle.
type Mock struct {
	id   uint64
	name string

	mu          sync.Mutex
	refs        int32
	disconnect  bool
	thinCapable bool
	pingMicros  int64
	thinInFlt   int
	latencySum  int64
	latencyN    int64

	Pushed []PushedMessage
	Asked  []inv.Inv
}

type PushedMessage struct {
	Type    string
	Payload interface{}
}

// New returns a Mock peer with the given id, not thin-block capable (see
// SetThinCapable) and with no recorded latency samples (so desirability scoring falls back to the
// default 80,000µs).
func New(id uint64, name string) *Mock {
	return &Mock{id: id, name: name}
}

func (m *Mock) ID() uint64   { return m.id }
func (m *Mock) Name() string { return m.name }

func (m *Mock) AddRef()  { atomic.AddInt32(&m.refs, 1) }
func (m *Mock) Release() { atomic.AddInt32(&m.refs, -1) }
func (m *Mock) Refs() int32 { return atomic.LoadInt32(&m.refs) }

func (m *Mock) SetDisconnect(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnect = v
}

func (m *Mock) FlaggedForDisconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnect
}

func (m *Mock) SetThinCapable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thinCapable = v
}

func (m *Mock) ThinBlockCapable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thinCapable
}

func (m *Mock) SetPingMicroseconds(v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingMicros = v
}

func (m *Mock) PingMicroseconds() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingMicros
}

func (m *Mock) SetThinBlocksInFlightCount(v int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thinInFlt = v
}

func (m *Mock) ThinBlocksInFlightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thinInFlt
}

func (m *Mock) RecordTxLatency(d time.Duration) {
	atomic.AddInt64(&m.latencySum, int64(d/time.Microsecond))
	atomic.AddInt64(&m.latencyN, 1)
}

func (m *Mock) AverageTxLatencyMicros() (int64, bool) {
	n := atomic.LoadInt64(&m.latencyN)
	if n == 0 {
		return 0, false
	}
	return atomic.LoadInt64(&m.latencySum) / n, true
}

func (m *Mock) PushMessage(msgType string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pushed = append(m.Pushed, PushedMessage{Type: msgType, Payload: payload})
	return nil
}

func (m *Mock) QueueGetData(item inv.Inv) error {
	m.mu.Lock()
	m.Asked = append(m.Asked, item)
	m.mu.Unlock()
	return m.PushMessage("GETDATA", item)
}
