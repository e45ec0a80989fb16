// Package pacer implements a leaky-bucket rate limiter used to cap how many
// requests the fetch manager issues per second, in both burst and average
// terms. It follows the same "maintain a token count, refill on demand by
// elapsed wall time" shape as geth's internal rate limiters, but is a
// standalone value type so it can be driven by a mclock.Clock in tests.
package pacer

import (
	"sync"

	"github.com/ethereum/go-ethereum/common/mclock"
)

// Pacer is a leaky bucket: max_burst tokens of headroom, refilling at
// average_per_second tokens/sec, never exceeding max_burst.
type Pacer struct {
	mu sync.Mutex

	maxBurst      float64
	averagePerSec float64
	tokens        float64
	last          mclock.AbsTime
	clock         mclock.Clock
}

// New returns a Pacer starting at full capacity.
func New(maxBurst, averagePerSecond uint32) *Pacer {
	return NewWithClock(maxBurst, averagePerSecond, mclock.System{})
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(maxBurst, averagePerSecond uint32, clock mclock.Clock) *Pacer {
	return &Pacer{
		maxBurst:      float64(maxBurst),
		averagePerSec: float64(averagePerSecond),
		tokens:        float64(maxBurst),
		last:          clock.Now(),
		clock:         clock,
	}
}

// TryLeak attempts to consume n tokens. It refills first (elapsed seconds
// times the average rate, clamped to max_burst) then returns true and
// deducts n iff the post-refill balance is at least n.
func (p *Pacer) TryLeak(n uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	elapsed := float64(now-p.last) / float64(1e9) // AbsTime is nanoseconds
	if elapsed > 0 {
		p.tokens += elapsed * p.averagePerSec
		if p.tokens > p.maxBurst {
			p.tokens = p.maxBurst
		}
		p.last = now
	}
	if p.tokens < float64(n) {
		return false
	}
	p.tokens -= float64(n)
	return true
}

// Available reports the current token balance without consuming any,
// refilling first. Used only by diagnostics/tests.
func (p *Pacer) Available() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	elapsed := float64(now-p.last) / float64(1e9)
	if elapsed > 0 {
		p.tokens += elapsed * p.averagePerSec
		if p.tokens > p.maxBurst {
			p.tokens = p.maxBurst
		}
		p.last = now
	}
	return p.tokens
}
