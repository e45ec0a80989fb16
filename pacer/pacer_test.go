package pacer

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
)

func TestTryLeakNeverExceedsBurst(t *testing.T) {
	p := New(10, 5)
	if p.TryLeak(11) {
		t.Fatalf("TryLeak(max_burst+1) succeeded, want false")
	}
	for i := 0; i < 10; i++ {
		if !p.TryLeak(1) {
			t.Fatalf("TryLeak(1) failed on call %d, want success within burst", i)
		}
	}
	if p.TryLeak(1) {
		t.Fatalf("TryLeak(1) succeeded after burst exhausted with no elapsed time")
	}
}

func TestTryLeakRefillsOverTime(t *testing.T) {
	var clk mclock.Simulated
	p := NewWithClock(10, 5, &clk)

	for i := 0; i < 10; i++ {
		if !p.TryLeak(1) {
			t.Fatalf("initial burst exhausted early at %d", i)
		}
	}
	if p.TryLeak(1) {
		t.Fatalf("expected bucket empty")
	}
	clk.Run(time.Second)
	if !p.TryLeak(5) {
		t.Fatalf("expected 5 tokens available after 1s at rate 5/s")
	}
	if p.TryLeak(1) {
		t.Fatalf("expected bucket empty again after consuming the refill")
	}
}

func TestTryLeakClampsToMaxBurst(t *testing.T) {
	var clk mclock.Simulated
	p := NewWithClock(10, 5, &clk)
	clk.Run(10 * time.Second) // would refill far past max_burst
	if got := p.Available(); got != 10 {
		t.Fatalf("Available() = %v, want clamped to max_burst 10", got)
	}
}
