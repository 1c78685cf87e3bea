package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(threshold, time.Minute, WithClock(clk.Now)), clk
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3)
	if !b.Allow("transfer") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("transfer")
	b.RecordFailure("transfer")
	if !b.Allow("transfer") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("transfer")
	if b.Allow("transfer") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("transfer") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("transfer"))
	}
}

func TestBreaker_HalfOpenAdmitsOneProbe(t *testing.T) {
	b, clk := newTestBreaker(2)

	b.RecordFailure("deploy")
	b.RecordFailure("deploy")
	clk.Advance(30 * time.Second)
	if b.Allow("deploy") {
		t.Fatal("should stay open before cool-down elapses")
	}

	clk.Advance(31 * time.Second)
	if !b.Allow("deploy") {
		t.Fatal("should allow probe after cool-down")
	}
	if b.State("deploy") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("deploy"))
	}
	if b.Allow("deploy") {
		t.Fatal("should reject second caller while probing")
	}
}

func TestBreaker_ProbeOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b, clk := newTestBreaker(2)
		b.RecordFailure("call")
		b.RecordFailure("call")
		clk.Advance(2 * time.Minute)
		b.Allow("call")

		b.RecordSuccess("call")
		if b.State("call") != StateClosed {
			t.Fatalf("expected StateClosed, got %v", b.State("call"))
		}
		if !b.Allow("call") {
			t.Fatal("should allow after recovery")
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		b, clk := newTestBreaker(2)
		b.RecordFailure("call")
		b.RecordFailure("call")
		clk.Advance(2 * time.Minute)
		b.Allow("call")

		b.RecordFailure("call")
		if b.State("call") != StateOpen {
			t.Fatalf("expected StateOpen, got %v", b.State("call"))
		}
	})

	t.Run("released probe admits the next caller", func(t *testing.T) {
		b, clk := newTestBreaker(2)
		b.RecordFailure("call")
		b.RecordFailure("call")
		clk.Advance(2 * time.Minute)
		b.Allow("call")

		b.Release("call")
		if b.State("call") != StateOpen {
			t.Fatalf("expected StateOpen, got %v", b.State("call"))
		}
		if !b.Allow("call") {
			t.Fatal("should admit a new probe without another cool-down")
		}
	})

	t.Run("release ignores closed keys", func(t *testing.T) {
		b, _ := newTestBreaker(2)
		b.RecordFailure("call")
		b.Release("call")
		if b.State("call") != StateClosed {
			t.Fatalf("expected StateClosed, got %v", b.State("call"))
		}
	})
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("resolve")
	b.RecordFailure("resolve")
	b.RecordSuccess("resolve")
	b.RecordFailure("resolve")

	if !b.Allow("resolve") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b, _ := newTestBreaker(2)

	b.RecordFailure("transfer")
	b.RecordFailure("transfer")

	if b.Allow("transfer") {
		t.Fatal("transfer should be open")
	}
	if !b.Allow("deploy") {
		t.Fatal("deploy should be closed")
	}
	if got := b.OpenKeys(); len(got) != 1 || got[0] != "transfer" {
		t.Fatalf("expected [transfer] open, got %v", got)
	}
}

func TestBreaker_TransitionHook(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []State
		done = make(chan struct{}, 4)
	)
	b := New(2, time.Minute, WithTransitionHook(func(key string, from, to State) {
		mu.Lock()
		seen = append(seen, from, to)
		mu.Unlock()
		done <- struct{}{}
	}))

	b.RecordFailure("call")
	b.RecordFailure("call")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hook not called")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != StateClosed || seen[1] != StateOpen {
		t.Fatalf("expected closed→open, got %v", seen)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
