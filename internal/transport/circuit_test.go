package transport

import (
	"testing"
	"time"
)

// fakeClock lets tests move a breaker past its recovery interval without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, interval time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(threshold, interval)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	if !cb.Allow() {
		t.Fatal("expected a new breaker to allow")
	}
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Errorf("expected closed after 2 failures, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("expected open after 3 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("expected open circuit to block")
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("expected closed, failures were not consecutive; got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)

	cb.RecordFailure()
	clock.advance(10 * time.Second)

	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after the probe interval, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected the first probe to be allowed")
	}
	if cb.Allow() {
		t.Error("expected a second concurrent probe to be blocked")
	}
}

func TestCircuitBreaker_ProbeOutcome(t *testing.T) {
	tests := []struct {
		name    string
		succeed bool
		want    CircuitState
	}{
		{"success closes", true, StateClosed},
		{"failure reopens", false, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(1, time.Second)
			cb.RecordFailure()
			clock.advance(time.Second)
			cb.Allow()

			if tt.succeed {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
			if cb.State() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, cb.State())
			}
		})
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	cb.RecordFailure()
	cb.Reset()

	if cb.State() != StateClosed || !cb.Allow() {
		t.Errorf("expected closed and allowing after reset, got %s", cb.State())
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestHealthTracker_IndependentProviders(t *testing.T) {
	ht := NewHealthTracker(1, time.Minute)

	ht.RecordFailure("azure")

	if ht.Allow("azure") {
		t.Error("expected azure to be unavailable")
	}
	if !ht.Allow("openai") {
		t.Error("expected openai to be available")
	}
	states := ht.States()
	if states["azure"] != "open" || states["openai"] != "closed" {
		t.Errorf("unexpected states: %v", states)
	}
}
