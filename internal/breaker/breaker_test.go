package breaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/evetabi/qpredict/internal/breaker"
)

// ── State transitions ─────────────────────────────────────────────────────────

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := breaker.New(5, 30*time.Second, nil)
	fail := errors.New("rpc failed")

	for i := 0; i < 4; i++ {
		_ = b.Guard(func() error { return fail })
		if b.State() != breaker.Closed {
			t.Fatalf("after %d failures, state = %s, want closed", i+1, b.State())
		}
	}
	_ = b.Guard(func() error { return fail })
	if b.State() != breaker.Open {
		t.Fatalf("after 5 failures, state = %s, want open", b.State())
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	b := breaker.New(5, 30*time.Second, nil)
	fail := errors.New("rpc failed")

	for i := 0; i < 4; i++ {
		_ = b.Guard(func() error { return fail })
	}
	if b.State() != breaker.Closed {
		t.Fatalf("state = %s, want closed with fewer than 5 consecutive failures", b.State())
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := breaker.New(5, 30*time.Second, nil)
	fail := errors.New("rpc failed")

	for i := 0; i < 4; i++ {
		_ = b.Guard(func() error { return fail })
	}
	_ = b.Guard(func() error { return nil })
	for i := 0; i < 4; i++ {
		_ = b.Guard(func() error { return fail })
	}
	if b.State() != breaker.Closed {
		t.Fatalf("state = %s, want closed: the intervening success should have reset the counter", b.State())
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b := breaker.New(1, 20*time.Millisecond, nil)
	_ = b.Guard(func() error { return errors.New("fail") })
	if b.State() != breaker.Open {
		t.Fatalf("state = %s, want open", b.State())
	}
	if b.IsHealthy() {
		t.Fatal("breaker should not report healthy immediately after opening")
	}
	time.Sleep(30 * time.Millisecond)
	if !b.IsHealthy() {
		t.Fatal("breaker should self-heal to half-open once the reset timeout elapses")
	}
	if b.State() != breaker.HalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := breaker.New(1, 10*time.Millisecond, nil)
	_ = b.Guard(func() error { return errors.New("fail") })
	time.Sleep(20 * time.Millisecond)
	if err := b.Guard(func() error { return nil }); err != nil {
		t.Fatalf("trial call should have been allowed through: %v", err)
	}
	if b.State() != breaker.Closed {
		t.Fatalf("state = %s, want closed after a successful half-open trial", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := breaker.New(1, 10*time.Millisecond, nil)
	_ = b.Guard(func() error { return errors.New("fail") })
	time.Sleep(20 * time.Millisecond)
	_ = b.Guard(func() error { return errors.New("fail again") })
	if b.State() != breaker.Open {
		t.Fatalf("state = %s, want open: the half-open trial failed", b.State())
	}
}

// ── Blocked calls ─────────────────────────────────────────────────────────────

func TestBreaker_BlocksCallsWhileOpen(t *testing.T) {
	b := breaker.New(1, time.Hour, nil)
	_ = b.Guard(func() error { return errors.New("fail") })

	called := false
	err := b.Guard(func() error { called = true; return nil })
	if called {
		t.Fatal("fn should not run while the breaker is open")
	}
	var openErr *breaker.CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected a CircuitOpenError, got %v", err)
	}
}

// ── Alerts ─────────────────────────────────────────────────────────────────────

type recordingSink struct {
	events []string
}

func (r *recordingSink) Alert(event, message string) {
	r.events = append(r.events, event)
}

func TestBreaker_EmitsAlertsOnTransition(t *testing.T) {
	sink := &recordingSink{}
	b := breaker.New(1, 10*time.Millisecond, sink)

	_ = b.Guard(func() error { return errors.New("fail") })
	time.Sleep(20 * time.Millisecond)
	_ = b.Guard(func() error { return nil })

	if len(sink.events) != 2 {
		t.Fatalf("events = %v, want [breaker_open breaker_closed]", sink.events)
	}
	if sink.events[0] != "breaker_open" || sink.events[1] != "breaker_closed" {
		t.Fatalf("events = %v, want [breaker_open breaker_closed]", sink.events)
	}
}
