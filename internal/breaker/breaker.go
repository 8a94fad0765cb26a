// Package breaker implements a Closed/Open/Half-Open circuit breaker that
// guards the chain RPC client, per spec.md §4.6.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker's lifecycle state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// CircuitOpenError is raised when a call is blocked by an open breaker —
// callers distinguish it from errors the downstream RPC call itself
// produced.
type CircuitOpenError struct {
	OpenedAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("breaker: circuit open since %s", e.OpenedAt.Format(time.RFC3339))
}

// AlertSink receives state-transition notifications. The cron orchestrator
// wires this to the observability alert channel; tests can leave it nil.
type AlertSink interface {
	Alert(event, message string)
}

// Breaker tracks consecutive RPC failures and opens after FailureThreshold
// of them, staying open for ResetTimeout before allowing a single trial
// call through in Half-Open.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	resetTimeout     time.Duration

	state        State
	consecutive  int
	openedAt     time.Time
	alerts       AlertSink
}

// New builds a Breaker starting Closed.
func New(failureThreshold int, resetTimeout time.Duration, alerts AlertSink) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            Closed,
		alerts:           alerts,
	}
}

// State returns the breaker's current state without performing the
// self-healing OPEN→HALF_OPEN check IsHealthy does.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsHealthy reports whether a call may proceed, performing the inline
// OPEN→HALF_OPEN transition when the reset timeout has elapsed — spec.md
// §4.6's "self-healing on observation."
func (b *Breaker) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state != Open
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == Open && time.Since(b.openedAt) >= b.resetTimeout {
		b.state = HalfOpen
	}
}

// Guard blocks the call with a CircuitOpenError if the breaker is open,
// otherwise runs fn and records its outcome.
func (b *Breaker) Guard(fn func() error) error {
	b.mu.Lock()
	b.maybeHalfOpenLocked()
	if b.state == Open {
		openedAt := b.openedAt
		b.mu.Unlock()
		return &CircuitOpenError{OpenedAt: openedAt}
	}
	b.mu.Unlock()

	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// recordSuccess closes the breaker from Half-Open and resets the failure
// counter from Closed; a success observed while Open cannot happen, since
// Guard never runs fn in that state.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	prev := b.state
	b.consecutive = 0
	b.state = Closed
	b.mu.Unlock()

	if prev == HalfOpen {
		b.alert("breaker_closed", "circuit breaker closed after a successful trial call")
	}
}

// recordFailure increments the consecutive-failure counter and opens the
// breaker once it reaches the threshold, or immediately re-opens it if the
// failing call was the Half-Open trial.
func (b *Breaker) recordFailure() {
	b.mu.Lock()
	wasHalfOpen := b.state == HalfOpen
	b.consecutive++
	shouldOpen := wasHalfOpen || b.consecutive >= b.failureThreshold
	if shouldOpen {
		b.state = Open
		b.openedAt = time.Now()
	}
	b.mu.Unlock()

	if shouldOpen {
		b.alert("breaker_open", fmt.Sprintf("circuit breaker opened after %d consecutive failures", b.consecutive))
	}
}

func (b *Breaker) alert(event, message string) {
	if b.alerts != nil {
		b.alerts.Alert(event, message)
	}
}
