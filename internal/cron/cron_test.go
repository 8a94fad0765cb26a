package cron

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

type capturingAlerts struct{ events []string }

func (c *capturingAlerts) Alert(event, message string) { c.events = append(c.events, event) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_PhaseErrorIsAlertedNotPropagated(t *testing.T) {
	alerts := &capturingAlerts{}
	o := &Orchestrator{alert: alerts, log: testLogger()}

	ran := 0
	o.run("always_runs_next", func() error { ran++; return nil })
	o.run("failing_phase", func() error { return errors.New("boom") })
	o.run("always_runs_next", func() error { ran++; return nil })

	if ran != 2 {
		t.Fatalf("expected both surrounding phases to run despite the failing one, ran=%d", ran)
	}
	if len(alerts.events) != 1 || alerts.events[0] != "cron.phase_failed" {
		t.Fatalf("expected exactly one phase_failed alert, got %v", alerts.events)
	}
}

func TestRun_PhasePanicIsRecoveredAndAlerted(t *testing.T) {
	alerts := &capturingAlerts{}
	o := &Orchestrator{alert: alerts, log: testLogger()}

	afterPanicRan := false
	o.run("panicking_phase", func() error { panic("unexpected nil deref") })
	o.run("after_panic", func() error { afterPanicRan = true; return nil })

	if !afterPanicRan {
		t.Fatal("expected the phase after a panic to still run")
	}
	if len(alerts.events) != 1 || alerts.events[0] != "cron.phase_panic" {
		t.Fatalf("expected exactly one phase_panic alert, got %v", alerts.events)
	}
}
