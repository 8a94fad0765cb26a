// Package cron is the single background driver described in spec.md §4.4:
// one process-global fast cycle plus a slow cycle, each phase isolated so
// one failing phase never aborts the rest, RPC-bearing phases skipped
// wholesale while the circuit breaker is open, and a cron lock so only one
// process instance drives the cycle at a time.
package cron

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	robfigcron "github.com/robfig/cron/v3"

	"github.com/evetabi/qpredict/internal/breaker"
	"github.com/evetabi/qpredict/internal/config"
	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/escrow"
	"github.com/evetabi/qpredict/internal/market"
	"github.com/evetabi/qpredict/internal/recovery"
	"github.com/evetabi/qpredict/internal/store"
)

const cronLockName = "qpredict_cron"

// AlertSink delivers a best-effort operational alert.
type AlertSink interface {
	Alert(event, message string)
}

type noopAlerts struct{}

func (noopAlerts) Alert(string, string) {}

// Orchestrator drives the fast and slow cycles. It holds every service the
// phase table needs and the one breaker instance that gates RPC phases.
type Orchestrator struct {
	store    *store.Store
	market   *market.Service
	escrow   *escrow.Service
	recovery *recovery.Service
	breaker  *breaker.Breaker
	alert    AlertSink
	cfg      *config.Config
	log      *slog.Logger

	holderID     string
	cycleCount   int64
	shuttingDown atomic.Bool

	runner *robfigcron.Cron
}

// New wires an Orchestrator around the services and the breaker that
// already guards their chain calls. Callers build the breaker first with
// NewGuardedChain, wire the returned client into market.New/escrow.New/
// recovery.New, then pass that same cb here — the orchestrator's phase
// gating and the services' RPC guarding must read the identical instance,
// or a tripped breaker would stop new RPC attempts without the cycle ever
// noticing it should skip those phases.
func New(
	st *store.Store,
	mkt *market.Service,
	esc *escrow.Service,
	rec *recovery.Service,
	cb *breaker.Breaker,
	cfg *config.Config,
	alerts AlertSink,
	log *slog.Logger,
) *Orchestrator {
	if alerts == nil {
		alerts = noopAlerts{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:    st,
		market:   mkt,
		escrow:   esc,
		recovery: rec,
		breaker:  cb,
		alert:    alerts,
		cfg:      cfg,
		log:      log,
		holderID: uuid.NewString(),
	}
}

// Start launches the fast and slow cycles on robfig/cron schedules and
// blocks until ctx is cancelled, then drains the in-flight cycle up to
// ShutdownDrain before returning.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runner = robfigcron.New()
	if _, err := o.runner.AddFunc(everySpec(o.cfg.Cron.FastCycle), func() { o.runFastCycle(ctx) }); err != nil {
		o.alert.Alert("cron.schedule_failed", "fast cycle: "+err.Error())
		return
	}
	if _, err := o.runner.AddFunc(everySpec(o.cfg.Cron.SlowCycle), func() { o.runSlowCycle(ctx) }); err != nil {
		o.alert.Alert("cron.schedule_failed", "slow cycle: "+err.Error())
		return
	}
	o.runner.Start()

	<-ctx.Done()
	o.shuttingDown.Store(true)
	drain := o.runner.Stop()
	select {
	case <-drain.Done():
	case <-time.After(o.cfg.Cron.ShutdownDrain):
		o.alert.Alert("cron.shutdown_drain_timeout", "in-flight cycle did not finish within the drain budget")
	}
}

func everySpec(d time.Duration) string {
	if d <= 0 {
		d = 15 * time.Second
	}
	return "@every " + d.String()
}

// runFastCycle implements the full phase table from spec.md §4.4. Each
// phase's error is caught and alerted, never aborting the remaining
// phases; phases marked RPC in the table are skipped wholesale while the
// breaker reports unhealthy.
func (o *Orchestrator) runFastCycle(ctx context.Context) {
	if o.shuttingDown.Load() {
		return
	}
	acquired, err := o.store.AcquireCronLock(ctx, cronLockName, o.holderID, o.cfg.Cron.LockTTL)
	if err != nil {
		o.alert.Alert("cron.lock_acquire_failed", err.Error())
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := o.store.ReleaseCronLock(ctx, cronLockName, o.holderID); err != nil {
			o.alert.Alert("cron.lock_release_failed", err.Error())
		}
	}()

	atomic.AddInt64(&o.cycleCount, 1)
	healthy := o.breaker.IsHealthy()

	o.run("repair_aggregates", func() error { return o.recovery.RepairAggregates(ctx) })
	o.run("close_expired_betting", o.phaseCloseExpiredBetting(ctx))
	if healthy {
		o.run("stuck_markets", func() error { return o.recovery.HandleStuckMarkets(ctx) })
	}
	if healthy {
		o.run("resolve_due", func() error { return o.market.ResolveDue(ctx) })
	}
	if healthy {
		o.run("discover_pending_betids", func() error { return o.market.DiscoverPendingBetIDs(ctx) })
	}
	if healthy {
		o.run("check_deposits", o.phaseCheckDeposits(ctx))
	}
	if healthy {
		o.run("execute_joins", o.phaseExecuteJoins(ctx))
	}
	if healthy {
		o.run("confirm_joins", o.phaseConfirmJoins(ctx))
	}
	if healthy {
		o.run("reconcile_post_resolution", o.phaseReconcilePostResolution(ctx))
	}
	if healthy {
		o.run("execute_sweeps", o.phaseExecuteSweeps(ctx))
	}
	if healthy {
		o.run("confirm_sweeps", o.phaseConfirmSweeps(ctx))
	}
	if healthy {
		o.run("handle_expired_escrows", o.phaseHandleExpiredEscrows(ctx))
	}
	if healthy {
		o.run("orphan_recovery", func() error { return o.recovery.RecoverOrphanEscrows(ctx) })
	}
	o.run("sweep_nonce_idempotency", func() error { return o.phaseSweepTables(ctx) })
	o.run("backup", func() error { return o.phaseBackup(ctx) })
}

// runSlowCycle covers the 6-hour cadence. Trending-market discovery is out
// of scope; nothing presently needs the slow cadence, so it is a no-op
// hook kept for parity with the two-cadence model spec.md §4.4 describes.
func (o *Orchestrator) runSlowCycle(ctx context.Context) {}

func (o *Orchestrator) run(name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			o.alert.Alert("cron.phase_panic", name+": "+panicString(p))
		}
	}()
	if err := fn(); err != nil {
		if _, ok := err.(*breaker.CircuitOpenError); ok {
			return
		}
		o.log.Error("cron phase failed", "phase", name, "error", err)
		o.alert.Alert("cron.phase_failed", name+": "+err.Error())
	}
}

func panicString(p any) string {
	if err, ok := p.(error); ok {
		return err.Error()
	}
	return "panic"
}

// ──────────────────────────────────────────────────────────────────────────────
// Phase implementations: 0a, 1, 2, 2b, 3, 4, 4b, 5, 6, 7
// ──────────────────────────────────────────────────────────────────────────────

func (o *Orchestrator) phaseCloseExpiredBetting(ctx context.Context) func() error {
	return func() error {
		_, err := o.store.CloseExpiredBetting(ctx, time.Now().UTC())
		return err
	}
}

func (o *Orchestrator) phaseCheckDeposits(ctx context.Context) func() error {
	return func() error {
		escrows, err := o.store.ListEscrowsByStatus(ctx, domain.EscrowAwaitingDeposit)
		if err != nil {
			return err
		}
		for _, e := range escrows {
			if err := o.escrow.CheckDeposit(ctx, e.ID); err != nil {
				o.alert.Alert("cron.check_deposit_failed", e.ID+": "+err.Error())
			}
		}
		return nil
	}
}

func (o *Orchestrator) phaseExecuteJoins(ctx context.Context) func() error {
	return func() error {
		escrows, err := o.store.ListEscrowsByStatus(ctx, domain.EscrowDepositDetected)
		if err != nil {
			return err
		}
		for _, e := range escrows {
			m, err := o.store.GetMarket(ctx, e.MarketID)
			if err != nil || m.OnChainBetID == nil {
				continue
			}
			if err := o.escrow.ExecuteJoin(ctx, e.ID, *m.OnChainBetID); err != nil {
				o.alert.Alert("cron.execute_join_failed", e.ID+": "+err.Error())
			}
		}
		return nil
	}
}

func (o *Orchestrator) phaseConfirmJoins(ctx context.Context) func() error {
	return func() error {
		escrows, err := o.store.ListEscrowsByStatus(ctx, domain.EscrowJoiningSC)
		if err != nil {
			return err
		}
		for _, e := range escrows {
			if err := o.escrow.ConfirmJoin(ctx, e.ID, o.cfg.Cron.JoinBetTimeoutTicks); err != nil {
				o.alert.Alert("cron.confirm_join_failed", e.ID+": "+err.Error())
			}
		}
		return nil
	}
}

func (o *Orchestrator) phaseReconcilePostResolution(ctx context.Context) func() error {
	return func() error {
		escrows, err := o.store.ListEscrowsByStatus(ctx, domain.EscrowActiveInSC)
		if err != nil {
			return err
		}
		for _, e := range escrows {
			if err := o.escrow.ReconcilePostResolution(ctx, e.ID); err != nil {
				o.alert.Alert("cron.reconcile_post_resolution_failed", e.ID+": "+err.Error())
			}
		}
		return nil
	}
}

func (o *Orchestrator) phaseExecuteSweeps(ctx context.Context) func() error {
	return func() error {
		escrows, err := o.store.ListEscrowsByStatus(ctx, domain.EscrowWonAwaitingSweep)
		if err != nil {
			return err
		}
		for _, e := range escrows {
			if err := o.escrow.ExecuteSweep(ctx, e.ID); err != nil {
				o.alert.Alert("cron.execute_sweep_failed", e.ID+": "+err.Error())
			}
		}
		return nil
	}
}

func (o *Orchestrator) phaseConfirmSweeps(ctx context.Context) func() error {
	return func() error {
		escrows, err := o.store.ListEscrowsByStatus(ctx, domain.EscrowSweeping)
		if err != nil {
			return err
		}
		for _, e := range escrows {
			if err := o.escrow.ConfirmSweep(ctx, e.ID, o.cfg.Cron.SweepTimeoutTicks); err != nil {
				o.alert.Alert("cron.confirm_sweep_failed", e.ID+": "+err.Error())
			}
		}
		return nil
	}
}

// phaseHandleExpiredEscrows is phase 5: a defense-in-depth re-check of
// still-awaiting-deposit escrows whose expiry has already passed, in case
// phase 1 ran earlier in the same cycle before the deadline crossed.
func (o *Orchestrator) phaseHandleExpiredEscrows(ctx context.Context) func() error {
	return func() error {
		escrows, err := o.store.ListEscrowsByStatus(ctx, domain.EscrowAwaitingDeposit)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, e := range escrows {
			if now.Before(e.ExpiresAt) {
				continue
			}
			if err := o.escrow.CheckDeposit(ctx, e.ID); err != nil {
				o.alert.Alert("cron.handle_expired_escrow_failed", e.ID+": "+err.Error())
			}
		}
		return nil
	}
}

func (o *Orchestrator) phaseSweepTables(ctx context.Context) error {
	if _, err := o.store.SweepNonces(ctx); err != nil {
		return err
	}
	_, err := o.store.SweepIdempotencyKeys(ctx)
	return err
}

func (o *Orchestrator) phaseBackup(ctx context.Context) error {
	every := o.cfg.Cron.BackupEveryNCycles
	if every <= 0 {
		return nil
	}
	count := atomic.LoadInt64(&o.cycleCount)
	if count%int64(every) != 0 {
		return nil
	}
	dest := o.cfg.Store.Path + ".backup-" + time.Now().UTC().Format("20060102T150405Z")
	return o.store.Backup(ctx, dest)
}
