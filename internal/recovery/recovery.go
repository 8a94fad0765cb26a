// Package recovery implements the reconciliation sweep described in
// spec.md §4.9: stuck-market handling, orphan-escrow recovery, and
// slot/commitment repair. Every check here is a backstop for a transition
// that should already have happened through the normal market/escrow
// services — this package exists for the cases where a crash, a stalled
// chain call, or a race left a row sitting in an intermediate state longer
// than it ever should.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/market"
	"github.com/evetabi/qpredict/internal/provably"
	"github.com/evetabi/qpredict/internal/store"
)

// Thresholds from spec.md §4.9. These are fixed operational constants, not
// environment-tunable, unlike the tick-based timeouts in config.CronConfig.
const (
	pendingTxStuckAfter      = 30 * time.Minute
	resolvingStuckAfter      = time.Hour
	betIDDiscoveryStuckAfter = time.Hour

	joinIdleAfter     = 30 * time.Minute
	sweepOrphanAfter  = 15 * time.Minute
	wonSweepWarnAfter = 2 * time.Hour
)

// ChainClient is the subset of *chainrpc.Client recovery needs directly
// (beyond what it drives through market.Service).
type ChainClient interface {
	GetBalance(ctx context.Context, identity string) (domain.QU, error)
	DiscoverBetID(ctx context.Context, description string) (uint32, bool, error)
}

// AlertSink delivers a best-effort operational alert.
type AlertSink interface {
	Alert(event, message string)
}

type noopAlerts struct{}

func (noopAlerts) Alert(string, string) {}

// Service drives every recovery pass. It holds the store directly (for the
// plain atomic claim primitives stuck-escrow recovery needs) plus
// market.Service for the heavier cancel/discovery operations that already
// carry their own chain-event and refund logic.
type Service struct {
	store  *store.Store
	chain  ChainClient
	market *market.Service
	alert  AlertSink
}

// New builds a recovery Service. alerts may be nil.
func New(st *store.Store, chain ChainClient, mkt *market.Service, alerts AlertSink) *Service {
	if alerts == nil {
		alerts = noopAlerts{}
	}
	return &Service{store: st, chain: chain, market: mkt, alert: alerts}
}

// ──────────────────────────────────────────────────────────────────────────────
// Slot/commitment repair (phase 0)
// ──────────────────────────────────────────────────────────────────────────────

// RepairAggregates recomputes (pool, slot_map) from funded bet rows for
// every non-terminal market and corrects the stored aggregates and
// commitment hash in place if they disagree, per spec.md §4.9.
func (s *Service) RepairAggregates(ctx context.Context) error {
	markets, err := s.store.ListMarketsByStatus(ctx,
		domain.MarketDraft, domain.MarketPendingTx, domain.MarketActive, domain.MarketClosed, domain.MarketResolving)
	if err != nil {
		return fmt.Errorf("recovery.RepairAggregates: %w", err)
	}
	for _, m := range markets {
		if err := s.repairOne(ctx, m); err != nil {
			s.alert.Alert("recovery.repair_failed", fmt.Sprintf("market %s: %v", m.ID, err))
		}
	}
	return nil
}

func (s *Service) repairOne(ctx context.Context, m *domain.Market) error {
	bets, err := s.store.ListBetsForMarket(ctx, m.ID, domain.BetPending, domain.BetConfirmed)
	if err != nil {
		return fmt.Errorf("list bets: %w", err)
	}

	recomputedPool := domain.ZeroQU()
	recomputedSlots := make([]int, len(m.Options))
	for _, b := range bets {
		recomputedPool = recomputedPool.Add(b.AmountQU)
		if b.Option >= 0 && b.Option < len(recomputedSlots) {
			recomputedSlots[b.Option] += b.Slots
		}
	}

	recomputedCommitment, err := provably.MarketCommitment(provably.MarketCommitmentInput{
		Pair:           m.Pair,
		Question:       m.Question,
		ResolutionType: string(m.ResolutionType),
		Target:         m.Target,
		TargetHigh:     m.TargetHigh,
		Close:          m.CloseAt.UTC().Format(time.RFC3339),
		End:            m.EndAt.UTC().Format(time.RFC3339),
		MinBet:         m.MinBetQU.String(),
		MaxSlots:       m.MaxSlots,
		Creator:        m.CreatorAddress,
	})
	if err != nil {
		return fmt.Errorf("recompute commitment: %w", err)
	}

	if recomputedPool.Equal(m.TotalPoolQU) && slotsEqual(recomputedSlots, m.SlotMap) && recomputedCommitment == m.CommitmentHash {
		return nil
	}
	return s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.store.RepairAggregatesTx(ctx, tx, m, recomputedPool, recomputedSlots, recomputedCommitment)
	})
}

func slotsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ──────────────────────────────────────────────────────────────────────────────
// Stuck-market handler (phase 0d)
// ──────────────────────────────────────────────────────────────────────────────

// HandleStuckMarkets implements spec.md §4.9's stuck-market recovery.
func (s *Service) HandleStuckMarkets(ctx context.Context) error {
	now := time.Now().UTC()

	pending, err := s.store.ListMarketsByStatus(ctx, domain.MarketPendingTx)
	if err != nil {
		return fmt.Errorf("recovery.HandleStuckMarkets: list pending_tx: %w", err)
	}
	for _, m := range pending {
		if now.Sub(m.UpdatedAt) < pendingTxStuckAfter {
			continue
		}
		if err := s.market.Cancel(ctx, m.ID); err != nil {
			s.alert.Alert("recovery.stuck_pending_tx_cancel_failed", fmt.Sprintf("market %s: %v", m.ID, err))
		}
	}

	resolving, err := s.store.ListMarketsByStatus(ctx, domain.MarketResolving)
	if err != nil {
		return fmt.Errorf("recovery.HandleStuckMarkets: list resolving: %w", err)
	}
	for _, m := range resolving {
		if now.Sub(m.EndAt) < resolvingStuckAfter {
			continue
		}
		if err := s.store.RevertResolutionClaim(ctx, m.ID); err != nil {
			s.alert.Alert("recovery.stuck_resolving_revert_failed", fmt.Sprintf("market %s: %v", m.ID, err))
		}
	}

	active, err := s.store.ListMarketsByStatus(ctx, domain.MarketActive)
	if err != nil {
		return fmt.Errorf("recovery.HandleStuckMarkets: list active: %w", err)
	}
	for _, m := range active {
		if m.OnChainBetID != nil && *m.OnChainBetID != 0 {
			continue
		}
		if now.Sub(m.UpdatedAt) < betIDDiscoveryStuckAfter {
			continue
		}
		s.retryOrCancel(ctx, m)
	}

	open, err := s.store.ListMarketsByStatus(ctx, domain.MarketActive, domain.MarketClosed)
	if err != nil {
		return fmt.Errorf("recovery.HandleStuckMarkets: list active/closed: %w", err)
	}
	for _, m := range open {
		if m.MarketType != domain.MarketTypeCustom || m.AutoRefundAt == nil || now.Before(*m.AutoRefundAt) {
			continue
		}
		if err := s.market.Cancel(ctx, m.ID); err != nil {
			s.alert.Alert("recovery.auto_refund_cancel_failed", fmt.Sprintf("market %s: %v", m.ID, err))
		}
	}
	return nil
}

func (s *Service) retryOrCancel(ctx context.Context, m *domain.Market) {
	betID, found, err := s.chain.DiscoverBetID(ctx, m.ID)
	if err != nil {
		s.alert.Alert("recovery.betid_discovery_failed", fmt.Sprintf("market %s: %v", m.ID, err))
		return
	}
	if found && betID != 0 {
		if err := s.store.SetOnChainBetID(ctx, m.ID, betID); err != nil {
			s.alert.Alert("recovery.betid_set_failed", fmt.Sprintf("market %s: %v", m.ID, err))
		}
		return
	}
	if err := s.market.Cancel(ctx, m.ID); err != nil {
		s.alert.Alert("recovery.stuck_betid_cancel_failed", fmt.Sprintf("market %s: %v", m.ID, err))
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Orphan escrow recovery (phase 6.5)
// ──────────────────────────────────────────────────────────────────────────────

// RecoverOrphanEscrows implements spec.md §4.9's orphan-escrow recovery.
func (s *Service) RecoverOrphanEscrows(ctx context.Context) error {
	now := time.Now().UTC()

	joining, err := s.store.ListEscrowsByStatus(ctx, domain.EscrowJoiningSC)
	if err != nil {
		return fmt.Errorf("recovery.RecoverOrphanEscrows: list joining_sc: %w", err)
	}
	for _, e := range joining {
		if now.Sub(e.UpdatedAt) < joinIdleAfter {
			continue
		}
		balance, err := s.chain.GetBalance(ctx, e.EscrowAddress)
		if err != nil {
			s.alert.Alert("recovery.orphan_join_balance_failed", fmt.Sprintf("escrow %s: %v", e.ID, err))
			continue
		}
		if balance.IsZero() {
			if _, err := s.store.ConfirmJoinBet(ctx, e.ID); err != nil {
				s.alert.Alert("recovery.orphan_join_promote_failed", fmt.Sprintf("escrow %s: %v", e.ID, err))
			}
			continue
		}
		if _, err := s.store.RevertJoinBet(ctx, e.ID); err != nil {
			s.alert.Alert("recovery.orphan_join_revert_failed", fmt.Sprintf("escrow %s: %v", e.ID, err))
		}
	}

	sweeping, err := s.store.ListEscrowsByStatus(ctx, domain.EscrowSweeping)
	if err != nil {
		return fmt.Errorf("recovery.RecoverOrphanEscrows: list sweeping: %w", err)
	}
	for _, e := range sweeping {
		if e.SweepTxID != nil && *e.SweepTxID != "" {
			continue
		}
		if now.Sub(e.UpdatedAt) < sweepOrphanAfter {
			continue
		}
		if err := s.store.RevertSweepClaim(ctx, e.ID); err != nil {
			s.alert.Alert("recovery.orphan_sweep_revert_failed", fmt.Sprintf("escrow %s: %v", e.ID, err))
		}
	}

	wonAwaiting, err := s.store.ListEscrowsByStatus(ctx, domain.EscrowWonAwaitingSweep)
	if err != nil {
		return fmt.Errorf("recovery.RecoverOrphanEscrows: list won_awaiting_sweep: %w", err)
	}
	for _, e := range wonAwaiting {
		if now.Sub(e.UpdatedAt) < wonSweepWarnAfter {
			continue
		}
		s.alert.Alert("recovery.won_awaiting_sweep_stale", fmt.Sprintf("escrow %s idle %s in won_awaiting_sweep", e.ID, now.Sub(e.UpdatedAt)))
	}
	return nil
}
