package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/vault"
)

// ReconcilePostResolution implements spec.md §4.4 phase 3: an escrow can
// still be sitting in active_in_sc after its market resolves if the
// resolution transaction's own fan-out (internal/market.Resolve) raced
// past it — most plausibly an escrow that only reached active_in_sc in the
// narrow window between the market's resolution claim and the settlement
// transaction's commit. This phase is the backstop that catches it on the
// next cycle rather than leaving it stranded in active_in_sc forever.
func (s *Service) ReconcilePostResolution(ctx context.Context, escrowID string) error {
	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return fmt.Errorf("escrow.ReconcilePostResolution: %w", err)
	}
	if e.Status != domain.EscrowActiveInSC {
		return nil
	}

	m, err := s.store.GetMarket(ctx, e.MarketID)
	if err != nil {
		return fmt.Errorf("escrow.ReconcilePostResolution: %w", err)
	}
	if m.Status != domain.MarketResolved {
		return nil
	}

	b, err := s.store.GetBet(ctx, e.BetID)
	if err != nil {
		return fmt.Errorf("escrow.ReconcilePostResolution: %w", err)
	}

	now := time.Now().UTC()
	if b.Status == domain.BetWon {
		// The escrow only moves to won_awaiting_sweep once its on-chain
		// balance is actually observed positive — per spec.md §4.2's
		// transition guard — so a won bet whose escrow address hasn't
		// settled on-chain yet is left in active_in_sc for a later cycle.
		balance, err := s.chain.GetBalance(ctx, e.EscrowAddress)
		if err != nil {
			return fmt.Errorf("escrow.ReconcilePostResolution: get balance: %w", err)
		}
		if !balance.GreaterThan(domain.ZeroQU()) {
			return nil
		}
		payout := e.ExpectedAmountQU
		if b.PayoutQU != nil {
			payout = *b.PayoutQU
		}
		return s.store.TransitionToWonAwaitingSweep(ctx, e.ID, payout, now)
	}

	if err := s.store.TransitionToLost(ctx, e.ID, now); err != nil {
		return err
	}
	key, err := s.store.GetEscrowKey(ctx, e.ID)
	if err != nil {
		return err
	}
	if key.Status != domain.KeyActive {
		return nil
	}
	overwrite, err := vault.SecureOverwrite()
	if err != nil {
		return fmt.Errorf("escrow.ReconcilePostResolution: secure overwrite: %w", err)
	}
	return s.store.ArchiveEscrowKey(ctx, e.ID, overwrite)
}
