package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/vault"
)

// CheckDeposit implements spec.md §4.2's deposit-check contract for one
// awaiting_deposit escrow: reads the on-chain balance of the escrow
// address and either confirms the deposit, routes to a late refund, or
// expires the escrow — whichever the balance and expiry say applies.
func (s *Service) CheckDeposit(ctx context.Context, escrowID string) error {
	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return fmt.Errorf("escrow.CheckDeposit: %w", err)
	}
	if e.Status != domain.EscrowAwaitingDeposit {
		return nil
	}

	balance, err := s.chain.GetBalance(ctx, e.EscrowAddress)
	if err != nil {
		return fmt.Errorf("escrow.CheckDeposit: get balance: %w", err)
	}

	if balance.GreaterThanOrEqual(e.ExpectedAmountQU) {
		return s.confirmDeposit(ctx, e, balance)
	}

	if time.Now().UTC().Before(e.ExpiresAt) {
		return nil
	}
	return s.handleExpiry(ctx, e, balance)
}

func (s *Service) confirmDeposit(ctx context.Context, e *domain.Escrow, balance domain.QU) error {
	ok, err := s.store.ConfirmBetDeposit(ctx, e.BetID)
	if err != nil {
		return fmt.Errorf("escrow.confirmDeposit: %w", err)
	}
	now := time.Now().UTC()
	if ok {
		if err := s.store.MarkDepositDetected(ctx, e.ID, balance, now); err != nil {
			return fmt.Errorf("escrow.confirmDeposit: mark detected: %w", err)
		}
		return nil
	}

	// Slots filled while this deposit was in flight — the bet never
	// contributed to the pool, so it is simply refunded; the deposited
	// funds themselves are returned via the late-refund sweep path.
	if err := s.store.RouteToLateRefund(ctx, e.ID, balance); err != nil {
		return fmt.Errorf("escrow.confirmDeposit: route late refund: %w", err)
	}
	if err := s.store.MarkBetRefunded(ctx, e.BetID); err != nil {
		return fmt.Errorf("escrow.confirmDeposit: mark bet refunded: %w", err)
	}
	s.alert.Alert("escrow.slots_exhausted", fmt.Sprintf("escrow %s refunded: option filled before deposit confirmed", e.ID))
	return nil
}

func (s *Service) handleExpiry(ctx context.Context, e *domain.Escrow, balance domain.QU) error {
	if balance.IsZero() {
		if err := s.store.ExpireEscrow(ctx, e.ID); err != nil {
			return fmt.Errorf("escrow.handleExpiry: expire: %w", err)
		}
		if err := s.store.MarkBetRefunded(ctx, e.BetID); err != nil {
			return fmt.Errorf("escrow.handleExpiry: mark bet refunded: %w", err)
		}
		overwrite, err := vault.SecureOverwrite()
		if err != nil {
			return fmt.Errorf("escrow.handleExpiry: secure overwrite: %w", err)
		}
		return s.store.ArchiveEscrowKey(ctx, e.ID, overwrite)
	}

	if balance.GreaterThan(s.feeQU()) {
		// Late-refund path: funds arrived after expiry. The key must stay
		// active — it is still needed to sweep this balance back out.
		return s.store.RouteToLateRefund(ctx, e.ID, balance.Sub(s.feeQU()))
	}

	// Dust below the fee floor: not worth sweeping, leave awaiting_deposit
	// for a future cycle to re-evaluate once/if more arrives.
	return nil
}
