package escrow

import (
	"context"
	"fmt"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/vault"
)

// Cancel implements spec.md §4.2's pre-deposit cancel contract: requires
// awaiting_deposit and an on-chain balance of exactly zero. One
// transaction flips the escrow to expired, the bet to refunded, and the
// key to archived.
func (s *Service) Cancel(ctx context.Context, escrowID string) error {
	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return fmt.Errorf("escrow.Cancel: %w", err)
	}
	if e.Status != domain.EscrowAwaitingDeposit {
		return domain.ErrEscrowWrongState
	}

	balance, err := s.chain.GetBalance(ctx, e.EscrowAddress)
	if err != nil {
		return fmt.Errorf("escrow.Cancel: get balance: %w", err)
	}
	if !balance.IsZero() {
		return fmt.Errorf("escrow.Cancel: escrow %s has a nonzero on-chain balance, cannot cancel", escrowID)
	}

	overwrite, err := vault.SecureOverwrite()
	if err != nil {
		return fmt.Errorf("escrow.Cancel: secure overwrite: %w", err)
	}
	if err := s.store.CancelPreDeposit(ctx, e, overwrite); err != nil {
		return fmt.Errorf("escrow.Cancel: %w", err)
	}
	return nil
}
