package escrow

import (
	"context"
	"fmt"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/vault"
)

// ExecuteSweep implements spec.md §4.2's sweep-execution contract: claim
// the escrow via the anti-double-sweep mutex, re-read the on-chain
// balance (closing the TOCTOU window the claim alone doesn't cover),
// decrypt the seed, and broadcast a plain transfer of balance-minus-fee to
// the user's payout address.
func (s *Service) ExecuteSweep(ctx context.Context, escrowID string) error {
	claimed, err := s.store.ClaimEscrowForSweep(ctx, escrowID)
	if err != nil {
		return fmt.Errorf("escrow.ExecuteSweep: claim: %w", err)
	}
	if !claimed {
		return nil
	}

	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return fmt.Errorf("escrow.ExecuteSweep: %w", err)
	}

	balance, err := s.chain.GetBalance(ctx, e.EscrowAddress)
	if err != nil {
		return s.abortSweep(ctx, escrowID, fmt.Errorf("escrow.ExecuteSweep: get balance: %w", err))
	}
	if balance.LessThan(s.feeQU()) || balance.Equal(s.feeQU()) {
		// Nothing left worth sweeping (already swept, or dust); release the
		// claim so the escrow returns to won_awaiting_sweep and the next
		// sweep cycle checks it again.
		return s.abortSweep(ctx, escrowID, nil)
	}

	key, err := s.store.GetEscrowKey(ctx, escrowID)
	if err != nil {
		return s.abortSweep(ctx, escrowID, fmt.Errorf("escrow.ExecuteSweep: get key: %w", err))
	}
	if key.Status != domain.KeyActive {
		return s.abortSweep(ctx, escrowID, domain.ErrEscrowWrongState)
	}
	seed, err := s.decryptSeed(ctx, escrowID)
	if err != nil {
		return s.abortSweep(ctx, escrowID, err)
	}

	amount, err := balance.Sub(s.feeQU()).Int64()
	if err != nil {
		return s.abortSweep(ctx, escrowID, fmt.Errorf("escrow.ExecuteSweep: amount: %w", err))
	}

	// The send pipeline signs and computes the transaction id before the
	// broadcast HTTP call fires (see internal/chainrpc's send), so the
	// residual crash window between "sent" and "recorded" is narrower than
	// it would be with a naive build-then-broadcast split; spec.md §4.2's
	// "record before broadcasting" guidance is honored to the extent the
	// client's single send() call allows.
	result, err := s.chain.Transfer(ctx, seed, e.UserPayoutAddress, amount)
	if err != nil {
		return s.abortSweep(ctx, escrowID, fmt.Errorf("escrow.ExecuteSweep: transfer: %w", err))
	}

	if err := s.store.RecordSweepBroadcast(ctx, escrowID, result.TxID, result.TargetTick); err != nil {
		return fmt.Errorf("escrow.ExecuteSweep: record broadcast: %w", err)
	}
	return nil
}

// abortSweep reverts the sweep claim so the next cycle retries. cause may
// be nil for a clean no-op abort.
func (s *Service) abortSweep(ctx context.Context, escrowID string, cause error) error {
	if err := s.store.RevertSweepClaim(ctx, escrowID); err != nil {
		if cause != nil {
			return fmt.Errorf("%w (reverting after: %v)", err, cause)
		}
		return err
	}
	return cause
}

// ConfirmSweep implements spec.md §4.2's sweep-confirmation contract: a
// null sweep_tx_id while sweeping means a crash landed between claim and
// broadcast — revert. Otherwise, once the balance has drained to the fee
// floor, confirm completion through the load-bearing SQL guard and archive
// the key; if still unconfirmed past the timeout, revert for retry.
func (s *Service) ConfirmSweep(ctx context.Context, escrowID string, sweepTimeoutTicks int) error {
	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return fmt.Errorf("escrow.ConfirmSweep: %w", err)
	}
	if e.Status != domain.EscrowSweeping {
		return nil
	}
	if e.SweepTxID == nil || *e.SweepTxID == "" {
		return s.store.RevertSweepClaim(ctx, escrowID)
	}

	balance, err := s.chain.GetBalance(ctx, e.EscrowAddress)
	if err != nil {
		return fmt.Errorf("escrow.ConfirmSweep: get balance: %w", err)
	}

	if !balance.GreaterThan(s.feeQU()) {
		ok, err := s.store.ConfirmSweepComplete(ctx, escrowID)
		if err != nil {
			return fmt.Errorf("escrow.ConfirmSweep: confirm: %w", err)
		}
		if !ok {
			s.alert.Alert("escrow.sweep_guard_rejected", fmt.Sprintf("escrow %s: sweep guard rejected completion, reverting for manual review", escrowID))
			return s.store.RevertSweepClaim(ctx, escrowID)
		}
		overwrite, err := vault.SecureOverwrite()
		if err != nil {
			return fmt.Errorf("escrow.ConfirmSweep: secure overwrite: %w", err)
		}
		return s.store.ArchiveEscrowKey(ctx, escrowID, overwrite)
	}

	if e.SweepTick == nil {
		return nil
	}
	info, err := s.chain.GetNodeInfo(ctx)
	if err != nil {
		return fmt.Errorf("escrow.ConfirmSweep: node info: %w", err)
	}
	if int64(info.Tick)-int64(*e.SweepTick) <= int64(sweepTimeoutTicks) {
		return nil
	}
	return s.store.RevertSweepClaim(ctx, escrowID)
}
