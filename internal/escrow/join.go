package escrow

import (
	"context"
	"fmt"

	"github.com/evetabi/qpredict/internal/domain"
)

// maxJoinRetries is the retry budget spec.md §4.2 gives joinBet before an
// escrow is routed to the refund path.
const maxJoinRetries = 3

// ExecuteJoin implements spec.md §4.2's joinBet execution contract:
// requires deposit_detected, a resolved on-chain bet id, and a valid
// decrypted seed. Moves to joining_sc before calling the SC so a crash
// mid-call is recoverable by ConfirmJoin's timeout path.
func (s *Service) ExecuteJoin(ctx context.Context, escrowID string, onChainBetID uint32) error {
	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return fmt.Errorf("escrow.ExecuteJoin: %w", err)
	}
	if e.Status != domain.EscrowDepositDetected {
		return nil
	}
	if onChainBetID == 0 {
		return nil
	}

	if err := s.store.BeginJoinBet(ctx, escrowID); err != nil {
		return fmt.Errorf("escrow.ExecuteJoin: begin: %w", err)
	}

	seed, err := s.decryptSeed(ctx, escrowID)
	if err != nil {
		return s.revertJoin(ctx, escrowID, fmt.Errorf("escrow.ExecuteJoin: decrypt seed: %w", err))
	}

	amount, err := e.ExpectedAmountQU.Int64()
	if err != nil {
		return s.revertJoin(ctx, escrowID, fmt.Errorf("escrow.ExecuteJoin: amount: %w", err))
	}

	result, err := s.chain.JoinBet(ctx, seed, onChainBetID, e.Slots, e.Option, amount)
	if err != nil {
		return s.revertJoin(ctx, escrowID, fmt.Errorf("escrow.ExecuteJoin: joinBet call: %w", err))
	}

	if err := s.store.RecordJoinBetBroadcast(ctx, escrowID, result.TxID, result.TargetTick); err != nil {
		return fmt.Errorf("escrow.ExecuteJoin: record broadcast: %w", err)
	}
	return nil
}

// revertJoin reverts joining_sc → deposit_detected, bumping the retry
// counter, and routes to the refund path once retries are exhausted.
func (s *Service) revertJoin(ctx context.Context, escrowID string, cause error) error {
	retries, revertErr := s.store.RevertJoinBet(ctx, escrowID)
	if revertErr != nil {
		return fmt.Errorf("%w (reverting after: %v)", revertErr, cause)
	}
	if retries >= maxJoinRetries {
		e, err := s.store.GetEscrow(ctx, escrowID)
		if err != nil {
			return fmt.Errorf("escrow.revertJoin: reload: %w", err)
		}
		if err := s.store.RouteToRefundAfterRetries(ctx, escrowID, e.ExpectedAmountQU); err != nil {
			return fmt.Errorf("escrow.revertJoin: route refund: %w", err)
		}
		s.alert.Alert("escrow.join_retries_exhausted", fmt.Sprintf("escrow %s routed to refund after %d joinBet retries: %v", escrowID, retries, cause))
	}
	return cause
}

// ConfirmJoin implements spec.md §4.2's joinBet confirmation contract:
// while joining_sc, a balance drop below half the expected amount means
// the transaction landed on-chain; otherwise a tick-count timeout reverts
// for retry.
func (s *Service) ConfirmJoin(ctx context.Context, escrowID string, joinTimeoutTicks int) error {
	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return fmt.Errorf("escrow.ConfirmJoin: %w", err)
	}
	if e.Status != domain.EscrowJoiningSC {
		return nil
	}

	balance, err := s.chain.GetBalance(ctx, e.EscrowAddress)
	if err != nil {
		return fmt.Errorf("escrow.ConfirmJoin: get balance: %w", err)
	}
	half := e.ExpectedAmountQU.DivInt64(2)
	if balance.LessThan(half) {
		if _, err := s.store.ConfirmJoinBet(ctx, escrowID); err != nil {
			return fmt.Errorf("escrow.ConfirmJoin: confirm: %w", err)
		}
		return nil
	}

	if e.JoinTick == nil {
		return nil
	}
	info, err := s.chain.GetNodeInfo(ctx)
	if err != nil {
		return fmt.Errorf("escrow.ConfirmJoin: node info: %w", err)
	}
	if int64(info.Tick)-int64(*e.JoinTick) <= int64(joinTimeoutTicks) {
		return nil
	}
	return s.revertJoin(ctx, escrowID, fmt.Errorf("escrow.ConfirmJoin: join timed out after %d ticks", joinTimeoutTicks))
}
