package market

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evetabi/qpredict/internal/domain"
)

// Cancel implements spec.md §4.3's cancellation path: best-effort cancelBet
// on the chain, then a full refund of every bet that reached the pool.
// pending_deposit bets never contributed, so they're marked refunded
// outright with no pool rollback; pending/confirmed bets are refunded to
// the user's internal custody account and their escrow routed into the
// sweep path so any already-deposited funds still come home.
func (s *Service) Cancel(ctx context.Context, marketID string) error {
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("market.Cancel: %w", err)
	}
	if m.IsTerminal() {
		return domain.ErrMarketAlreadyResolved
	}

	if m.OnChainBetID != nil && *m.OnChainBetID != 0 {
		if _, err := s.chain.CancelBet(ctx, s.cfg.Platform.Seed, *m.OnChainBetID); err != nil {
			s.alert.Alert("market.cancel_bet_failed", fmt.Sprintf("market %s: %v", marketID, err))
		}
	}

	bets, err := s.store.ListBetsForMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("market.Cancel: list bets: %w", err)
	}

	now := time.Now().UTC()
	err = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, b := range bets {
			if b.IsSettled() || b.Status == domain.BetRefunded {
				continue
			}

			if b.Status == domain.BetPendingDeposit {
				if err := s.store.MarkBetRefundedTx(ctx, tx, b.ID); err != nil {
					return fmt.Errorf("refund unfunded bet %s: %w", b.ID, err)
				}
				continue
			}

			// pending / confirmed: funds already left the user's escrow and
			// joined the pool, so the refund goes through the custody
			// ledger — total_withdrawn_qu is the closest existing account
			// column to "refunded", there being no dedicated one.
			if err := s.store.CreditAccountTx(ctx, tx, b.UserPayoutAddress, b.AmountQU, "total_withdrawn_qu", domain.TxRefund, &marketID); err != nil {
				return fmt.Errorf("credit refund for bet %s: %w", b.ID, err)
			}
			if err := s.store.MarkBetRefundedTx(ctx, tx, b.ID); err != nil {
				return fmt.Errorf("mark bet %s refunded: %w", b.ID, err)
			}
			if err := s.refundEscrowTx(ctx, tx, b, now); err != nil {
				return fmt.Errorf("route escrow refund for bet %s: %w", b.ID, err)
			}
		}

		// CreditAccountTx above already wrote one refund ledger row per
		// funded bet; that is the cancellation audit trail the resolution
		// path's chain entries cover for a normal settlement.
		return s.store.CancelMarketTx(ctx, tx, marketID)
	})
	if err != nil {
		return fmt.Errorf("market.Cancel: %w", err)
	}
	return nil
}

// refundEscrowTx routes a cancelled bet's escrow into the same sweep path
// used for a winning bet: whatever is already sitting in the escrow
// (deposited, possibly pooled) comes home to the platform rather than
// being abandoned on-chain, since the user was already made whole through
// the custody credit above.
func (s *Service) refundEscrowTx(ctx context.Context, tx *sqlx.Tx, b *domain.Bet, at time.Time) error {
	e, err := s.store.GetEscrowByBetIDTx(ctx, tx, b.ID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}
	switch e.Status {
	case domain.EscrowJoiningSC, domain.EscrowActiveInSC:
		return s.store.TransitionToWonAwaitingSweepTx(ctx, tx, e.ID, e.ExpectedAmountQU, at)
	default:
		return nil
	}
}
