package market

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/oracle"
	"github.com/evetabi/qpredict/internal/vault"
)

const maxAIAttempts = 3

// ResolveDue implements spec.md §4.3's resolution driver (cron phase 0b):
// every active/closed market whose end_at has passed is offered to its
// matching oracle adapter. A deferred verdict (adapter returns nil) is not
// an error; an AI market bumps its attempt counter and gives up (alerting)
// once it hits maxAIAttempts. A single failing market never aborts the
// others.
func (s *Service) ResolveDue(ctx context.Context) error {
	markets, err := s.store.ListMarketsByStatus(ctx, domain.MarketActive, domain.MarketClosed)
	if err != nil {
		return fmt.Errorf("market.ResolveDue: list: %w", err)
	}

	now := time.Now().UTC()
	for _, m := range markets {
		if m.EndAt.After(now) {
			continue
		}
		if err := s.resolveOne(ctx, m); err != nil {
			s.alert.Alert("market.resolve_failed", fmt.Sprintf("market %s: %v", m.ID, err))
		}
	}
	return nil
}

func (s *Service) resolveOne(ctx context.Context, m *domain.Market) error {
	adapter, ok := s.oracles.For(m.MarketType)
	if !ok {
		return fmt.Errorf("no oracle adapter registered for market type %q", m.MarketType)
	}
	if m.MarketType == domain.MarketTypeAI && m.AIAttemptCount >= maxAIAttempts {
		return nil // attempts exhausted: the adapter is not asked again
	}
	canResolve, err := adapter.CanResolve(ctx, m)
	if err != nil {
		return fmt.Errorf("can_resolve: %w", err)
	}
	if !canResolve {
		return nil
	}

	result, err := adapter.FetchResult(ctx, m)
	if err != nil {
		return fmt.Errorf("fetch_result: %w", err)
	}
	if result == nil {
		if m.MarketType == domain.MarketTypeAI {
			n, bumpErr := s.store.BumpAIAttempt(ctx, m.ID)
			if bumpErr != nil {
				return fmt.Errorf("bump ai attempt: %w", bumpErr)
			}
			if n >= maxAIAttempts {
				s.alert.Alert("market.ai_resolution_exhausted", fmt.Sprintf("market %s: giving up after %d attempts", m.ID, n))
			}
		}
		return nil // deferred, not an error
	}

	return s.Resolve(ctx, m.ID, result)
}

// currentPriceFromProof extracts the median price oracle.CryptoAdapter
// reports in its proof data, for storage on the market row — the only
// adapter whose proof carries a price; sports/ai/custom leave it unset.
func currentPriceFromProof(proof oracle.Proof) *float64 {
	data, ok := proof.Data.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := data["median"].(string)
	if !ok {
		return nil
	}
	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err != nil {
		return nil
	}
	return &f
}

// Resolve implements spec.md §4.3's 7-step resolution transaction for one
// market, given the winning option and proof an oracle adapter already
// produced.
func (s *Service) Resolve(ctx context.Context, marketID string, result *oracle.Result) error {
	// Step 1: claim.
	claimed, err := s.store.TryClaimMarketForResolution(ctx, marketID)
	if err != nil {
		return fmt.Errorf("market.Resolve: claim: %w", err)
	}
	if !claimed {
		return nil
	}

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("market.Resolve: %w", err)
	}

	// Step 2: publish. Logged, not fatal — the SC is idempotent on the
	// winning option.
	if m.OnChainBetID != nil && *m.OnChainBetID != 0 {
		if _, err := s.chain.PublishResult(ctx, s.cfg.Platform.Seed, *m.OnChainBetID, result.WinningOption); err != nil {
			s.alert.Alert("market.publish_result_failed", fmt.Sprintf("market %s: %v", marketID, err))
		}
	}

	// Step 3: recompute truth from bet rows; the stored aggregates are cache.
	bets, err := s.store.ListBetsForMarket(ctx, marketID, domain.BetPending, domain.BetConfirmed)
	if err != nil {
		return fmt.Errorf("market.Resolve: list bets: %w", err)
	}
	recomputedPool := domain.ZeroQU()
	recomputedSlots := make([]int, len(m.Options))
	for _, b := range bets {
		recomputedPool = recomputedPool.Add(b.AmountQU)
		if b.Option >= 0 && b.Option < len(recomputedSlots) {
			recomputedSlots[b.Option] += b.Slots
		}
	}
	totalSlots := 0
	for _, n := range recomputedSlots {
		totalSlots += n
	}

	// Step 4: payout formula.
	payout := domain.ComputePayout(recomputedPool, totalSlots, recomputedSlots[result.WinningOption], m.OracleFeeBps)

	// Step 5: solvency guard, computed against the actual per-bet payouts
	// before anything is written.
	totalPayouts := domain.ZeroQU()
	for _, b := range bets {
		if b.Option == result.WinningOption {
			totalPayouts = totalPayouts.Add(payout.PerSlot.MulInt64(int64(b.Slots)))
		}
	}
	if totalPayouts.GreaterThan(recomputedPool) {
		if _, chainErr := s.store.AppendChainEntry(ctx, domain.EventSolvencyViolation, marketID, map[string]any{
			"market_id":      marketID,
			"recomputed_pool": recomputedPool.String(),
			"total_payouts":  totalPayouts.String(),
		}); chainErr != nil {
			s.alert.Alert("market.solvency_violation_chain_append_failed", fmt.Sprintf("market %s: %v", marketID, chainErr))
		}
		s.alert.Alert("market.solvency_violation", fmt.Sprintf("market %s: payouts %s exceed pool %s, frozen for review", marketID, totalPayouts.String(), recomputedPool.String()))
		return domain.ErrSolvencyViolation
	}

	resolutionPrice := 0.0
	if p := currentPriceFromProof(result.Proof); p != nil {
		resolutionPrice = *p
	}
	now := time.Now().UTC()

	return s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, b := range bets {
			if b.Option == result.WinningOption {
				betPayout := payout.PerSlot.MulInt64(int64(b.Slots))
				if err := s.store.SettleBetWonTx(ctx, tx, b.ID, betPayout, now); err != nil {
					return fmt.Errorf("settle won bet %s: %w", b.ID, err)
				}
				if err := s.store.CreditAccountTx(ctx, tx, b.UserPayoutAddress, betPayout, "total_won_qu", domain.TxPayout, &marketID); err != nil {
					return fmt.Errorf("credit account for bet %s: %w", b.ID, err)
				}
				if _, err := s.store.AppendChainEntryTx(ctx, tx, domain.EventPayout, b.ID, map[string]any{
					"bet_id": b.ID, "address": b.UserPayoutAddress, "amount_qu": betPayout.String(),
				}); err != nil {
					return fmt.Errorf("append payout entry for bet %s: %w", b.ID, err)
				}
			} else {
				if err := s.store.SettleBetLostTx(ctx, tx, b.ID, now); err != nil {
					return fmt.Errorf("settle lost bet %s: %w", b.ID, err)
				}
			}

			if err := s.fanOutEscrowTx(ctx, tx, b, result.WinningOption, now); err != nil {
				return fmt.Errorf("escrow fan-out for bet %s: %w", b.ID, err)
			}
		}

		if err := s.store.FinalizeResolutionTx(ctx, tx, marketID, resolutionPrice, result.WinningOption, recomputedPool, recomputedSlots); err != nil {
			return fmt.Errorf("finalize market: %w", err)
		}

		if _, err := s.store.AppendChainEntryTx(ctx, tx, domain.EventMarketResolve, marketID, map[string]any{
			"market_id":        marketID,
			"winning_option":   result.WinningOption,
			"resolution_price": resolutionPrice,
			"payout":           payout,
		}); err != nil {
			return fmt.Errorf("append market_resolve entry: %w", err)
		}
		return nil
	})
}

// fanOutEscrowTx implements step 6: an escrow still active_in_sc moves to
// won_awaiting_sweep (winner) or lost with its key archived (loser); an
// escrow still stuck in joining_sc never reached the SC pool and is
// refunded its stake outright, regardless of the bet's outcome.
func (s *Service) fanOutEscrowTx(ctx context.Context, tx *sqlx.Tx, b *domain.Bet, winningOption int, at time.Time) error {
	e, err := s.store.GetEscrowByBetIDTx(ctx, tx, b.ID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil // bet placed without an escrow (e.g. direct deposit flow), nothing to fan out
		}
		return err
	}

	switch e.Status {
	case domain.EscrowJoiningSC:
		return s.store.TransitionToWonAwaitingSweepTx(ctx, tx, e.ID, e.ExpectedAmountQU, at)
	case domain.EscrowActiveInSC:
		if b.Option == winningOption {
			payout := b.PayoutQU
			amount := e.ExpectedAmountQU
			if payout != nil {
				amount = *payout
			}
			return s.store.TransitionToWonAwaitingSweepTx(ctx, tx, e.ID, amount, at)
		}
		if err := s.store.TransitionToLostTx(ctx, tx, e.ID, at); err != nil {
			return err
		}
		var keyStatus domain.KeyStatus
		if err := tx.GetContext(ctx, &keyStatus, `SELECT status FROM escrow_keys WHERE escrow_id = ?`, e.ID); err != nil {
			return fmt.Errorf("read escrow key status: %w", err)
		}
		if keyStatus != domain.KeyActive {
			return nil
		}
		overwrite, err := vault.SecureOverwrite()
		if err != nil {
			return fmt.Errorf("secure overwrite: %w", err)
		}
		return s.store.ArchiveEscrowKeyTx(ctx, tx, e.ID, overwrite)
	default:
		return nil
	}
}
