package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evetabi/qpredict/internal/domain"
)

// CreateBet inserts a bet row with the status the caller set, without touching the
// market's pool/slot aggregates — the ghost-bet prevention rule from
// spec.md §3 means that update only happens in ConfirmBetDeposit.
func (s *Store) CreateBet(ctx context.Context, b *domain.Bet) error {
	query := `
		INSERT INTO bets
			(id, market_id, user_payout_address, option, slots, amount_qu, onchain_tx,
			 status, payout_qu, commitment_hash, commitment_nonce, user_signature,
			 created_at, resolved_at)
		VALUES
			(:id, :market_id, :user_payout_address, :option, :slots, :amount_qu, :onchain_tx,
			 :status, :payout_qu, :commitment_hash, :commitment_nonce, :user_signature,
			 :created_at, :resolved_at)`
	if _, err := s.db.NamedExecContext(ctx, query, b); err != nil {
		return fmt.Errorf("bet_store.CreateBet: %w", err)
	}
	return nil
}

// GetBet fetches a bet by id.
func (s *Store) GetBet(ctx context.Context, id string) (*domain.Bet, error) {
	var b domain.Bet
	err := s.db.GetContext(ctx, &b, `SELECT * FROM bets WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBetNotFound
		}
		return nil, fmt.Errorf("bet_store.GetBet: %w", err)
	}
	return &b, nil
}

// ListBetsForMarket returns every bet on a market, optionally filtered by
// status (pass none for all).
func (s *Store) ListBetsForMarket(ctx context.Context, marketID string, statuses ...domain.BetStatus) ([]*domain.Bet, error) {
	var bets []*domain.Bet
	if len(statuses) == 0 {
		err := s.db.SelectContext(ctx, &bets, `SELECT * FROM bets WHERE market_id = ?`, marketID)
		if err != nil {
			return nil, fmt.Errorf("bet_store.ListBetsForMarket: %w", err)
		}
		return bets, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM bets WHERE market_id = ? AND status IN (?)`, marketID, statuses)
	if err != nil {
		return nil, fmt.Errorf("bet_store.ListBetsForMarket: build query: %w", err)
	}
	query = s.db.Rebind(query)
	if err := s.db.SelectContext(ctx, &bets, query, args...); err != nil {
		return nil, fmt.Errorf("bet_store.ListBetsForMarket: %w", err)
	}
	return bets, nil
}

// ConfirmBetDeposit implements spec.md §4.1's deposit-gated bet
// confirmation: in one transaction, recheck that adding this bet's slots
// does not exceed max_slots for its option, and only then transition
// pending_deposit → pending, increment total_pool, and update the slot
// map. Returns false on slot exhaustion so the caller can refund instead.
func (s *Store) ConfirmBetDeposit(ctx context.Context, betID string) (bool, error) {
	var ok bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var b domain.Bet
		if err := tx.GetContext(ctx, &b, `SELECT * FROM bets WHERE id = ?`, betID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrBetNotFound
			}
			return fmt.Errorf("select bet: %w", err)
		}
		if b.Status != domain.BetPendingDeposit {
			ok = false
			return nil
		}

		var m domain.Market
		if err := tx.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = ?`, b.MarketID); err != nil {
			return fmt.Errorf("select market: %w", err)
		}
		var slotMap []int
		if err := json.Unmarshal([]byte(m.SlotMapRaw), &slotMap); err != nil {
			return fmt.Errorf("unmarshal slot_map: %w", err)
		}
		if b.Option < 0 || b.Option >= len(slotMap) {
			return fmt.Errorf("bet option %d out of range for market %s", b.Option, m.ID)
		}
		if slotMap[b.Option]+b.Slots > m.MaxSlots {
			ok = false
			return nil
		}

		slotMap[b.Option] += b.Slots
		slotsRaw, err := json.Marshal(slotMap)
		if err != nil {
			return fmt.Errorf("marshal slot_map: %w", err)
		}

		now := time.Now().UTC()
		newPool := m.TotalPoolQU.Add(b.AmountQU)
		if _, err := tx.ExecContext(ctx,
			`UPDATE markets SET total_pool_qu = ?, slot_map_json = ?, updated_at = ? WHERE id = ?`,
			newPool, string(slotsRaw), now, m.ID); err != nil {
			return fmt.Errorf("update market: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bets SET status = ? WHERE id = ? AND status = ?`,
			domain.BetPending, betID, domain.BetPendingDeposit); err != nil {
			return fmt.Errorf("update bet: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// MarkBetRefunded transitions a bet to refunded (no pool rollback if it
// never contributed, per spec.md §3/§4.3).
func (s *Store) MarkBetRefunded(ctx context.Context, betID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.MarkBetRefundedTx(ctx, tx, betID)
	})
}

// MarkBetRefundedTx is MarkBetRefunded scoped to an already-open
// transaction, for market cancellation's bulk refund fan-out.
func (s *Store) MarkBetRefundedTx(ctx context.Context, tx *sqlx.Tx, betID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE bets SET status = ?, resolved_at = ? WHERE id = ?`,
		domain.BetRefunded, time.Now().UTC(), betID)
	if err != nil {
		return fmt.Errorf("bet_store.MarkBetRefundedTx: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrBetNotFound
	}
	return nil
}

// SettleBetWonTx and SettleBetLostTx mark one bet won (with payout) or
// lost, inside the caller's resolution transaction.
func (s *Store) SettleBetWonTx(ctx context.Context, tx *sqlx.Tx, betID string, payout domain.QU, resolvedAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE bets SET status = ?, payout_qu = ?, resolved_at = ? WHERE id = ?`,
		domain.BetWon, payout, resolvedAt, betID)
	if err != nil {
		return fmt.Errorf("bet_store.SettleBetWonTx: %w", err)
	}
	return nil
}

func (s *Store) SettleBetLostTx(ctx context.Context, tx *sqlx.Tx, betID string, resolvedAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE bets SET status = ?, resolved_at = ? WHERE id = ?`,
		domain.BetLost, resolvedAt, betID)
	if err != nil {
		return fmt.Errorf("bet_store.SettleBetLostTx: %w", err)
	}
	return nil
}
