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

// marshalMarketJSON fills the *_json shadow columns from their typed slice
// fields, so a single NamedExecContext can bind the whole row.
func marshalMarketJSON(m *domain.Market) error {
	optsRaw, err := json.Marshal(m.Options)
	if err != nil {
		return fmt.Errorf("market: marshal options: %w", err)
	}
	slotsRaw, err := json.Marshal(m.SlotMap)
	if err != nil {
		return fmt.Errorf("market: marshal slot_map: %w", err)
	}
	oraclesRaw, err := json.Marshal(m.OracleAddresses)
	if err != nil {
		return fmt.Errorf("market: marshal oracle_addresses: %w", err)
	}
	m.OptionsRaw = string(optsRaw)
	m.SlotMapRaw = string(slotsRaw)
	m.OracleAddressesRaw = string(oraclesRaw)
	return nil
}

func unmarshalMarketJSON(m *domain.Market) error {
	if err := json.Unmarshal([]byte(m.OptionsRaw), &m.Options); err != nil {
		return fmt.Errorf("market: unmarshal options: %w", err)
	}
	if err := json.Unmarshal([]byte(m.SlotMapRaw), &m.SlotMap); err != nil {
		return fmt.Errorf("market: unmarshal slot_map: %w", err)
	}
	if m.OracleAddressesRaw != "" {
		if err := json.Unmarshal([]byte(m.OracleAddressesRaw), &m.OracleAddresses); err != nil {
			return fmt.Errorf("market: unmarshal oracle_addresses: %w", err)
		}
	}
	return nil
}

// CreateMarket inserts a new market row with the status the caller set.
func (s *Store) CreateMarket(ctx context.Context, m *domain.Market) error {
	if err := marshalMarketJSON(m); err != nil {
		return err
	}
	query := `
		INSERT INTO markets
			(id, onchain_bet_id, pair, question, resolution_type, target, target_high,
			 market_type, options_json, close_at, end_at, min_bet_qu, max_slots,
			 total_pool_qu, slot_map_json, status, resolution_price, winning_option,
			 creator_address, creation_tx, commitment_hash, oracle_addresses_json,
			 oracle_fee_bps, auto_refund_at, category, ai_attempt_count,
			 ai_resolution_proof, provenance, created_at, updated_at, resolved_at)
		VALUES
			(:id, :onchain_bet_id, :pair, :question, :resolution_type, :target, :target_high,
			 :market_type, :options_json, :close_at, :end_at, :min_bet_qu, :max_slots,
			 :total_pool_qu, :slot_map_json, :status, :resolution_price, :winning_option,
			 :creator_address, :creation_tx, :commitment_hash, :oracle_addresses_json,
			 :oracle_fee_bps, :auto_refund_at, :category, :ai_attempt_count,
			 :ai_resolution_proof, :provenance, :created_at, :updated_at, :resolved_at)`
	if _, err := s.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("market_store.CreateMarket: %w", err)
	}
	return nil
}

// GetMarket fetches a market by id.
func (s *Store) GetMarket(ctx context.Context, id string) (*domain.Market, error) {
	var m domain.Market
	err := s.db.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_store.GetMarket: %w", err)
	}
	if err := unmarshalMarketJSON(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMarketsByStatus returns every market currently in one of statuses.
func (s *Store) ListMarketsByStatus(ctx context.Context, statuses ...domain.MarketStatus) ([]*domain.Market, error) {
	query, args, err := sqlx.In(`SELECT * FROM markets WHERE status IN (?) ORDER BY created_at ASC`, statuses)
	if err != nil {
		return nil, fmt.Errorf("market_store.ListMarketsByStatus: build query: %w", err)
	}
	query = s.db.Rebind(query)

	var markets []*domain.Market
	if err := s.db.SelectContext(ctx, &markets, query, args...); err != nil {
		return nil, fmt.Errorf("market_store.ListMarketsByStatus: %w", err)
	}
	for _, m := range markets {
		if err := unmarshalMarketJSON(m); err != nil {
			return nil, err
		}
	}
	return markets, nil
}

// CloseExpiredBetting flips active markets whose close_at has passed to
// closed, per spec.md §4.4 phase 0a. Returns the ids touched.
func (s *Store) CloseExpiredBetting(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM markets WHERE status = ? AND close_at <= ?`, domain.MarketActive, now)
	if err != nil {
		return nil, fmt.Errorf("market_store.CloseExpiredBetting: select: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`UPDATE markets SET status = ?, updated_at = ? WHERE id IN (?)`,
		domain.MarketClosed, now, ids)
	if err != nil {
		return nil, fmt.Errorf("market_store.CloseExpiredBetting: build update: %w", err)
	}
	query = s.db.Rebind(query)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("market_store.CloseExpiredBetting: update: %w", err)
	}
	return ids, nil
}

// SetOnChainBetID records the discovered on-chain bet id and activates the
// market, per spec.md §4.3's creation flow.
func (s *Store) SetOnChainBetID(ctx context.Context, id string, onChainBetID uint32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE markets SET onchain_bet_id = ?, status = ?, updated_at = ? WHERE id = ?`,
		onChainBetID, domain.MarketActive, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("market_store.SetOnChainBetID: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

// ActivateWithoutBetID moves a market straight to active with bet id 0
// left unset, to be retried by discovery/recovery.
func (s *Store) ActivateWithoutBetID(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE markets SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.MarketActive, time.Now().UTC(), id, domain.MarketPendingTx)
	if err != nil {
		return fmt.Errorf("market_store.ActivateWithoutBetID: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

// TryClaimMarketForResolution atomically transitions {active, closed} →
// resolving, per spec.md §4.1. Returns whether this caller won the claim.
func (s *Store) TryClaimMarketForResolution(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE markets SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		domain.MarketResolving, time.Now().UTC(), id, domain.MarketActive, domain.MarketClosed)
	if err != nil {
		return false, fmt.Errorf("market_store.TryClaimMarketForResolution: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RevertResolutionClaim reverts a market claimed for resolution back to
// closed, used when resolution is deferred (oracle returned no result yet).
func (s *Store) RevertResolutionClaim(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE markets SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.MarketClosed, time.Now().UTC(), id, domain.MarketResolving)
	if err != nil {
		return fmt.Errorf("market_store.RevertResolutionClaim: %w", err)
	}
	return nil
}

// BumpAIAttempt increments a market's ai_attempt_count, used when an AI
// oracle adapter defers resolution.
func (s *Store) BumpAIAttempt(ctx context.Context, id string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE markets SET ai_attempt_count = ai_attempt_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("market_store.BumpAIAttempt: %w", err)
	}
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT ai_attempt_count FROM markets WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("market_store.BumpAIAttempt: reread: %w", err)
	}
	return n, nil
}

// FinalizeResolutionTx applies the resolution outcome to the market row
// inside the caller's transaction (see internal/market.Resolve, which owns
// the full multi-step transaction this is one part of).
func (s *Store) FinalizeResolutionTx(ctx context.Context, tx *sqlx.Tx, id string, resolutionPrice float64, winningOption int, recomputedPool domain.QU, recomputedSlots []int) error {
	slotsRaw, err := json.Marshal(recomputedSlots)
	if err != nil {
		return fmt.Errorf("market_store.FinalizeResolutionTx: marshal slots: %w", err)
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE markets
		 SET status = ?, resolution_price = ?, winning_option = ?, total_pool_qu = ?,
		     slot_map_json = ?, resolved_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.MarketResolved, resolutionPrice, winningOption, recomputedPool, string(slotsRaw), now, now,
		id, domain.MarketResolving)
	if err != nil {
		return fmt.Errorf("market_store.FinalizeResolutionTx: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

// CancelMarket marks a market cancelled.
func (s *Store) CancelMarket(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.CancelMarketTx(ctx, tx, id)
	})
}

// CancelMarketTx is CancelMarket scoped to an already-open transaction, for
// callers that need to cancel a market atomically alongside its bet/escrow
// refund fan-out.
func (s *Store) CancelMarketTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE markets SET status = ?, updated_at = ? WHERE id = ? AND status NOT IN (?, ?)`,
		domain.MarketCancelled, time.Now().UTC(), id, domain.MarketResolved, domain.MarketCancelled)
	if err != nil {
		return fmt.Errorf("market_store.CancelMarketTx: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

// RepairAggregatesTx recomputes (pool, slot_map) from funded bet rows
// inside tx and, if they disagree with the stored aggregates, replaces
// them (absolute set, not delta), per spec.md §4.9's slot/commitment
// repair. Also recomputes and corrects the commitment hash if it no
// longer matches the stored market parameters.
func (s *Store) RepairAggregatesTx(ctx context.Context, tx *sqlx.Tx, m *domain.Market, recomputedPool domain.QU, recomputedSlots []int, recomputedCommitment string) error {
	slotsRaw, err := json.Marshal(recomputedSlots)
	if err != nil {
		return fmt.Errorf("market_store.RepairAggregatesTx: marshal slots: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE markets SET total_pool_qu = ?, slot_map_json = ?, commitment_hash = ?, updated_at = ? WHERE id = ?`,
		recomputedPool, string(slotsRaw), recomputedCommitment, time.Now().UTC(), m.ID)
	if err != nil {
		return fmt.Errorf("market_store.RepairAggregatesTx: %w", err)
	}
	return nil
}
