package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/vault"
)

// CreateEscrowWithBet implements spec.md §4.2's one-transaction escrow
// creation: insert the bet (pool untouched) and the escrow with the
// statuses the caller set (escrow.Create sets pending_deposit and
// awaiting_deposit), then the encrypted key (active). The caller has
// already generated the identity and encrypted the seed.
func (s *Store) CreateEscrowWithBet(ctx context.Context, b *domain.Bet, e *domain.Escrow, enc vault.Encrypted) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO bets
				(id, market_id, user_payout_address, option, slots, amount_qu, onchain_tx,
				 status, payout_qu, commitment_hash, commitment_nonce, user_signature,
				 created_at, resolved_at)
			VALUES
				(:id, :market_id, :user_payout_address, :option, :slots, :amount_qu, :onchain_tx,
				 :status, :payout_qu, :commitment_hash, :commitment_nonce, :user_signature,
				 :created_at, :resolved_at)`, b); err != nil {
			return fmt.Errorf("insert bet: %w", err)
		}

		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO escrows
				(id, bet_id, market_id, escrow_address, user_payout_address, option, slots,
				 expected_amount_qu, status, deposit_detected_at, deposit_amount_qu,
				 join_tx_id, join_tick, join_retries, payout_detected_at, payout_amount_qu,
				 sweep_tx_id, sweep_tick, sweep_retries, expires_at, created_at, updated_at)
			VALUES
				(:id, :bet_id, :market_id, :escrow_address, :user_payout_address, :option, :slots,
				 :expected_amount_qu, :status, :deposit_detected_at, :deposit_amount_qu,
				 :join_tx_id, :join_tick, :join_retries, :payout_detected_at, :payout_amount_qu,
				 :sweep_tx_id, :sweep_tick, :sweep_retries, :expires_at, :created_at, :updated_at)`, e); err != nil {
			return fmt.Errorf("insert escrow: %w", err)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO escrow_keys (escrow_id, ciphertext_hex, iv_hex, tag_hex, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, enc.CiphertextHex, enc.IVHex, enc.TagHex, domain.KeyActive, now, now); err != nil {
			return fmt.Errorf("insert escrow_key: %w", err)
		}
		return nil
	})
}

// GetEscrow fetches an escrow by id.
func (s *Store) GetEscrow(ctx context.Context, id string) (*domain.Escrow, error) {
	var e domain.Escrow
	err := s.db.GetContext(ctx, &e, `SELECT * FROM escrows WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("escrow_store.GetEscrow: %w", err)
	}
	return &e, nil
}

// GetEscrowByBetID fetches the (1:1) escrow for a bet, used by market
// resolution's payout fan-out to go from a settled bet to its escrow.
func (s *Store) GetEscrowByBetID(ctx context.Context, betID string) (*domain.Escrow, error) {
	var e domain.Escrow
	err := s.db.GetContext(ctx, &e, `SELECT * FROM escrows WHERE bet_id = ?`, betID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("escrow_store.GetEscrowByBetID: %w", err)
	}
	return &e, nil
}

// GetEscrowByBetIDTx is GetEscrowByBetID scoped to the caller's
// transaction, for use inside market resolution's settlement transaction.
func (s *Store) GetEscrowByBetIDTx(ctx context.Context, tx *sqlx.Tx, betID string) (*domain.Escrow, error) {
	var e domain.Escrow
	err := tx.GetContext(ctx, &e, `SELECT * FROM escrows WHERE bet_id = ?`, betID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("escrow_store.GetEscrowByBetIDTx: %w", err)
	}
	return &e, nil
}

// ListEscrowsByStatus returns every escrow currently in one of statuses.
func (s *Store) ListEscrowsByStatus(ctx context.Context, statuses ...domain.EscrowStatus) ([]*domain.Escrow, error) {
	query, args, err := sqlx.In(`SELECT * FROM escrows WHERE status IN (?) ORDER BY created_at ASC`, statuses)
	if err != nil {
		return nil, fmt.Errorf("escrow_store.ListEscrowsByStatus: build query: %w", err)
	}
	query = s.db.Rebind(query)
	var escrows []*domain.Escrow
	if err := s.db.SelectContext(ctx, &escrows, query, args...); err != nil {
		return nil, fmt.Errorf("escrow_store.ListEscrowsByStatus: %w", err)
	}
	return escrows, nil
}

// GetEscrowKey fetches the encrypted key row for an escrow.
func (s *Store) GetEscrowKey(ctx context.Context, escrowID string) (*domain.EscrowKey, error) {
	var k domain.EscrowKey
	err := s.db.GetContext(ctx, &k, `SELECT * FROM escrow_keys WHERE escrow_id = ?`, escrowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("escrow_store.GetEscrowKey: %w", err)
	}
	return &k, nil
}

// MarkDepositDetectedTx transitions awaiting_deposit → deposit_detected in
// the caller's transaction, after ConfirmBetDeposit has already succeeded.
func (s *Store) MarkDepositDetectedTx(ctx context.Context, tx *sqlx.Tx, escrowID string, amount domain.QU, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE escrows SET status = ?, deposit_detected_at = ?, deposit_amount_qu = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.EscrowDepositDetected, at, amount, at, escrowID, domain.EscrowAwaitingDeposit)
	if err != nil {
		return fmt.Errorf("escrow_store.MarkDepositDetectedTx: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrEscrowWrongState
	}
	return nil
}

// MarkDepositDetected wraps MarkDepositDetectedTx in its own transaction —
// used by the deposit-check cycle, which calls ConfirmBetDeposit first
// (already committed) and only then flips the escrow row.
func (s *Store) MarkDepositDetected(ctx context.Context, escrowID string, amount domain.QU, at time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.MarkDepositDetectedTx(ctx, tx, escrowID, amount, at)
	})
}

// RouteToLateRefund moves an escrow straight to won_awaiting_sweep — used
// both for the slots-exhausted-while-awaiting-deposit path and the
// expired-with-balance late-refund path, per spec.md §4.2.
func (s *Store) RouteToLateRefund(ctx context.Context, escrowID string, payoutAmount domain.QU) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET status = ?, payout_detected_at = ?, payout_amount_qu = ?, updated_at = ? WHERE id = ?`,
		domain.EscrowWonAwaitingSweep, now, payoutAmount, now, escrowID)
	if err != nil {
		return fmt.Errorf("escrow_store.RouteToLateRefund: %w", err)
	}
	return nil
}

// ExpireEscrow transitions awaiting_deposit → expired (zero-balance expiry
// path); the caller separately marks the bet refunded and archives the key.
func (s *Store) ExpireEscrow(ctx context.Context, escrowID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.EscrowExpired, time.Now().UTC(), escrowID, domain.EscrowAwaitingDeposit)
	if err != nil {
		return fmt.Errorf("escrow_store.ExpireEscrow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrEscrowWrongState
	}
	return nil
}

// BeginJoinBet transitions deposit_detected → joining_sc.
func (s *Store) BeginJoinBet(ctx context.Context, escrowID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.EscrowJoiningSC, time.Now().UTC(), escrowID, domain.EscrowDepositDetected)
	if err != nil {
		return fmt.Errorf("escrow_store.BeginJoinBet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrEscrowWrongState
	}
	return nil
}

// RecordJoinBetBroadcast stamps the join tx id/tick on a joining_sc escrow.
func (s *Store) RecordJoinBetBroadcast(ctx context.Context, escrowID, txID string, tick uint32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET join_tx_id = ?, join_tick = ?, updated_at = ? WHERE id = ?`,
		txID, tick, time.Now().UTC(), escrowID)
	if err != nil {
		return fmt.Errorf("escrow_store.RecordJoinBetBroadcast: %w", err)
	}
	return nil
}

// ConfirmJoinBet implements the atomic claim joining_sc → active_in_sc.
func (s *Store) ConfirmJoinBet(ctx context.Context, escrowID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.EscrowActiveInSC, time.Now().UTC(), escrowID, domain.EscrowJoiningSC)
	if err != nil {
		return false, fmt.Errorf("escrow_store.ConfirmJoinBet: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RevertJoinBet is the inverse of ConfirmJoinBet: joining_sc → deposit_detected,
// clearing the join tx fields and bumping the retry counter. If retries
// have reached 3, the caller should instead call RouteToRefundAfterRetries.
func (s *Store) RevertJoinBet(ctx context.Context, escrowID string) (retries int, err error) {
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, execErr := tx.ExecContext(ctx,
			`UPDATE escrows
			 SET status = ?, join_tx_id = NULL, join_tick = NULL, join_retries = join_retries + 1, updated_at = ?
			 WHERE id = ? AND status = ?`,
			domain.EscrowDepositDetected, time.Now().UTC(), escrowID, domain.EscrowJoiningSC)
		if execErr != nil {
			return fmt.Errorf("revert join bet: %w", execErr)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrEscrowWrongState
		}
		return tx.GetContext(ctx, &retries, `SELECT join_retries FROM escrows WHERE id = ?`, escrowID)
	})
	return retries, err
}

// RouteToRefundAfterRetries moves an escrow stuck retrying joinBet into the
// refund sweep path, per spec.md §4.2 ("retries ≥ 3").
func (s *Store) RouteToRefundAfterRetries(ctx context.Context, escrowID string, payoutAmount domain.QU) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE escrows
		 SET status = ?, payout_detected_at = ?, payout_amount_qu = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.EscrowWonAwaitingSweep, now, payoutAmount, now, escrowID, domain.EscrowDepositDetected)
	if err != nil {
		return fmt.Errorf("escrow_store.RouteToRefundAfterRetries: %w", err)
	}
	return nil
}

// TransitionToWonAwaitingSweepTx and TransitionToLostTx implement the
// resolution-time escrow fan-out, per spec.md §4.3 step 6.
func (s *Store) TransitionToWonAwaitingSweepTx(ctx context.Context, tx *sqlx.Tx, escrowID string, payout domain.QU, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE escrows SET status = ?, payout_detected_at = ?, payout_amount_qu = ?, updated_at = ? WHERE id = ?`,
		domain.EscrowWonAwaitingSweep, at, payout, at, escrowID)
	if err != nil {
		return fmt.Errorf("escrow_store.TransitionToWonAwaitingSweepTx: %w", err)
	}
	return nil
}

func (s *Store) TransitionToLostTx(ctx context.Context, tx *sqlx.Tx, escrowID string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE escrows SET status = ?, updated_at = ? WHERE id = ?`, domain.EscrowLost, at, escrowID)
	if err != nil {
		return fmt.Errorf("escrow_store.TransitionToLostTx: %w", err)
	}
	return nil
}

// TransitionToWonAwaitingSweep and TransitionToLost are the
// non-transactional wrappers used by cron's post-resolution reconciliation
// phase, which visits one escrow at a time rather than inside a market
// resolution's single settlement transaction.
func (s *Store) TransitionToWonAwaitingSweep(ctx context.Context, escrowID string, payout domain.QU, at time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.TransitionToWonAwaitingSweepTx(ctx, tx, escrowID, payout, at)
	})
}

func (s *Store) TransitionToLost(ctx context.Context, escrowID string, at time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.TransitionToLostTx(ctx, tx, escrowID, at)
	})
}

// ClaimEscrowForSweep implements the anti-double-sweep mutex: transitions
// won_awaiting_sweep → sweeping iff current status is won_awaiting_sweep.
func (s *Store) ClaimEscrowForSweep(ctx context.Context, escrowID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.EscrowSweeping, time.Now().UTC(), escrowID, domain.EscrowWonAwaitingSweep)
	if err != nil {
		return false, fmt.Errorf("escrow_store.ClaimEscrowForSweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RevertSweepClaim reverts sweeping → won_awaiting_sweep (used both for
// broadcast failure and sweep-confirmation orphan recovery).
func (s *Store) RevertSweepClaim(ctx context.Context, escrowID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE escrows
		 SET status = ?, sweep_tx_id = NULL, sweep_tick = NULL, sweep_retries = sweep_retries + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.EscrowWonAwaitingSweep, time.Now().UTC(), escrowID, domain.EscrowSweeping)
	if err != nil {
		return fmt.Errorf("escrow_store.RevertSweepClaim: %w", err)
	}
	return nil
}

// RecordSweepBroadcast stamps the sweep tx id/tick once the transfer has
// been broadcast — ExecuteSweep calls it after Transfer returns, and
// ConfirmSweepComplete's SQL guard only succeeds after it has landed.
func (s *Store) RecordSweepBroadcast(ctx context.Context, escrowID, txID string, tick uint32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET sweep_tx_id = ?, sweep_tick = ?, updated_at = ? WHERE id = ?`,
		txID, tick, time.Now().UTC(), escrowID)
	if err != nil {
		return fmt.Errorf("escrow_store.RecordSweepBroadcast: %w", err)
	}
	return nil
}

// ConfirmSweepComplete implements the load-bearing SQL guard from
// spec.md §4.1: sweeping → swept iff sweep_tx_id IS NOT NULL AND
// sweep_tx_id <> ''. This must not be weakened — it is what prevents a
// crash between claim and broadcast from silently completing a sweep that
// was never actually sent.
func (s *Store) ConfirmSweepComplete(ctx context.Context, escrowID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE escrows
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND sweep_tx_id IS NOT NULL AND sweep_tx_id <> ''`,
		domain.EscrowSwept, time.Now().UTC(), escrowID, domain.EscrowSweeping)
	if err != nil {
		return false, fmt.Errorf("escrow_store.ConfirmSweepComplete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ArchiveEscrowKeyTx flips an escrow_key row to archived and, in the same
// write, overwrites the ciphertext/iv/tag with fresh random bytes of equal
// length, per spec.md §4.8. The caller supplies the overwrite via
// vault.SecureOverwrite().
func (s *Store) ArchiveEscrowKeyTx(ctx context.Context, tx *sqlx.Tx, escrowID string, overwrite vault.Encrypted) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE escrow_keys SET status = ?, ciphertext_hex = ?, iv_hex = ?, tag_hex = ?, updated_at = ? WHERE escrow_id = ?`,
		domain.KeyArchived, overwrite.CiphertextHex, overwrite.IVHex, overwrite.TagHex, time.Now().UTC(), escrowID)
	if err != nil {
		return fmt.Errorf("escrow_store.ArchiveEscrowKeyTx: %w", err)
	}
	return nil
}

// ArchiveEscrowKey is the non-transactional convenience wrapper for call
// sites not already inside a larger transaction.
func (s *Store) ArchiveEscrowKey(ctx context.Context, escrowID string, overwrite vault.Encrypted) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.ArchiveEscrowKeyTx(ctx, tx, escrowID, overwrite)
	})
}

// CompleteEscrow marks an escrow fully done after its key has been
// archived post-sweep (terminal bookkeeping state beyond swept, used by
// the cancel/late-refund paths where no further action is expected).
func (s *Store) CompleteEscrow(ctx context.Context, escrowID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET status = ?, updated_at = ? WHERE id = ?`, domain.EscrowCompleted, time.Now().UTC(), escrowID)
	if err != nil {
		return fmt.Errorf("escrow_store.CompleteEscrow: %w", err)
	}
	return nil
}

// CancelPreDeposit implements spec.md §4.2's cancel contract: one
// transaction flipping awaiting_deposit → expired, the bet → refunded, and
// the key → archived (with secure overwrite).
func (s *Store) CancelPreDeposit(ctx context.Context, escrow *domain.Escrow, overwrite vault.Encrypted) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE escrows SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			domain.EscrowExpired, now, escrow.ID, domain.EscrowAwaitingDeposit)
		if err != nil {
			return fmt.Errorf("expire escrow: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrEscrowWrongState
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bets SET status = ?, resolved_at = ? WHERE id = ?`,
			domain.BetRefunded, now, escrow.BetID); err != nil {
			return fmt.Errorf("refund bet: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE escrow_keys SET status = ?, ciphertext_hex = ?, iv_hex = ?, tag_hex = ?, updated_at = ? WHERE escrow_id = ?`,
			domain.KeyArchived, overwrite.CiphertextHex, overwrite.IVHex, overwrite.TagHex, now, escrow.ID); err != nil {
			return fmt.Errorf("archive key: %w", err)
		}
		return nil
	})
}
