package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/qpredict/internal/domain"
)

const nonceAndIdempotencyTTL = 24 * time.Hour

// ClaimNonce inserts a single-use (address, endpoint) row; returns false if
// the pair has already been used, implementing the replay-prevention
// primitive from spec.md §4.1.
func (s *Store) ClaimNonce(ctx context.Context, address, endpoint string) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nonces (address, endpoint, created_at) VALUES (?, ?, ?)`,
		address, endpoint, time.Now().UTC())
	if err != nil {
		// A primary key conflict means this nonce has been used before.
		return false, nil
	}
	return true, nil
}

// SweepNonces deletes nonce rows older than 24h, per spec.md §4.1/§4.4
// phase 6.
func (s *Store) SweepNonces(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM nonces WHERE created_at < ?`, time.Now().UTC().Add(-nonceAndIdempotencyTTL))
	if err != nil {
		return 0, fmt.Errorf("store.SweepNonces: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetIdempotentResponse returns a previously-recorded response for key, if
// any.
func (s *Store) GetIdempotentResponse(ctx context.Context, key string) (string, bool, error) {
	var resp string
	err := s.db.GetContext(ctx, &resp, `SELECT response_json FROM idempotency_keys WHERE key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store.GetIdempotentResponse: %w", err)
	}
	return resp, true, nil
}

// PutIdempotentResponse records responseJSON under key; a second write
// under the same key is a no-op (first writer wins), returning
// domain.ErrIdempotencyReplay so callers can distinguish "stored" from
// "already existed".
func (s *Store) PutIdempotentResponse(ctx context.Context, key, responseJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, response_json, created_at) VALUES (?, ?, ?)`,
		key, responseJSON, time.Now().UTC())
	if err != nil {
		return domain.ErrIdempotencyReplay
	}
	return nil
}

// SweepIdempotencyKeys deletes idempotency rows older than 24h.
func (s *Store) SweepIdempotencyKeys(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < ?`, time.Now().UTC().Add(-nonceAndIdempotencyTTL))
	if err != nil {
		return 0, fmt.Errorf("store.SweepIdempotencyKeys: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AcquireCronLock implements spec.md §4.1's single-instance cron lock:
// inserts on the named row only if no unexpired holder exists, with a
// different holder id than any live one. An expired-lock sweep runs first
// so a crashed holder's lock does not wedge the process forever.
func (s *Store) AcquireCronLock(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cron_locks WHERE name = ? AND expires_at < ?`, name, now); err != nil {
		return false, fmt.Errorf("store.AcquireCronLock: sweep expired: %w", err)
	}

	expiresAt := now.Add(ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_locks (name, holder_id, expires_at) VALUES (?, ?, ?)`,
		name, holderID, expiresAt)
	if err != nil {
		// Row already exists with a live holder — try extending it if we
		// are that holder (cycle re-entry within the same TTL window).
		res, updErr := s.db.ExecContext(ctx,
			`UPDATE cron_locks SET expires_at = ? WHERE name = ? AND holder_id = ?`,
			expiresAt, name, holderID)
		if updErr != nil {
			return false, fmt.Errorf("store.AcquireCronLock: %w", updErr)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}
	return true, nil
}

// ReleaseCronLock deletes the lock row only if holderID still owns it.
func (s *Store) ReleaseCronLock(ctx context.Context, name, holderID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cron_locks WHERE name = ? AND holder_id = ?`, name, holderID)
	if err != nil {
		return fmt.Errorf("store.ReleaseCronLock: %w", err)
	}
	return nil
}
