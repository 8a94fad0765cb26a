package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/provably"
)

// AppendChainEntryTx implements spec.md §4.7's commitment chain append
// inside the caller's transaction: read the latest row for prev_hash/seq,
// build the new entry, insert it. Safe to call only from the single
// writer process (enforced structurally: Store owns the one connection).
func (s *Store) AppendChainEntryTx(ctx context.Context, tx *sqlx.Tx, eventType domain.EventType, entityID string, payload interface{}) (domain.CommitmentChainEntry, error) {
	var prevSeq int64
	var prevHash string
	err := tx.QueryRowContext(ctx,
		`SELECT sequence_num, chain_hash FROM commitment_chain ORDER BY sequence_num DESC LIMIT 1`,
	).Scan(&prevSeq, &prevHash)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.CommitmentChainEntry{}, fmt.Errorf("chain_store.AppendChainEntryTx: read latest: %w", err)
		}
		prevSeq, prevHash = 0, ""
	}

	entry, err := provably.BuildEntry(prevSeq, prevHash, eventType, entityID, payload)
	if err != nil {
		return domain.CommitmentChainEntry{}, err
	}
	entry.CreatedAt = time.Now().UTC()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO commitment_chain
			(sequence_num, event_type, entity_id, payload_json, payload_hash, prev_hash, chain_hash, created_at)
		VALUES
			(:sequence_num, :event_type, :entity_id, :payload_json, :payload_hash, :prev_hash, :chain_hash, :created_at)`,
		entry)
	if err != nil {
		return domain.CommitmentChainEntry{}, fmt.Errorf("chain_store.AppendChainEntryTx: insert: %w", err)
	}
	return entry, nil
}

// AppendChainEntry is the non-transactional convenience wrapper for
// call sites that are not already inside a larger transaction.
func (s *Store) AppendChainEntry(ctx context.Context, eventType domain.EventType, entityID string, payload interface{}) (entry domain.CommitmentChainEntry, err error) {
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		entry, err = s.AppendChainEntryTx(ctx, tx, eventType, entityID, payload)
		return err
	})
	return entry, err
}

// ChainEntriesForEntity returns every chain row for entityID, ascending by
// sequence number.
func (s *Store) ChainEntriesForEntity(ctx context.Context, entityID string) ([]domain.CommitmentChainEntry, error) {
	var entries []domain.CommitmentChainEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM commitment_chain WHERE entity_id = ? ORDER BY sequence_num ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("chain_store.ChainEntriesForEntity: %w", err)
	}
	return entries, nil
}

// ChainEntriesRange returns every chain row with sequence_num in
// [fromSeq, toSeq], ascending — used for full-chain audit verification.
func (s *Store) ChainEntriesRange(ctx context.Context, fromSeq, toSeq int64) ([]domain.CommitmentChainEntry, error) {
	var entries []domain.CommitmentChainEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM commitment_chain WHERE sequence_num BETWEEN ? AND ? ORDER BY sequence_num ASC`,
		fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("chain_store.ChainEntriesRange: %w", err)
	}
	return entries, nil
}

// InsertAttestation persists one oracle price attestation.
func (s *Store) InsertAttestation(ctx context.Context, att *domain.OracleAttestation) error {
	att.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO oracle_attestations
			(market_id, source, pair, price, tick, epoch, source_ts, attestation_hash, server_signature, created_at)
		VALUES
			(:market_id, :source, :pair, :price, :tick, :epoch, :source_ts, :attestation_hash, :server_signature, :created_at)`
	res, err := s.db.NamedExecContext(ctx, query, att)
	if err != nil {
		return fmt.Errorf("chain_store.InsertAttestation: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		att.ID = id
	}
	return nil
}

// AttestationsForMarket returns every attestation recorded for a market.
func (s *Store) AttestationsForMarket(ctx context.Context, marketID string) ([]domain.OracleAttestation, error) {
	var atts []domain.OracleAttestation
	err := s.db.SelectContext(ctx, &atts,
		`SELECT * FROM oracle_attestations WHERE market_id = ? ORDER BY created_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("chain_store.AttestationsForMarket: %w", err)
	}
	return atts, nil
}

// InsertSolvencyProof persists the summary fields of a solvency proof
// (leaves themselves are not persisted — they are recomputed live from
// the accounts table for every new proof, per spec.md §3's "no in-memory
// map is authoritative" rule).
func (s *Store) InsertSolvencyProof(ctx context.Context, p *domain.SolvencyProof) error {
	p.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO solvency_proofs
			(merkle_root, total_user_balance_qu, on_chain_balance_qu, is_solvent, account_count, tick, epoch, created_at)
		VALUES
			(:merkle_root, :total_user_balance_qu, :on_chain_balance_qu, :is_solvent, :account_count, :tick, :epoch, :created_at)`
	res, err := s.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return fmt.Errorf("chain_store.InsertSolvencyProof: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		p.ID = id
	}
	return nil
}

// LatestSolvencyProof returns the most recently recorded solvency proof
// summary, if any.
func (s *Store) LatestSolvencyProof(ctx context.Context) (*domain.SolvencyProof, error) {
	var p domain.SolvencyProof
	err := s.db.GetContext(ctx, &p, `SELECT * FROM solvency_proofs ORDER BY id DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("chain_store.LatestSolvencyProof: %w", err)
	}
	return &p, nil
}
