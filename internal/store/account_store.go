package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evetabi/qpredict/internal/domain"
)

// GetOrCreateAccount fetches an account row, creating a zero-balance one
// if it does not yet exist — custodial accounts are implicit, created on
// first touch rather than via a separate signup flow (out of scope here).
func (s *Store) GetOrCreateAccount(ctx context.Context, address string) (*domain.Account, error) {
	var a domain.Account
	err := s.db.GetContext(ctx, &a, `SELECT * FROM accounts WHERE address = ?`, address)
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account_store.GetOrCreateAccount: %w", err)
	}

	now := time.Now().UTC()
	a = domain.Account{
		Address:          address,
		BalanceQU:        domain.ZeroQU(),
		TotalDepositedQU: domain.ZeroQU(),
		TotalWithdrawnQU: domain.ZeroQU(),
		TotalBetQU:       domain.ZeroQU(),
		TotalWonQU:       domain.ZeroQU(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO accounts
			(address, display_name, balance_qu, total_deposited_qu, total_withdrawn_qu, total_bet_qu, total_won_qu, created_at, updated_at)
		VALUES
			(:address, :display_name, :balance_qu, :total_deposited_qu, :total_withdrawn_qu, :total_bet_qu, :total_won_qu, :created_at, :updated_at)`,
		a)
	if err != nil {
		return nil, fmt.Errorf("account_store.GetOrCreateAccount: insert: %w", err)
	}
	return &a, nil
}

// CreditAccountTx adds amount to an account's balance and the given total
// field, inside the caller's transaction, appending a ledger row.
func (s *Store) CreditAccountTx(ctx context.Context, tx *sqlx.Tx, address string, amount domain.QU, totalColumn string, txType domain.TxType, marketID *string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (address, display_name, balance_qu, total_deposited_qu, total_withdrawn_qu, total_bet_qu, total_won_qu, created_at, updated_at)
		 VALUES (?, '', '0', '0', '0', '0', '0', ?, ?)
		 ON CONFLICT(address) DO NOTHING`,
		address, time.Now().UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("account_store.CreditAccountTx: ensure account: %w", err)
	}

	var current domain.QU
	if err := tx.GetContext(ctx, &current, `SELECT balance_qu FROM accounts WHERE address = ?`, address); err != nil {
		return fmt.Errorf("account_store.CreditAccountTx: read balance: %w", err)
	}
	newBalance := current.Add(amount)

	// SQLite has no native bigint arithmetic on TEXT columns, so the
	// running total is recomputed in Go and written as an absolute value
	// rather than relying on in-SQL addition.
	var currentTotal domain.QU
	if err := tx.GetContext(ctx, &currentTotal, fmt.Sprintf(`SELECT %s FROM accounts WHERE address = ?`, totalColumn), address); err != nil {
		return fmt.Errorf("account_store.CreditAccountTx: read total: %w", err)
	}
	newTotal := currentTotal.Add(amount)
	query := fmt.Sprintf(`UPDATE accounts SET balance_qu = ?, %s = ?, updated_at = ? WHERE address = ?`, totalColumn)
	if _, err := tx.ExecContext(ctx, query, newBalance, newTotal, time.Now().UTC(), address); err != nil {
		return fmt.Errorf("account_store.CreditAccountTx: update: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (address, type, amount_qu, tx_hash, market_id, status, created_at)
		 VALUES (?, ?, ?, NULL, ?, ?, ?)`,
		address, txType, amount, marketID, domain.TxStatusConfirmed, now); err != nil {
		return fmt.Errorf("account_store.CreditAccountTx: ledger: %w", err)
	}
	return nil
}

// ListAllBalances returns every account's address and balance, used to
// build solvency proof leaves.
func (s *Store) ListAllBalances(ctx context.Context) ([]domain.SolvencyLeaf, error) {
	var leaves []domain.SolvencyLeaf
	rows, err := s.db.QueryContext(ctx, `SELECT address, balance_qu FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("account_store.ListAllBalances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var leaf domain.SolvencyLeaf
		if err := rows.Scan(&leaf.Address, &leaf.Balance); err != nil {
			return nil, fmt.Errorf("account_store.ListAllBalances: scan: %w", err)
		}
		leaves = append(leaves, leaf)
	}
	return leaves, rows.Err()
}
