package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateWallet creates a new wallet for coin, along with its reserved
// network-fees account (the only account permitted a negative balance).
func (s *Store) CreateWallet(ctx context.Context, q Queryer, coin, name string) (*Wallet, error) {
	w := &Wallet{
		ID:   uuid.NewString(),
		Coin: coin,
		Name: name,
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO wallets (id, coin, name, balance)
		VALUES ($1, $2, $3, 0)
	`, w.ID, w.Coin, w.Name)
	if err != nil {
		return nil, fmt.Errorf("ledger: create wallet: %w", err)
	}

	if _, err := s.createAccount(ctx, q, w.ID, FeeAccountName); err != nil {
		return nil, fmt.Errorf("ledger: create fee account: %w", err)
	}

	return s.GetWallet(ctx, q, w.ID)
}

// GetWallet fetches a wallet by ID.
func (s *Store) GetWallet(ctx context.Context, q Queryer, id string) (*Wallet, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, coin, name, balance, created_at, updated_at
		FROM wallets WHERE id = $1
	`, id)
	return scanWallet(row)
}

// GetWalletByName fetches a wallet by its (coin, name) unique key.
func (s *Store) GetWalletByName(ctx context.Context, q Queryer, coin, name string) (*Wallet, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, coin, name, balance, created_at, updated_at
		FROM wallets WHERE coin = $1 AND name = $2
	`, coin, name)
	return scanWallet(row)
}

// ListWallets returns every wallet, ordered by creation time.
func (s *Store) ListWallets(ctx context.Context, q Queryer) ([]*Wallet, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, coin, name, balance, created_at, updated_at
		FROM wallets ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w, err := scanWalletRows(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// ListWalletsByCoin returns every wallet for a single coin, ordered by
// creation time - the set a per-coin Broadcaster cycle or ReceiveScanner
// pass iterates.
func (s *Store) ListWalletsByCoin(ctx context.Context, q Queryer, coin string) ([]*Wallet, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, coin, name, balance, created_at, updated_at
		FROM wallets WHERE coin = $1 ORDER BY created_at
	`, coin)
	if err != nil {
		return nil, fmt.Errorf("ledger: list wallets by coin: %w", err)
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w, err := scanWalletRows(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// adjustWalletBalance applies delta to a wallet's aggregate balance.
// When allowNegative is false the update is rejected (no row affected,
// via the WHERE guard) if it would take the wallet negative, and
// ErrNotEnoughWalletBalance is returned.
func (s *Store) adjustWalletBalance(ctx context.Context, q Queryer, walletID string, delta Amount, allowNegative bool) error {
	var res sql.Result
	var err error
	if allowNegative {
		res, err = q.ExecContext(ctx, `
			UPDATE wallets SET balance = balance + $1, updated_at = now()
			WHERE id = $2
		`, delta.Minor(), walletID)
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE wallets SET balance = balance + $1, updated_at = now()
			WHERE id = $2 AND balance + $1 >= 0
		`, delta.Minor(), walletID)
	}
	if err != nil {
		return fmt.Errorf("ledger: adjust wallet balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: adjust wallet balance: %w", err)
	}
	if n == 0 {
		if allowNegative {
			return ErrWalletNotFound
		}
		return ErrNotEnoughWalletBalance
	}
	return nil
}

func scanWallet(row *sql.Row) (*Wallet, error) {
	w := &Wallet{}
	err := row.Scan(&w.ID, &w.Coin, &w.Name, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan wallet: %w", err)
	}
	return w, nil
}

func scanWalletRows(rows *sql.Rows) (*Wallet, error) {
	w := &Wallet{}
	if err := rows.Scan(&w.ID, &w.Coin, &w.Name, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, fmt.Errorf("ledger: scan wallet: %w", err)
	}
	return w, nil
}
