package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// createAccount inserts a new account row without touching the wallet
// balance (the wallet already has a zero balance when its accounts are
// created).
func (s *Store) createAccount(ctx context.Context, q Queryer, walletID, name string) (*Account, error) {
	a := &Account{
		ID:       uuid.NewString(),
		WalletID: walletID,
		Name:     name,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (id, wallet_id, name, balance)
		VALUES ($1, $2, $3, 0)
	`, a.ID, a.WalletID, a.Name)
	if err != nil {
		return nil, fmt.Errorf("ledger: create account: %w", err)
	}
	return s.GetAccount(ctx, q, a.ID)
}

// GetOrCreateAccount returns the named account in wallet, creating it if
// it does not already exist.
func (s *Store) GetOrCreateAccount(ctx context.Context, q Queryer, walletID, name string) (*Account, error) {
	acct, err := s.GetAccountByName(ctx, q, walletID, name)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	return s.createAccount(ctx, q, walletID, name)
}

// FeeAccount returns wallet's reserved network-fees account.
func (s *Store) FeeAccount(ctx context.Context, q Queryer, walletID string) (*Account, error) {
	return s.GetAccountByName(ctx, q, walletID, FeeAccountName)
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(ctx context.Context, q Queryer, id string) (*Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, wallet_id, name, balance, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id)
	return scanAccount(row)
}

// GetAccountByName fetches an account by its (wallet, name) unique key.
func (s *Store) GetAccountByName(ctx context.Context, q Queryer, walletID, name string) (*Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, wallet_id, name, balance, created_at, updated_at
		FROM accounts WHERE wallet_id = $1 AND name = $2
	`, walletID, name)
	return scanAccount(row)
}

// ListAccounts returns every account in a wallet.
func (s *Store) ListAccounts(ctx context.Context, q Queryer, walletID string) ([]*Account, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, wallet_id, name, balance, created_at, updated_at
		FROM accounts WHERE wallet_id = $1 ORDER BY created_at
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a := &Account{}
		if err := rows.Scan(&a.ID, &a.WalletID, &a.Name, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// adjustAccountBalance applies delta to an account's balance. Unless
// account is the wallet's fee account, the update is rejected if it would
// take the account negative.
func (s *Store) adjustAccountBalance(ctx context.Context, q Queryer, accountID string, delta Amount) error {
	acct, err := s.GetAccount(ctx, q, accountID)
	if err != nil {
		return err
	}

	var res sql.Result
	if acct.IsFeeAccount() {
		res, err = q.ExecContext(ctx, `
			UPDATE accounts SET balance = balance + $1, updated_at = now()
			WHERE id = $2
		`, delta.Minor(), accountID)
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE accounts SET balance = balance + $1, updated_at = now()
			WHERE id = $2 AND balance + $1 >= 0
		`, delta.Minor(), accountID)
	}
	if err != nil {
		return fmt.Errorf("ledger: adjust account balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: adjust account balance: %w", err)
	}
	if n == 0 {
		return ErrNotEnoughAccountBalance
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(&a.ID, &a.WalletID, &a.Name, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan account: %w", err)
	}
	return a, nil
}
