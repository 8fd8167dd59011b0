package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateDepositAddress registers address as a deposit address owned by
// accountID, after validating it against coin's descriptor.
func (s *Store) CreateDepositAddress(ctx context.Context, q Queryer, coin *CoinDescriptor, walletID, accountID, address, label string) (*Address, error) {
	if err := coin.Validate(address); err != nil {
		return nil, err
	}

	a := &Address{
		ID:        uuid.NewString(),
		WalletID:  walletID,
		Address:   address,
		AccountID: &accountID,
		Label:     label,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO addresses (id, wallet_id, address, account_id, label, balance)
		VALUES ($1, $2, $3, $4, $5, 0)
	`, a.ID, a.WalletID, a.Address, accountID, a.Label)
	if err != nil {
		return nil, fmt.Errorf("ledger: create deposit address: %w", err)
	}
	return s.GetAddress(ctx, q, a.ID)
}

// GetOrCreateExternalAddress returns the address row used as a send
// destination, creating an account-less row for it if this is the first
// time it has been seen. External addresses are still validated against
// coin.
func (s *Store) GetOrCreateExternalAddress(ctx context.Context, q Queryer, coin *CoinDescriptor, walletID, address string) (*Address, error) {
	existing, err := s.ResolveAddress(ctx, q, walletID, address)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrAddressNotFound) {
		return nil, err
	}

	if err := coin.Validate(address); err != nil {
		return nil, err
	}

	a := &Address{
		ID:       uuid.NewString(),
		WalletID: walletID,
		Address:  address,
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO addresses (id, wallet_id, address, account_id, balance)
		VALUES ($1, $2, $3, NULL, 0)
	`, a.ID, a.WalletID, a.Address)
	if err != nil {
		return nil, fmt.Errorf("ledger: create external address: %w", err)
	}
	return s.GetAddress(ctx, q, a.ID)
}

// GetAddress fetches an address by ID.
func (s *Store) GetAddress(ctx context.Context, q Queryer, id string) (*Address, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, wallet_id, address, account_id, label, balance, archived_at, created_at
		FROM addresses WHERE id = $1
	`, id)
	return scanAddress(row)
}

// ResolveAddress looks an address string up within a wallet.
func (s *Store) ResolveAddress(ctx context.Context, q Queryer, walletID, address string) (*Address, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, wallet_id, address, account_id, label, balance, archived_at, created_at
		FROM addresses WHERE wallet_id = $1 AND address = $2
	`, walletID, address)
	return scanAddress(row)
}

// FindDepositAddressByString looks up a deposit address by its string form
// alone, scoped to coin rather than a specific wallet - the TransactionUpdater
// sees a bare address in backend-reported transaction details and does not
// know in advance which wallet owns it. Returns ErrAddressNotFound for an
// external (account-less) or archived address: those are never deposit
// targets.
func (s *Store) FindDepositAddressByString(ctx context.Context, q Queryer, coin, address string) (*Address, error) {
	row := q.QueryRowContext(ctx, `
		SELECT a.id, a.wallet_id, a.address, a.account_id, a.label, a.balance, a.archived_at, a.created_at
		FROM addresses a
		JOIN wallets w ON w.id = a.wallet_id
		WHERE w.coin = $1 AND a.address = $2 AND a.account_id IS NOT NULL AND a.archived_at IS NULL
	`, coin, address)
	return scanAddress(row)
}

// ListAllAddresses returns every deposit address in a wallet that has not
// been archived, for the receive scanner to poll.
func (s *Store) ListAllAddresses(ctx context.Context, q Queryer, walletID string) ([]*Address, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, wallet_id, address, account_id, label, balance, archived_at, created_at
		FROM addresses
		WHERE wallet_id = $1 AND account_id IS NOT NULL AND archived_at IS NULL
		ORDER BY created_at
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list addresses: %w", err)
	}
	defer rows.Close()

	var addrs []*Address
	for rows.Next() {
		a, err := scanAddressRows(rows)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// ArchiveAddress marks a deposit address as no longer eligible for new
// deposits (it stays resolvable for historical lookups).
func (s *Store) ArchiveAddress(ctx context.Context, q Queryer, id string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE addresses SET archived_at = now() WHERE id = $1 AND archived_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("ledger: archive address: %w", err)
	}
	return nil
}

// adjustAddressBalance applies delta to a single deposit address's
// credited-amount counter, tracked alongside the account and wallet
// aggregates it rolls up into.
func (s *Store) adjustAddressBalance(ctx context.Context, q Queryer, addressID string, delta Amount) error {
	_, err := q.ExecContext(ctx, `
		UPDATE addresses SET balance = balance + $1 WHERE id = $2
	`, delta.Minor(), addressID)
	if err != nil {
		return fmt.Errorf("ledger: adjust address balance: %w", err)
	}
	return nil
}

func scanAddress(row *sql.Row) (*Address, error) {
	a := &Address{}
	err := row.Scan(&a.ID, &a.WalletID, &a.Address, &a.AccountID, &a.Label, &a.Balance, &a.ArchivedAt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan address: %w", err)
	}
	return a, nil
}

func scanAddressRows(rows *sql.Rows) (*Address, error) {
	a := &Address{}
	if err := rows.Scan(&a.ID, &a.WalletID, &a.Address, &a.AccountID, &a.Label, &a.Balance, &a.ArchivedAt, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("ledger: scan address: %w", err)
	}
	return a, nil
}
