package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateInternalTransfer moves amount from sendingAccountID to
// receivingAccountID within the same wallet, atomically. It is the
// implementation of invariant I2 (an internal transfer never touches
// either account's wallet-level aggregate, since both accounts share a
// wallet) and enforces I3 (sending and receiving account must differ).
func (s *Store) CreateInternalTransfer(ctx context.Context, q Queryer, walletID, sendingAccountID, receivingAccountID string, amount Amount, label string) (*Transaction, error) {
	if sendingAccountID == receivingAccountID {
		return nil, ErrSameAccount
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("ledger: transfer amount must be positive")
	}

	if err := s.adjustAccountBalance(ctx, q, sendingAccountID, amount.Neg()); err != nil {
		return nil, err
	}
	if err := s.adjustAccountBalance(ctx, q, receivingAccountID, amount); err != nil {
		return nil, err
	}

	t := &Transaction{
		ID:                 uuid.NewString(),
		WalletID:           walletID,
		Amount:             amount,
		State:              TxStateInternal,
		SendingAccountID:   &sendingAccountID,
		ReceivingAccountID: &receivingAccountID,
		Label:              label,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (id, wallet_id, amount, state, sending_account_id, receiving_account_id, label, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, t.ID, t.WalletID, t.Amount, t.State, t.SendingAccountID, t.ReceivingAccountID, t.Label)
	if err != nil {
		return nil, fmt.Errorf("ledger: create internal transfer: %w", err)
	}
	return s.GetTransaction(ctx, q, t.ID)
}

// CreatePendingOutbound debits sendingAccountID and the wallet's aggregate
// balance by amount, and records a 'pending' transaction bound to an
// external destination address. It does not yet touch a network
// transaction - that happens when the broadcaster's collect phase picks
// it up (invariant I4: a wallet's aggregate balance already reflects
// every pending send before it is ever broadcast).
func (s *Store) CreatePendingOutbound(ctx context.Context, q Queryer, walletID, sendingAccountID, addressID string, amount Amount, label string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("ledger: outbound amount must be positive")
	}

	if err := s.adjustAccountBalance(ctx, q, sendingAccountID, amount.Neg()); err != nil {
		return nil, err
	}
	if err := s.adjustWalletBalance(ctx, q, walletID, amount.Neg(), false); err != nil {
		return nil, err
	}

	t := &Transaction{
		ID:               uuid.NewString(),
		WalletID:         walletID,
		Amount:           amount,
		State:            TxStatePending,
		SendingAccountID: &sendingAccountID,
		AddressID:        &addressID,
		Label:            label,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (id, wallet_id, amount, state, sending_account_id, address_id, label)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.WalletID, t.Amount, t.State, t.SendingAccountID, t.AddressID, t.Label)
	if err != nil {
		return nil, fmt.Errorf("ledger: create pending outbound: %w", err)
	}
	return s.GetTransaction(ctx, q, t.ID)
}

// AttachToBroadcast binds every currently-pending outbound transaction to
// networkTxID, as the broadcaster's collect phase does when it groups
// pending sends into one outgoing network transaction. The rows stay in
// state 'pending' - they only become 'broadcasted' once the send phase
// actually hands them to the backend and commits (MarkBroadcastChildrenSent) -
// so an interrupted broadcast's children are never reported as sent when
// they may not have reached the network.
func (s *Store) AttachToBroadcast(ctx context.Context, q Queryer, transactionIDs []string, networkTxID string) error {
	for _, id := range transactionIDs {
		_, err := q.ExecContext(ctx, `
			UPDATE transactions
			SET network_transaction_id = $2
			WHERE id = $1 AND state = $3
		`, id, networkTxID, TxStatePending)
		if err != nil {
			return fmt.Errorf("ledger: attach to broadcast: %w", err)
		}
	}
	return nil
}

// MarkBroadcastChildrenSent transitions every pending child of networkTxID
// to 'broadcasted' with processed_at set, the send phase's final step once
// the backend has confirmed the bundle reached the network.
func (s *Store) MarkBroadcastChildrenSent(ctx context.Context, q Queryer, networkTxID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET state = $2, processed_at = now()
		WHERE network_transaction_id = $1 AND state = $3
	`, networkTxID, TxStateBroadcasted, TxStatePending)
	if err != nil {
		return fmt.Errorf("ledger: mark broadcast children sent: %w", err)
	}
	return nil
}

// ListPendingOutbound returns every transaction still awaiting broadcast
// that is not yet attached to a broadcast network transaction.
func (s *Store) ListPendingOutbound(ctx context.Context, q Queryer, walletID string) ([]*Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, wallet_id, amount, state, sending_account_id, receiving_account_id,
		       address_id, network_transaction_id, label, created_at, credited_at, processed_at
		FROM transactions
		WHERE wallet_id = $1 AND state = $2 AND receiving_account_id IS NULL AND network_transaction_id IS NULL
		ORDER BY created_at
	`, walletID, TxStatePending)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending outbound: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListBroadcastChildren returns the outbound transactions attached to a
// broadcast network transaction and still in 'pending' or 'broadcasted'
// state - excluding the network_fee row CreateFeeTransaction attaches to
// the same network transaction, which is not a send output and gets no
// txupdate of its own.
func (s *Store) ListBroadcastChildren(ctx context.Context, q Queryer, networkTxID string) ([]*Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, wallet_id, amount, state, sending_account_id, receiving_account_id,
		       address_id, network_transaction_id, label, created_at, credited_at, processed_at
		FROM transactions
		WHERE network_transaction_id = $1 AND state IN ($2, $3)
		ORDER BY created_at
	`, networkTxID, TxStatePending, TxStateBroadcasted)
	if err != nil {
		return nil, fmt.Errorf("ledger: list broadcast children: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateFeeTransaction debits the wallet's fee account and the wallet's
// aggregate balance by fee, attributing the cost of a broadcast to the
// reserved account that is allowed to go negative.
func (s *Store) CreateFeeTransaction(ctx context.Context, q Queryer, walletID, networkTxID string, fee Amount) (*Transaction, error) {
	feeAccount, err := s.FeeAccount(ctx, q, walletID)
	if err != nil {
		return nil, err
	}
	if err := s.adjustAccountBalance(ctx, q, feeAccount.ID, fee.Neg()); err != nil {
		return nil, err
	}
	if err := s.adjustWalletBalance(ctx, q, walletID, fee.Neg(), true); err != nil {
		return nil, err
	}

	t := &Transaction{
		ID:                   uuid.NewString(),
		WalletID:             walletID,
		Amount:               fee,
		State:                TxStateNetworkFee,
		SendingAccountID:     &feeAccount.ID,
		NetworkTransactionID: &networkTxID,
		Label:                "network fee",
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO transactions (id, wallet_id, amount, state, sending_account_id, network_transaction_id, label, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, t.ID, t.WalletID, t.Amount, t.State, t.SendingAccountID, t.NetworkTransactionID, t.Label)
	if err != nil {
		return nil, fmt.Errorf("ledger: create fee transaction: %w", err)
	}
	return s.GetTransaction(ctx, q, t.ID)
}

// UpsertDepositTransaction records the "incoming, not yet credited" shape
// of a deposit: a Transaction row exists from the moment it is first seen
// (even at 0 confirmations) so that ListOpen reporting is accurate before
// funds are actually spendable. The row is keyed by (network transaction,
// address), not by its current state, so a re-observation after the
// deposit has already been credited finds the same row instead of
// inserting a duplicate.
func (s *Store) UpsertDepositTransaction(ctx context.Context, q Queryer, walletID, addressID, networkTxID string, amount Amount) (*Transaction, error) {
	existing, err := s.getTransactionByNetworkTxAndAddress(ctx, q, networkTxID, addressID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	addr, err := s.GetAddress(ctx, q, addressID)
	if err != nil {
		return nil, err
	}
	if addr.ArchivedAt != nil {
		return nil, ErrAddressArchived
	}

	t := &Transaction{
		ID:                   uuid.NewString(),
		WalletID:             walletID,
		Amount:               amount,
		State:                TxStateIncoming,
		ReceivingAccountID:   addr.AccountID,
		AddressID:            &addressID,
		NetworkTransactionID: &networkTxID,
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO transactions (id, wallet_id, amount, state, receiving_account_id, address_id, network_transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.WalletID, t.Amount, t.State, t.ReceivingAccountID, t.AddressID, t.NetworkTransactionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: upsert deposit transaction: %w", err)
	}
	return s.GetTransaction(ctx, q, t.ID)
}

// CreditDeposit moves an 'incoming' deposit transaction to 'processed',
// crediting its receiving account and the wallet's aggregate balance. It
// is idempotent: calling it twice on an already-processed transaction is
// a no-op, which is how the updater guarantees a deposit is credited
// exactly once regardless of how many times its confirmation count is
// re-observed.
func (s *Store) CreditDeposit(ctx context.Context, q Queryer, transactionID string) error {
	t, err := s.GetTransaction(ctx, q, transactionID)
	if err != nil {
		return err
	}
	if t.State == TxStateProcessed {
		return nil
	}
	if t.State != TxStateIncoming || t.ReceivingAccountID == nil {
		return fmt.Errorf("ledger: transaction %s is not a creditable deposit", transactionID)
	}

	if err := s.adjustAccountBalance(ctx, q, *t.ReceivingAccountID, t.Amount); err != nil {
		return err
	}
	if t.AddressID != nil {
		if err := s.adjustAddressBalance(ctx, q, *t.AddressID, t.Amount); err != nil {
			return err
		}
	}
	if err := s.adjustWalletBalance(ctx, q, t.WalletID, t.Amount, true); err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		UPDATE transactions SET state = $2, credited_at = now(), processed_at = now()
		WHERE id = $1
	`, transactionID, TxStateProcessed)
	if err != nil {
		return fmt.Errorf("ledger: credit deposit: %w", err)
	}
	return nil
}

// ImportBalance credits account directly without a corresponding network
// transaction, for seeding a wallet's initial balance from an external
// source of truth (the balance_import feature).
func (s *Store) ImportBalance(ctx context.Context, q Queryer, walletID, accountID string, amount Amount, label string) (*Transaction, error) {
	if err := s.adjustAccountBalance(ctx, q, accountID, amount); err != nil {
		return nil, err
	}
	if err := s.adjustWalletBalance(ctx, q, walletID, amount, true); err != nil {
		return nil, err
	}

	t := &Transaction{
		ID:                 uuid.NewString(),
		WalletID:           walletID,
		Amount:             amount,
		State:              TxStateBalanceImport,
		ReceivingAccountID: &accountID,
		Label:              label,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (id, wallet_id, amount, state, receiving_account_id, label, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, t.ID, t.WalletID, t.Amount, t.State, t.ReceivingAccountID, t.Label)
	if err != nil {
		return nil, fmt.Errorf("ledger: import balance: %w", err)
	}
	return s.GetTransaction(ctx, q, t.ID)
}

// ListOpen returns a wallet's transactions in state pending, broadcasted
// or incoming - sends not yet broadcast, broadcast sends, and uncredited
// deposits. Internal transfers, fees and balance imports are not included.
func (s *Store) ListOpen(ctx context.Context, q Queryer, walletID string) ([]*Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, wallet_id, amount, state, sending_account_id, receiving_account_id,
		       address_id, network_transaction_id, label, created_at, credited_at, processed_at
		FROM transactions
		WHERE wallet_id = $1 AND state IN ($2, $3, $4)
		ORDER BY created_at
	`, walletID, TxStatePending, TxStateBroadcasted, TxStateIncoming)
	if err != nil {
		return nil, fmt.Errorf("ledger: list open transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTransaction fetches a transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, q Queryer, id string) (*Transaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, wallet_id, amount, state, sending_account_id, receiving_account_id,
		       address_id, network_transaction_id, label, created_at, credited_at, processed_at
		FROM transactions WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func (s *Store) getTransactionByNetworkTxAndAddress(ctx context.Context, q Queryer, networkTxID, addressID string) (*Transaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, wallet_id, amount, state, sending_account_id, receiving_account_id,
		       address_id, network_transaction_id, label, created_at, credited_at, processed_at
		FROM transactions WHERE network_transaction_id = $1 AND address_id = $2
	`, networkTxID, addressID)
	return scanTransaction(row)
}

func scanTransaction(row *sql.Row) (*Transaction, error) {
	t := &Transaction{}
	err := row.Scan(&t.ID, &t.WalletID, &t.Amount, &t.State, &t.SendingAccountID, &t.ReceivingAccountID,
		&t.AddressID, &t.NetworkTransactionID, &t.Label, &t.CreatedAt, &t.CreditedAt, &t.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan transaction: %w", err)
	}
	return t, nil
}

func scanTransactionRows(rows *sql.Rows) (*Transaction, error) {
	t := &Transaction{}
	if err := rows.Scan(&t.ID, &t.WalletID, &t.Amount, &t.State, &t.SendingAccountID, &t.ReceivingAccountID,
		&t.AddressID, &t.NetworkTransactionID, &t.Label, &t.CreatedAt, &t.CreditedAt, &t.ProcessedAt); err != nil {
		return nil, fmt.Errorf("ledger: scan transaction: %w", err)
	}
	return t, nil
}
