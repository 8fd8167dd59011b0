package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// GetOrCreateDepositNetworkTransaction returns the 'deposit' network
// transaction for txid, creating an 'incoming' one if this is the first
// time it has been seen. Dedup is scoped to (type, txid): a self-send's
// matching 'broadcast' row, if any, is a distinct record. The returned bool
// is true when this call created the row - the TransactionUpdater skips its
// no-op-on-unchanged-confirmations check for a row it just created, since a
// brand new row's first sighting always needs processing even when the
// backend's reported confirmations happen to match the zero default.
func (s *Store) GetOrCreateDepositNetworkTransaction(ctx context.Context, q Queryer, txid string) (*NetworkTransaction, bool, error) {
	existing, err := s.GetNetworkTransactionByTxid(ctx, q, NetworkTxDeposit, txid)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNetworkTxNotFound) {
		return nil, false, err
	}

	n := &NetworkTransaction{
		ID:    uuid.NewString(),
		Txid:  &txid,
		Type:  NetworkTxDeposit,
		State: NetworkStateIncoming,
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO network_transactions (id, txid, type, state, confirmations)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (type, txid) DO NOTHING
	`, n.ID, n.Txid, n.Type, n.State)
	if err != nil {
		return nil, false, fmt.Errorf("ledger: create deposit network tx: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("ledger: create deposit network tx: %w", err)
	}
	created := rows > 0

	n, err = s.GetNetworkTransactionByTxid(ctx, q, NetworkTxDeposit, txid)
	if err != nil {
		return nil, false, err
	}
	return n, created, nil
}

// CreateBroadcastNetworkTransaction creates a new 'pending' broadcast
// network transaction with no txid yet - it acquires one when the
// broadcaster's send phase succeeds.
func (s *Store) CreateBroadcastNetworkTransaction(ctx context.Context, q Queryer) (*NetworkTransaction, error) {
	n := &NetworkTransaction{
		ID:    uuid.NewString(),
		Type:  NetworkTxBroadcast,
		State: NetworkStatePending,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO network_transactions (id, txid, type, state, confirmations)
		VALUES ($1, NULL, $2, $3, 0)
	`, n.ID, n.Type, n.State)
	if err != nil {
		return nil, fmt.Errorf("ledger: create broadcast network tx: %w", err)
	}
	return s.GetNetworkTransaction(ctx, q, n.ID)
}

// OpenBroadcast marks a pending broadcast as opened (about to be sent to
// the backend). If the process dies before CloseBroadcast, this timestamp
// is how ListInterruptedBroadcasts finds it on restart.
func (s *Store) OpenBroadcast(ctx context.Context, q Queryer, id string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE network_transactions SET opened_at = now()
		WHERE id = $1 AND type = $2 AND opened_at IS NULL
	`, id, NetworkTxBroadcast)
	if err != nil {
		return fmt.Errorf("ledger: open broadcast: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: open broadcast: %w", err)
	}
	if n == 0 {
		return ErrBroadcastAlreadyOpen
	}
	return nil
}

// CloseBroadcast records the txid a successful send obtained and marks the
// network transaction broadcasted, completing the exactly-once send
// state machine's final transition.
func (s *Store) CloseBroadcast(ctx context.Context, q Queryer, id, txid string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE network_transactions
		SET txid = $2, state = $3, closed_at = now()
		WHERE id = $1 AND type = $4 AND opened_at IS NOT NULL AND closed_at IS NULL
	`, id, txid, NetworkStateBroadcasted, NetworkTxBroadcast)
	if err != nil {
		return fmt.Errorf("ledger: close broadcast: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: close broadcast: %w", err)
	}
	if n == 0 {
		return ErrBroadcastNotOpen
	}
	return nil
}

// ListInterruptedBroadcasts returns every broadcast network transaction
// that was opened but never closed - the set a restarting service must
// surface rather than silently retry, per the exactly-once send contract.
func (s *Store) ListInterruptedBroadcasts(ctx context.Context, q Queryer) ([]*NetworkTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, txid, type, state, confirmations, opened_at, closed_at, created_at
		FROM network_transactions
		WHERE type = $1 AND opened_at IS NOT NULL AND closed_at IS NULL
		ORDER BY opened_at
	`, NetworkTxBroadcast)
	if err != nil {
		return nil, fmt.Errorf("ledger: list interrupted broadcasts: %w", err)
	}
	defer rows.Close()

	var out []*NetworkTransaction
	for rows.Next() {
		n, err := scanNetworkTxRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListUnopenedBroadcasts returns broadcast network transactions for coin
// whose children have already been attached by the collect phase (so they
// are no longer found by ListPendingOutbound) but that never reached
// OpenBroadcast - e.g. a non-retried conflict in the send phase's opening
// transaction, or a crash in that same narrow window. ListInterruptedBroadcasts
// does not see these either, since opened_at is still NULL; without this
// scan such a row is permanently orphaned even though its wallet and
// account were already debited when each send was created.
func (s *Store) ListUnopenedBroadcasts(ctx context.Context, q Queryer, coin string) ([]*NetworkTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT nt.id, nt.txid, nt.type, nt.state, nt.confirmations, nt.opened_at, nt.closed_at, nt.created_at
		FROM network_transactions nt
		JOIN transactions t ON t.network_transaction_id = nt.id
		JOIN wallets w ON w.id = t.wallet_id
		WHERE nt.type = $1 AND nt.state = $2 AND nt.opened_at IS NULL AND w.coin = $3
		ORDER BY nt.created_at
	`, NetworkTxBroadcast, NetworkStatePending, coin)
	if err != nil {
		return nil, fmt.Errorf("ledger: list unopened broadcasts: %w", err)
	}
	defer rows.Close()

	var out []*NetworkTransaction
	for rows.Next() {
		n, err := scanNetworkTxRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateNetworkTransactionConfirmations sets the confirmation count. The
// caller (TransactionUpdater) is responsible for only ever increasing it.
func (s *Store) UpdateNetworkTransactionConfirmations(ctx context.Context, q Queryer, id string, confirmations int) error {
	_, err := q.ExecContext(ctx, `
		UPDATE network_transactions SET confirmations = $2 WHERE id = $1
	`, id, confirmations)
	if err != nil {
		return fmt.Errorf("ledger: update confirmations: %w", err)
	}
	return nil
}

// MarkNetworkTransactionCredited transitions an incoming deposit to
// credited, once TransactionUpdater has created its ledger Transaction.
func (s *Store) MarkNetworkTransactionCredited(ctx context.Context, q Queryer, id string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE network_transactions SET state = $2 WHERE id = $1
	`, id, NetworkStateCredited)
	if err != nil {
		return fmt.Errorf("ledger: mark credited: %w", err)
	}
	return nil
}

// GetNetworkTransaction fetches a network transaction by ID.
func (s *Store) GetNetworkTransaction(ctx context.Context, q Queryer, id string) (*NetworkTransaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, txid, type, state, confirmations, opened_at, closed_at, created_at
		FROM network_transactions WHERE id = $1
	`, id)
	return scanNetworkTx(row)
}

// GetNetworkTransactionByTxid looks a network transaction up by its
// (type, txid) unique key.
func (s *Store) GetNetworkTransactionByTxid(ctx context.Context, q Queryer, txType NetworkTransactionType, txid string) (*NetworkTransaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, txid, type, state, confirmations, opened_at, closed_at, created_at
		FROM network_transactions WHERE type = $1 AND txid = $2
	`, txType, txid)
	return scanNetworkTx(row)
}

// ListOpenNetworkTransactions returns every network transaction not yet in
// its terminal state for confirmation tracking purposes. 'credited' is a
// legitimate terminal exclusion (a deposit's confirmations are never
// rechecked once its funds are spendable), but 'broadcasted' is not: a
// broadcast's confirmations keep accruing, and callers (the confirmation
// poller) still need to see it until its own confirmations cross their
// threshold, which they check against the Confirmations field returned
// here.
func (s *Store) ListOpenNetworkTransactions(ctx context.Context, q Queryer) ([]*NetworkTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, txid, type, state, confirmations, opened_at, closed_at, created_at
		FROM network_transactions
		WHERE state != $1 AND txid IS NOT NULL
		ORDER BY created_at
	`, NetworkStateCredited)
	if err != nil {
		return nil, fmt.Errorf("ledger: list open network transactions: %w", err)
	}
	defer rows.Close()

	var out []*NetworkTransaction
	for rows.Next() {
		n, err := scanNetworkTxRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListConfirmedTxids returns the txids of every network transaction with
// at least minConfirmations, for idempotent processed-state sweeps.
func (s *Store) ListConfirmedTxids(ctx context.Context, q Queryer, minConfirmations int) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT txid FROM network_transactions
		WHERE txid IS NOT NULL AND confirmations >= $1
	`, minConfirmations)
	if err != nil {
		return nil, fmt.Errorf("ledger: list confirmed txids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var txid string
		if err := rows.Scan(&txid); err != nil {
			return nil, fmt.Errorf("ledger: scan txid: %w", err)
		}
		out = append(out, txid)
	}
	return out, rows.Err()
}

func scanNetworkTx(row *sql.Row) (*NetworkTransaction, error) {
	n := &NetworkTransaction{}
	err := row.Scan(&n.ID, &n.Txid, &n.Type, &n.State, &n.Confirmations, &n.OpenedAt, &n.ClosedAt, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNetworkTxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan network transaction: %w", err)
	}
	return n, nil
}

func scanNetworkTxRows(rows *sql.Rows) (*NetworkTransaction, error) {
	n := &NetworkTransaction{}
	if err := rows.Scan(&n.ID, &n.Txid, &n.Type, &n.State, &n.Confirmations, &n.OpenedAt, &n.ClosedAt, &n.CreatedAt); err != nil {
		return nil, fmt.Errorf("ledger: scan network transaction: %w", err)
	}
	return n, nil
}
