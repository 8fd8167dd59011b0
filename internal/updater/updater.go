// Package updater implements the TransactionUpdater: the sole primitive
// that reconciles a backend-reported network transaction's state into the
// ledger. It is the central write path every notifier, the confirmation
// poller, and the receive scanner all funnel through.
package updater

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/klingon-exchange/ledgerd/internal/backend"
	"github.com/klingon-exchange/ledgerd/internal/conflict"
	"github.com/klingon-exchange/ledgerd/internal/events"
	"github.com/klingon-exchange/ledgerd/internal/ledger"
	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// ErrCorruptNetworkTransaction is returned when a broadcast update arrives
// for a txid the broadcaster never opened, or when a row's stored type
// disagrees with the update's claimed type - both indicate a bug elsewhere,
// never a condition to retry past.
var ErrCorruptNetworkTransaction = errors.New("updater: corrupt network transaction state")

// Updater reconciles one coin's backend-reported transaction updates into
// the ledger.
type Updater struct {
	store                 *ledger.Store
	resolver              *conflict.Resolver
	registry              *events.Registry
	coin                  *ledger.CoinDescriptor
	confirmationThreshold int
	log                   *logging.Logger

	count int
}

// New builds an Updater for a single coin. confirmationThreshold is the
// confirmation count at which a deposit is credited - distinct from (and
// normally less than or equal to) a backend's
// MaxTrackedIncomingConfirmations, which only bounds how long the poller
// keeps re-checking.
func New(store *ledger.Store, resolver *conflict.Resolver, registry *events.Registry, coin *ledger.CoinDescriptor, confirmationThreshold int) *Updater {
	return &Updater{
		store:                  store,
		resolver:               resolver,
		registry:               registry,
		coin:                   coin,
		confirmationThreshold:  confirmationThreshold,
		log:                    logging.GetDefault().Component("updater-" + coin.Symbol),
	}
}

// HandleWalletNotify is the sole entry point for live updates: it asks b
// for the current state of txid and reconciles it into the ledger. It is
// called by every IncomingNotifier transport and by the receive scanner.
func (u *Updater) HandleWalletNotify(ctx context.Context, b backend.Backend, txid string) error {
	info, err := b.GetTransaction(ctx, txid)
	if err != nil {
		return fmt.Errorf("updater: fetch transaction %s: %w", txid, err)
	}
	_, err = u.UpdateNetworkTransactionConfirmations(ctx, ledger.NetworkTxDeposit, txid, info)
	return err
}

// UpdateNetworkTransactionConfirmations creates or updates the
// NetworkTransaction for (txType, txid), reconciles every affected
// Transaction row, and delivers the resulting txupdate events after the
// managed transaction commits. It returns the network transaction's id.
func (u *Updater) UpdateNetworkTransactionConfirmations(ctx context.Context, txType ledger.NetworkTransactionType, txid string, info *backend.TxInfo) (string, error) {
	var ntxID string
	var pending []events.Event

	err := u.resolver.Managed(ctx, func(ctx context.Context, tx *sql.Tx) error {
		pending = nil // reset: a retried attempt must not carry over a previous attempt's events

		ntx, changed, err := u.resolveNetworkTransaction(ctx, tx, txType, txid, info.Confirmations)
		if err != nil {
			return err
		}
		ntxID = ntx.ID
		if !changed {
			return nil
		}

		u.count++
		u.log.Info("updating network transaction", "id", ntx.ID, "type", ntx.Type, "txid", txid, "confirmations", info.Confirmations)

		switch txType {
		case ledger.NetworkTxDeposit:
			evs, err := u.reconcileDeposit(ctx, tx, ntx, info)
			if err != nil {
				return err
			}
			pending = evs
		case ledger.NetworkTxBroadcast:
			evs, err := u.reconcileBroadcast(ctx, tx, ntx, info)
			if err != nil {
				return err
			}
			pending = evs
		default:
			return fmt.Errorf("%w: unknown transaction type %q", ErrCorruptNetworkTransaction, txType)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	// Event delivery happens strictly after the commit: a failing sink must
	// never roll back the ledger.
	for _, e := range pending {
		u.registry.Dispatch(e)
	}
	return ntxID, nil
}

// resolveNetworkTransaction implements step 1-3: get-or-create the row,
// verify its type matches, and report whether confirmations actually
// changed (the no-op-on-unchanged-confirmations short circuit).
func (u *Updater) resolveNetworkTransaction(ctx context.Context, tx *sql.Tx, txType ledger.NetworkTransactionType, txid string, confirmations int) (*ledger.NetworkTransaction, bool, error) {
	var ntx *ledger.NetworkTransaction
	var created bool
	var err error

	switch txType {
	case ledger.NetworkTxDeposit:
		ntx, created, err = u.store.GetOrCreateDepositNetworkTransaction(ctx, tx, txid)
		if err != nil {
			return nil, false, err
		}
	case ledger.NetworkTxBroadcast:
		ntx, err = u.store.GetNetworkTransactionByTxid(ctx, tx, ledger.NetworkTxBroadcast, txid)
		if errors.Is(err, ledger.ErrNetworkTxNotFound) {
			return nil, false, fmt.Errorf("%w: broadcast %s was never opened by the broadcaster", ErrCorruptNetworkTransaction, txid)
		}
		if err != nil {
			return nil, false, err
		}
	default:
		return nil, false, fmt.Errorf("%w: unknown transaction type %q", ErrCorruptNetworkTransaction, txType)
	}

	if ntx.Type != txType {
		return nil, false, fmt.Errorf("%w: %s is stored as %s, got update claiming %s", ErrCorruptNetworkTransaction, txid, ntx.Type, txType)
	}

	if !confirmationsChanged(created, ntx.Confirmations, confirmations) {
		return ntx, false, nil
	}

	if err := u.store.UpdateNetworkTransactionConfirmations(ctx, tx, ntx.ID, confirmations); err != nil {
		return nil, false, err
	}
	ntx.Confirmations = confirmations
	return ntx, true, nil
}

// reconcileDeposit implements step 4: walk the backend's reported details,
// sum receive amounts per known deposit address, and credit each one whose
// confirmations have crossed the threshold.
func (u *Updater) reconcileDeposit(ctx context.Context, tx *sql.Tx, ntx *ledger.NetworkTransaction, info *backend.TxInfo) ([]events.Event, error) {
	perAddress := sumReceivedByAddress(info.Details)

	var out []events.Event
	for address, amount := range perAddress {
		if !amount.IsPositive() {
			continue
		}

		addr, err := u.store.FindDepositAddressByString(ctx, tx, u.coin.Symbol, address)
		if errors.Is(err, ledger.ErrAddressNotFound) {
			u.log.Info("skipping notify for unknown address", "address", address, "amount", amount)
			continue
		}
		if err != nil {
			return nil, err
		}

		txn, err := u.store.UpsertDepositTransaction(ctx, tx, addr.WalletID, addr.ID, ntx.ID, amount)
		if err != nil {
			return nil, err
		}

		u.verifyAmount(txn.Amount, amount, address)

		wasCredited := txn.State == ledger.TxStateProcessed
		if depositShouldCredit(txn.State, ntx.Confirmations, u.confirmationThreshold) {
			if err := u.store.CreditDeposit(ctx, tx, txn.ID); err != nil {
				return nil, err
			}
			if err := u.store.MarkNetworkTransactionCredited(ctx, tx, ntx.ID); err != nil {
				return nil, err
			}
			wasCredited = true
		}

		credited := wasCredited
		out = append(out, events.Event{
			Name: events.TxUpdate,
			Data: events.TxUpdateData{
				CoinName:           u.coin.Symbol,
				NetworkTransaction: ntx.ID,
				Transaction:        txn.ID,
				TransactionType:    string(ledger.NetworkTxDeposit),
				Txid:               valueOrEmpty(ntx.Txid),
				Account:            valueOrEmpty(addr.AccountID),
				Address:            address,
				Amount:             txn.Amount,
				Confirmations:      ntx.Confirmations,
				Credited:           &credited,
			},
		})
	}
	return out, nil
}

// reconcileBroadcast implements step 5: every pending/broadcasted child of
// this network transaction gets a txupdate event; the sending account was
// already debited when the pending send was created
// (ledger.Store.CreatePendingOutbound).
func (u *Updater) reconcileBroadcast(ctx context.Context, tx *sql.Tx, ntx *ledger.NetworkTransaction, info *backend.TxInfo) ([]events.Event, error) {
	children, err := u.store.ListBroadcastChildren(ctx, tx, ntx.ID)
	if err != nil {
		return nil, err
	}

	var sent ledger.Amount
	for _, d := range info.Details {
		if d.IsSend {
			sent = sent.Add(d.Amount)
		}
	}
	if len(children) > 0 {
		var total ledger.Amount
		for _, c := range children {
			total = total.Add(c.Amount)
		}
		u.verifyAmount(total, sent, valueOrEmpty(ntx.Txid))
	}

	out := make([]events.Event, 0, len(children))
	for _, c := range children {
		out = append(out, events.Event{
			Name: events.TxUpdate,
			Data: events.TxUpdateData{
				CoinName:           u.coin.Symbol,
				NetworkTransaction: ntx.ID,
				Transaction:        c.ID,
				TransactionType:    string(ledger.NetworkTxBroadcast),
				Txid:               valueOrEmpty(ntx.Txid),
				Account:            valueOrEmpty(c.SendingAccountID),
				Amount:             c.Amount,
				Confirmations:      ntx.Confirmations,
			},
		})
	}
	return out, nil
}

// verifyAmount logs a warning when the backend's reported detail sum
// disagrees with the ledger's own recorded amount. This never blocks
// crediting: the ledger's amount is authoritative for internal accounting,
// the warning only signals possible drift worth investigating.
func (u *Updater) verifyAmount(stored, reported ledger.Amount, address string) {
	if stored.Cmp(reported) != 0 {
		u.log.Warn("verify_amount mismatch", "address", address, "stored", stored, "reported", reported)
	}
}

// confirmationsChanged reports whether a freshly observed confirmation
// count requires a database write: a row just created by this call always
// needs its first write (a brand new row's zero-confirmation default is not
// the same event as "nothing changed"), and an existing row only needs one
// when the observed count exceeds what is already stored; a lower observed
// count keeps the stored value. This is what lets re-delivery of the same
// wallet-notify event - the same txid at the same confirmation count -
// settle into a true no-op instead of reprocessing every downstream effect.
func confirmationsChanged(created bool, stored, observed int) bool {
	return created || observed > stored
}

// depositShouldCredit reports whether a deposit transaction should be
// credited on this reconciliation pass: it must not already be in its
// terminal 'processed' state, and the network transaction's confirmations
// must have reached the coin's threshold. Once a deposit is processed this
// is always false regardless of how many more times its confirmations are
// re-observed, which is what makes crediting happen exactly once.
func depositShouldCredit(current ledger.TransactionState, confirmations, threshold int) bool {
	return current != ledger.TxStateProcessed && confirmations >= threshold
}

// sumReceivedByAddress sums the receive-side details of a backend's
// reported transaction per destination address, filtering out the send
// side - the half of a self-send transaction that belongs to the matching
// broadcast row, never this deposit row.
func sumReceivedByAddress(details []backend.TxDetail) map[string]ledger.Amount {
	out := make(map[string]ledger.Amount)
	for _, d := range details {
		if d.IsSend {
			continue
		}
		out[d.Address] = out[d.Address].Add(d.Amount)
	}
	return out
}

func valueOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Count returns the number of network transaction updates processed so far.
func (u *Updater) Count() int { return u.count }
