// Package broadcaster bundles a wallet's pending outbound transactions
// into a single network broadcast per cycle, with exactly-once send
// semantics under crash and contention: a broadcast row is marked opened
// before the backend is ever asked to send, and a process that dies
// between open and close leaves the row for an operator to reconcile -
// it is never auto-retried.
package broadcaster

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/klingon-exchange/ledgerd/internal/backend"
	"github.com/klingon-exchange/ledgerd/internal/conflict"
	"github.com/klingon-exchange/ledgerd/internal/ledger"
	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// Broadcaster runs the collect/send cycle for every wallet of one coin.
type Broadcaster struct {
	store    *ledger.Store
	resolver *conflict.Resolver
	backend  backend.Backend
	coin     string
	log      *logging.Logger

	cycles atomic.Int64
	sent   atomic.Int64
}

// New builds a Broadcaster for a single coin's backend.
func New(store *ledger.Store, resolver *conflict.Resolver, b backend.Backend, coin string) *Broadcaster {
	return &Broadcaster{
		store:    store,
		resolver: resolver,
		backend:  b,
		coin:     coin,
		log:      logging.GetDefault().Component("broadcaster-" + coin),
	}
}

// Cycles returns the number of Run invocations so far.
func (b *Broadcaster) Cycles() int64 { return b.cycles.Load() }

// Sent returns the number of broadcasts this Broadcaster has successfully
// closed (reached closed_at != NULL).
func (b *Broadcaster) Sent() int64 { return b.sent.Load() }

// Run executes one cycle across every wallet of this coin: collect newly
// pending sends into a fresh broadcast network transaction, then send it.
// A failure on one wallet does not prevent the others from running; their
// errors are collected and the first is returned.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.cycles.Add(1)

	wallets, err := b.store.ListWalletsByCoin(ctx, b.store.DB(), b.coin)
	if err != nil {
		return fmt.Errorf("broadcaster: list wallets: %w", err)
	}

	var firstErr error
	for _, w := range wallets {
		if err := b.runWallet(ctx, w.ID); err != nil {
			b.log.Error("broadcaster cycle failed for wallet", "wallet", w.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := b.retryUnopened(ctx); err != nil {
		b.log.Error("broadcaster cycle failed retrying unopened broadcasts", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// retryUnopened re-drives every broadcast whose children were collected but
// that never reached OpenBroadcast (see ledger.Store.ListUnopenedBroadcasts).
// Each is safe to hand straight to send: its children are already attached,
// and OpenBroadcast itself is what actually claims the row.
func (b *Broadcaster) retryUnopened(ctx context.Context) error {
	unopened, err := b.store.ListUnopenedBroadcasts(ctx, b.store.DB(), b.coin)
	if err != nil {
		return fmt.Errorf("list unopened broadcasts: %w", err)
	}

	var firstErr error
	for _, ntx := range unopened {
		b.log.Error("broadcast collected but never opened; retrying", "network_transaction", ntx.ID)
		if err := b.send(ctx, ntx.ID); err != nil {
			b.log.Error("retry of unopened broadcast failed", "network_transaction", ntx.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *Broadcaster) runWallet(ctx context.Context, walletID string) error {
	ntxID, err := b.collect(ctx, walletID)
	if err != nil {
		return fmt.Errorf("collect phase: %w", err)
	}
	if ntxID == "" {
		return nil
	}
	return b.send(ctx, ntxID)
}

// collect implements the spec's retryable collect phase: find every
// pending outbound transaction in the wallet and, if any exist, bind them
// all to one freshly created broadcast network transaction. It is safe to
// retry since it performs no external I/O. Returns an empty id when
// nothing was pending.
func (b *Broadcaster) collect(ctx context.Context, walletID string) (string, error) {
	var ntxID string
	err := b.resolver.Managed(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ntxID = ""

		pending, err := b.store.ListPendingOutbound(ctx, tx, walletID)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		ntx, err := b.store.CreateBroadcastNetworkTransaction(ctx, tx)
		if err != nil {
			return err
		}

		ids := make([]string, len(pending))
		for i, t := range pending {
			ids[i] = t.ID
		}
		if err := b.store.AttachToBroadcast(ctx, tx, ids, ntx.ID); err != nil {
			return err
		}

		ntxID = ntx.ID
		return nil
	})
	return ntxID, err
}

// send implements the spec's non-retryable send phase for a single
// broadcast row: open it, aggregate its children's outputs, call the
// backend exactly once, then close it and charge the reported fee.
func (b *Broadcaster) send(ctx context.Context, ntxID string) error {
	var walletID string
	var outputs map[string]ledger.Amount

	err := b.resolver.NonRetryable(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := b.store.OpenBroadcast(ctx, tx, ntxID); err != nil {
			return err
		}

		children, err := b.store.ListBroadcastChildren(ctx, tx, ntxID)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return fmt.Errorf("%w: broadcast %s", ledger.ErrNothingToBroadcast, ntxID)
		}
		walletID = children[0].WalletID

		pairs := make([]output, 0, len(children))
		for _, c := range children {
			if c.AddressID == nil {
				continue
			}
			addr, err := b.store.GetAddress(ctx, tx, *c.AddressID)
			if err != nil {
				return err
			}
			pairs = append(pairs, output{address: addr.Address, amount: c.Amount})
		}
		outputs = sumOutputs(pairs)
		return nil
	})
	if err != nil {
		return fmt.Errorf("open broadcast %s: %w", ntxID, err)
	}

	// The one uncontrolled step: a crash or transient failure here leaves
	// the network transaction opened-but-not-closed. That row is never
	// auto-retried; it surfaces on the next startup's ListInterrupted scan
	// for an operator to reconcile manually.
	txid, fee, err := b.backend.Send(ctx, outputs)
	if err != nil {
		b.log.Error("backend send failed; broadcast left open for manual reconciliation",
			"network_transaction", ntxID, "error", err)
		return fmt.Errorf("backend send for %s: %w", ntxID, err)
	}

	err = b.resolver.NonRetryable(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := b.store.CloseBroadcast(ctx, tx, ntxID, txid); err != nil {
			return err
		}
		return b.store.MarkBroadcastChildrenSent(ctx, tx, ntxID)
	})
	if err != nil {
		// The backend already broadcast this; closing the row failed. The
		// network transaction is now in the opened/sent-but-not-closed
		// state the interrupted-broadcast scan also surfaces, even though
		// here we know for certain (rather than suspect) the send reached
		// the network.
		return fmt.Errorf("close broadcast %s (sent as %s): %w", ntxID, txid, err)
	}
	b.sent.Add(1)
	b.log.Info("broadcast closed", "network_transaction", ntxID, "txid", txid, "fee", fee)

	if fee.IsPositive() {
		err := b.resolver.Managed(ctx, func(ctx context.Context, tx *sql.Tx) error {
			_, err := b.store.CreateFeeTransaction(ctx, tx, walletID, ntxID, fee)
			return err
		})
		if err != nil {
			b.log.Error("failed to record network fee", "network_transaction", ntxID, "fee", fee, "error", err)
			return fmt.Errorf("record fee for %s: %w", ntxID, err)
		}
	}
	return nil
}

// ListInterrupted returns broadcast network transactions opened but never
// closed. A restarting service surfaces these for an operator - they must
// never be auto-retried, since the backend's send call may or may not
// have reached the network.
func (b *Broadcaster) ListInterrupted(ctx context.Context) ([]*ledger.NetworkTransaction, error) {
	return b.store.ListInterruptedBroadcasts(ctx, b.store.DB())
}

// ListUnopened returns broadcast network transactions collected but never
// opened - the counterpart to ListInterrupted for the other half of the
// exactly-once send state machine that can get stuck. Run retries these
// automatically every cycle; this accessor is for startup/status reporting.
func (b *Broadcaster) ListUnopened(ctx context.Context) ([]*ledger.NetworkTransaction, error) {
	return b.store.ListUnopenedBroadcasts(ctx, b.store.DB(), b.coin)
}

type output struct {
	address string
	amount  ledger.Amount
}

// sumOutputs collapses per-child (address, amount) pairs into the
// address->amount map backend.Send expects, summing amounts that share a
// destination address.
func sumOutputs(pairs []output) map[string]ledger.Amount {
	out := make(map[string]ledger.Amount, len(pairs))
	for _, p := range pairs {
		out[p.address] = out[p.address].Add(p.amount)
	}
	return out
}
