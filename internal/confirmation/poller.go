// Package confirmation implements the ConfirmationPoller: the background
// cycle that re-checks a backend's confirmation count for every network
// transaction still short of its tracked threshold, and feeds any change
// through the TransactionUpdater.
package confirmation

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/klingon-exchange/ledgerd/internal/backend"
	"github.com/klingon-exchange/ledgerd/internal/ledger"
	"github.com/klingon-exchange/ledgerd/internal/updater"
	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// Poller periodically refreshes confirmation counts for one coin's still-open
// network transactions.
type Poller struct {
	store   *ledger.Store
	backend backend.Backend
	updater *updater.Updater
	coin    string
	log     *logging.Logger

	polls   atomic.Int64
	updated atomic.Int64
}

// New builds a Poller for a single coin.
func New(store *ledger.Store, b backend.Backend, u *updater.Updater, coin string) *Poller {
	return &Poller{
		store:   store,
		backend: b,
		updater: u,
		coin:    coin,
		log:     logging.GetDefault().Component("confirmation-" + coin),
	}
}

// Polls returns the number of Run invocations so far.
func (p *Poller) Polls() int64 { return p.polls.Load() }

// Updated returns the number of network transactions whose confirmation
// count this Poller has pushed through the updater so far.
func (p *Poller) Updated() int64 { return p.updated.Load() }

// Run executes one poll cycle: every open network transaction short of the
// backend's tracked confirmation ceiling gets re-fetched and reconciled. A
// single txid's failure is logged and skipped; it is not fatal to the cycle,
// since the next tick retries it naturally.
func (p *Poller) Run(ctx context.Context) error {
	p.polls.Add(1)

	threshold := p.backend.MaxTrackedIncomingConfirmations()

	open, err := p.store.ListOpenNetworkTransactions(ctx, p.store.DB())
	if err != nil {
		return fmt.Errorf("confirmation: list open network transactions: %w", err)
	}

	for _, ntx := range open {
		if ntx.Txid == nil {
			continue
		}
		if !needsRecheck(ntx.Confirmations, threshold) {
			continue
		}

		info, err := p.backend.GetTransaction(ctx, *ntx.Txid)
		if err != nil {
			p.log.Error("confirmation poll fetch failed", "txid", *ntx.Txid, "error", err)
			continue
		}

		if _, err := p.updater.UpdateNetworkTransactionConfirmations(ctx, ntx.Type, *ntx.Txid, info); err != nil {
			p.log.Error("confirmation poll reconcile failed", "txid", *ntx.Txid, "error", err)
			continue
		}
		p.updated.Add(1)
	}
	return nil
}

// needsRecheck reports whether a network transaction still short of the
// backend's tracked confirmation ceiling is worth re-fetching. This applies
// equally to a still-incoming deposit and an already-broadcasted send: a
// broadcast's confirmations keep accruing after it closes, so reaching the
// 'broadcasted' state is not on its own a reason to stop tracking it.
func needsRecheck(confirmations, threshold int) bool {
	return confirmations < threshold
}
