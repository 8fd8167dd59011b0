// Package scanner implements the ReceiveScanner: the one-shot startup pass
// that reconciles every ledger-known address against a backend's
// transaction history, so deposits that arrived while the service was down
// are not missed.
package scanner

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/klingon-exchange/ledgerd/internal/backend"
	"github.com/klingon-exchange/ledgerd/internal/ledger"
	"github.com/klingon-exchange/ledgerd/internal/updater"
	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// Scanner runs a single reconciliation pass over one coin's backend.
type Scanner struct {
	store   *ledger.Store
	backend backend.Backend
	updater *updater.Updater
	coin    string
	log     *logging.Logger

	seen    atomic.Int64
	handled atomic.Int64
}

// New builds a Scanner for a single coin.
func New(store *ledger.Store, b backend.Backend, u *updater.Updater, coin string) *Scanner {
	return &Scanner{
		store:   store,
		backend: b,
		updater: u,
		coin:    coin,
		log:     logging.GetDefault().Component("scanner-" + coin),
	}
}

// Seen returns the number of backend-reported transactions examined.
func (s *Scanner) Seen() int64 { return s.seen.Load() }

// Handled returns the number that were new and passed to the updater.
func (s *Scanner) Handled() int64 { return s.handled.Load() }

// Scan walks the backend's received-transaction history from the start,
// crediting anything touching a ledger address that is not already past
// the backend's own tracked confirmation ceiling. The service runs it once
// per coin at startup, after starting the notifiers and concurrently with
// the scheduled broadcaster and confirmation-poller cycles.
func (s *Scanner) Scan(ctx context.Context) error {
	addrs, err := s.knownAddresses(ctx)
	if err != nil {
		return fmt.Errorf("scanner: load known addresses: %w", err)
	}
	if len(addrs) == 0 {
		s.log.Info("no deposit addresses to reconcile, skipping scan")
		return nil
	}

	threshold := s.backend.MaxTrackedIncomingConfirmations()
	exclude, err := s.store.ListConfirmedTxids(ctx, s.store.DB(), threshold)
	if err != nil {
		return fmt.Errorf("scanner: load confirmed txids: %w", err)
	}
	excluded := make(map[string]bool, len(exclude))
	for _, txid := range exclude {
		excluded[txid] = true
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		txs, next, err := s.backend.ListReceivedTransactions(ctx, cursor)
		if err != nil {
			return fmt.Errorf("scanner: list received transactions: %w", err)
		}
		if len(txs) == 0 {
			break
		}

		for _, info := range txs {
			s.seen.Add(1)
			if excluded[info.Txid] {
				continue
			}
			if !touchesAny(info.Details, addrs) {
				continue
			}
			if err := s.updater.HandleWalletNotify(ctx, s.backend, info.Txid); err != nil {
				s.log.Error("scan reconcile failed", "txid", info.Txid, "error", err)
				continue
			}
			s.handled.Add(1)
		}

		if next == "" || next == cursor {
			break
		}
		cursor = next
	}

	s.log.Info("receive scan complete", "coin", s.coin, "seen", s.Seen(), "handled", s.Handled())
	return nil
}

// knownAddresses collects every deposit address string across every wallet
// of this coin.
func (s *Scanner) knownAddresses(ctx context.Context) (map[string]bool, error) {
	wallets, err := s.store.ListWalletsByCoin(ctx, s.store.DB(), s.coin)
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool)
	for _, w := range wallets {
		addrs, err := s.store.ListAllAddresses(ctx, s.store.DB(), w.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			out[a.Address] = true
		}
	}
	return out, nil
}

// touchesAny reports whether any detail in details names an address in known.
func touchesAny(details []backend.TxDetail, known map[string]bool) bool {
	for _, d := range details {
		if known[d.Address] {
			return true
		}
	}
	return false
}
