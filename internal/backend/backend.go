// Package backend provides the pluggable chain-data provider abstraction:
// a normalized view of addresses, transactions and broadcast used by the
// updater, broadcaster and confirmation poller, regardless of whether the
// concrete backend is a node's own RPC or a hosted block explorer API.
package backend

import (
	"context"
	"errors"

	"github.com/klingon-exchange/ledgerd/internal/ledger"
)

// Common errors.
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrTxNotFound         = errors.New("transaction not found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrInvalidTx          = errors.New("invalid transaction")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
)

// Type identifies a concrete backend implementation.
type Type string

const (
	TypeJSONRPC   Type = "jsonrpc"   // direct node RPC (bitcoind-style)
	TypeBlockbook Type = "blockbook" // Trezor Blockbook hosted API
)

// TxDetail is one credit or debit observed in a transaction, normalized
// across backend shapes.
type TxDetail struct {
	Address string
	Amount  ledger.Amount
	// IsSend is true when this detail represents funds leaving an
	// address the backend's wallet controls. A backend with
	// OnlyReceive true can never populate this accurately and always
	// reports false.
	IsSend bool
}

// TxInfo is the normalized shape of a transaction as reported by a
// backend, the input to TransactionUpdater's reconciliation step.
type TxInfo struct {
	Txid          string
	Confirmations int
	Fee           ledger.Amount
	Details       []TxDetail
}

// Backend is implemented by every chain-data provider. All methods take a
// context so a caller can bound a single RPC round trip without tearing
// down the whole connection.
type Backend interface {
	Type() Type

	// Connect establishes the backend's connection (opens an HTTP
	// client, verifies reachability). It is idempotent.
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool

	// CreateAddress asks the backend to mint a new receiving address.
	// Not every backend can do this; one watching externally-generated
	// addresses returns ErrUnsupportedBackend.
	CreateAddress(ctx context.Context, label string) (string, error)

	// GetTransaction fetches the normalized view of a single txid.
	GetTransaction(ctx context.Context, txid string) (*TxInfo, error)

	// GetBalance returns the backend's own view of total wallet
	// balance, used as a cross-check against the ledger's aggregate.
	GetBalance(ctx context.Context) (ledger.Amount, error)

	// Send broadcasts a transaction paying the given outputs and
	// returns its txid and fee. It must be safe to call at most once
	// per logical send; the broadcaster's open/close bookkeeping is
	// what keeps it that way.
	Send(ctx context.Context, outputs map[string]ledger.Amount) (txid string, fee ledger.Amount, err error)

	// ListReceivedTransactions returns transactions affecting addresses
	// this backend tracks, starting after cursor (a backend-defined
	// opaque position: a block height for a node-style backend, a txid
	// for a hosted before-cursor backend). It returns the new cursor to
	// resume from on the next call.
	ListReceivedTransactions(ctx context.Context, cursor string) (txs []*TxInfo, nextCursor string, err error)

	// RequireTrackingIncomingConfirmations reports whether the
	// confirmation poller must re-fetch this deposit's confirmation
	// count explicitly, as opposed to the backend pushing updates on
	// its own.
	RequireTrackingIncomingConfirmations() bool

	// MaxTrackedIncomingConfirmations caps how many confirmations the
	// poller keeps re-checking before considering a deposit settled and
	// dropping it from its tracked set.
	MaxTrackedIncomingConfirmations() int

	// OnlyReceive reports whether this backend can only observe
	// incoming funds, never outgoing ones.
	OnlyReceive() bool
}

// Config configures a concrete Backend construction.
type Config struct {
	Type Type `yaml:"type"`

	// JSON-RPC fields.
	RPCURL  string `yaml:"rpc_url,omitempty"`
	RPCUser string `yaml:"rpc_user,omitempty"`
	RPCPass string `yaml:"rpc_pass,omitempty"`

	// Blockbook fields.
	BaseURL string `yaml:"base_url,omitempty"`

	OnlyReceive            bool `yaml:"only_receive,omitempty"`
	MaxTrackedConfirmations int  `yaml:"max_tracked_confirmations,omitempty"`

	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// DefaultConfigs returns sensible per-coin defaults for the two backend
// archetypes this service ships with.
func DefaultConfigs() map[string]*Config {
	return map[string]*Config{
		"BTC": {
			Type:    TypeJSONRPC,
			RPCURL:  "http://127.0.0.1:8332",
			MaxTrackedConfirmations: 6,
		},
		"LTC": {
			Type:        TypeBlockbook,
			BaseURL:     "https://ltc1.trezor.io/api/v2",
			OnlyReceive: true,
			MaxTrackedConfirmations: 6,
		},
	}
}

// Registry holds the set of backends keyed by coin symbol.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds coin to a backend instance.
func (r *Registry) Register(coin string, b Backend) {
	r.backends[coin] = b
}

// Get returns the backend for coin.
func (r *Registry) Get(coin string) (Backend, bool) {
	b, ok := r.backends[coin]
	return b, ok
}

// List returns every registered coin symbol.
func (r *Registry) List() []string {
	out := make([]string, 0, len(r.backends))
	for coin := range r.backends {
		out = append(out, coin)
	}
	return out
}

// ConnectAll connects every registered backend, returning the first error
// encountered after attempting all of them.
func (r *Registry) ConnectAll(ctx context.Context) error {
	var firstErr error
	for coin, b := range r.backends {
		if err := b.Connect(ctx); err != nil && firstErr == nil {
			firstErr = errors.New(coin + ": " + err.Error())
		}
	}
	return firstErr
}

// CloseAll closes every registered backend.
func (r *Registry) CloseAll() {
	for _, b := range r.backends {
		b.Close()
	}
}

// All returns every registered backend keyed by coin.
func (r *Registry) All() map[string]Backend {
	return r.backends
}
