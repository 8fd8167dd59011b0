package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klingon-exchange/ledgerd/internal/ledger"
)

// BlockbookBackend implements Backend using Trezor's Blockbook API
// (https://github.com/trezor/blockbook/blob/master/docs/api.md). It is
// the hosted-API archetype: cursor is a txid (a before-cursor, matching
// Blockbook's "from" query param), and it cannot distinguish its own
// sends from deposits, so OnlyReceive is always true.
type BlockbookBackend struct {
	baseURL    string
	httpClient *http.Client
	mu         sync.RWMutex
	connected  bool

	maxTrackedConfirmations int
}

// NewBlockbookBackend builds a backend against a Blockbook instance, e.g.
// "https://ltc1.trezor.io/api/v2".
func NewBlockbookBackend(baseURL string, maxTrackedConfirmations int) *BlockbookBackend {
	if maxTrackedConfirmations <= 0 {
		maxTrackedConfirmations = 6
	}
	return &BlockbookBackend{
		baseURL:                 strings.TrimSuffix(baseURL, "/"),
		httpClient:              &http.Client{Timeout: 30 * time.Second},
		maxTrackedConfirmations: maxTrackedConfirmations,
	}
}

// Type returns TypeBlockbook.
func (b *BlockbookBackend) Type() Type { return TypeBlockbook }

// Connect verifies the API's status endpoint responds.
func (b *BlockbookBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrNotConnected, resp.StatusCode)
	}
	b.connected = true
	return nil
}

// Close marks the backend disconnected.
func (b *BlockbookBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// IsConnected reports whether Connect has succeeded.
func (b *BlockbookBackend) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// CreateAddress is unsupported: Blockbook only watches addresses, it does
// not mint them.
func (b *BlockbookBackend) CreateAddress(ctx context.Context, label string) (string, error) {
	return "", ErrUnsupportedBackend
}

// GetTransaction fetches a transaction by txid.
func (b *BlockbookBackend) GetTransaction(ctx context.Context, txid string) (*TxInfo, error) {
	var tx blockbookTx
	if err := b.get(ctx, "/tx/"+txid, &tx); err != nil {
		if err == ErrAddressNotFound {
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	return convertBlockbookTx(&tx), nil
}

// GetBalance is unsupported without a specific tracked address set:
// Blockbook has no wallet concept, only per-address balances. Callers
// sum ledger.Store balances instead; this exists to satisfy Backend.
func (b *BlockbookBackend) GetBalance(ctx context.Context) (ledger.Amount, error) {
	return ledger.Zero, ErrUnsupportedBackend
}

// Send is unsupported: Blockbook is read-only, it has no wallet to sign
// and broadcast from directly.
func (b *BlockbookBackend) Send(ctx context.Context, outputs map[string]ledger.Amount) (string, ledger.Amount, error) {
	return "", ledger.Zero, ErrUnsupportedBackend
}

// ListReceivedTransactionsForAddress pages through a single address's
// transaction history using Blockbook's "from" before-cursor. It is not
// part of the Backend interface.
func (b *BlockbookBackend) ListReceivedTransactionsForAddress(ctx context.Context, address, cursor string) ([]*TxInfo, string, error) {
	endpoint := "/address/" + address + "?details=txs"
	if cursor != "" {
		endpoint += "&from=" + cursor
	}

	var result struct {
		Transactions []blockbookTx `json:"transactions"`
	}
	if err := b.get(ctx, endpoint, &result); err != nil {
		return nil, cursor, err
	}

	nextCursor := cursor
	txs := make([]*TxInfo, 0, len(result.Transactions))
	for i := range result.Transactions {
		txs = append(txs, convertBlockbookTx(&result.Transactions[i]))
		nextCursor = result.Transactions[i].TxID
	}
	return txs, nextCursor, nil
}

// ListReceivedTransactions satisfies Backend but always returns
// ErrUnsupportedBackend: Blockbook has no wallet-wide endpoint. The receive
// scanner calls only this method, so a scan against this backend fails; it
// does not fall back to ListReceivedTransactionsForAddress.
func (b *BlockbookBackend) ListReceivedTransactions(ctx context.Context, cursor string) ([]*TxInfo, string, error) {
	return nil, cursor, ErrUnsupportedBackend
}

// RequireTrackingIncomingConfirmations is true: Blockbook has no push
// notification channel this service consumes.
func (b *BlockbookBackend) RequireTrackingIncomingConfirmations() bool { return true }

// MaxTrackedIncomingConfirmations returns the configured cap.
func (b *BlockbookBackend) MaxTrackedIncomingConfirmations() int { return b.maxTrackedConfirmations }

// OnlyReceive is true: Blockbook cannot attribute a transaction's inputs
// to "our" wallet, so it never reports IsSend accurately.
func (b *BlockbookBackend) OnlyReceive() bool { return true }

func (b *BlockbookBackend) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrAddressNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(result)
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// blockbookTx is Blockbook's transaction wire format, trimmed to the
// fields TxInfo needs.
type blockbookTx struct {
	TxID          string `json:"txid"`
	Confirmations int    `json:"confirmations"`
	Fees          string `json:"fees"`
	Vout          []struct {
		Value     string   `json:"value"`
		Addresses []string `json:"addresses"`
	} `json:"vout"`
}

func convertBlockbookTx(bt *blockbookTx) *TxInfo {
	info := &TxInfo{
		Txid:          bt.TxID,
		Confirmations: bt.Confirmations,
	}
	if fee, err := parseSatoshiString(bt.Fees); err == nil {
		info.Fee = fee
	}

	for _, vout := range bt.Vout {
		if len(vout.Addresses) == 0 {
			continue
		}
		amt, err := parseSatoshiString(vout.Value)
		if err != nil {
			continue
		}
		info.Details = append(info.Details, TxDetail{
			Address: vout.Addresses[0],
			Amount:  amt,
			IsSend:  false,
		})
	}
	return info
}

// parseSatoshiString converts Blockbook's satoshi-integer-as-string
// amount into a ledger.Amount.
func parseSatoshiString(s string) (ledger.Amount, error) {
	if s == "" {
		return ledger.Zero, nil
	}
	minor, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ledger.Zero, err
	}
	return ledger.NewAmount(minor), nil
}

var _ Backend = (*BlockbookBackend)(nil)
