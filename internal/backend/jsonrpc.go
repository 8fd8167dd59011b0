package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klingon-exchange/ledgerd/internal/ledger"
)

// JSONRPCBackend talks directly to a bitcoind-family node's wallet RPC.
// It is the node-style archetype: cursor is a block height (a forward
// cursor), and the node's own wallet tracks sends, so IsSend on returned
// details is populated accurately.
type JSONRPCBackend struct {
	rpcURL                  string
	rpcUser                 string
	rpcPass                 string
	maxTrackedConfirmations int

	httpClient *http.Client
	mu         sync.RWMutex
	connected  bool
	requestID  atomic.Uint64
}

// NewJSONRPCBackend builds a backend against a bitcoind-compatible node.
func NewJSONRPCBackend(rpcURL, user, pass string, maxTrackedConfirmations int) *JSONRPCBackend {
	if maxTrackedConfirmations <= 0 {
		maxTrackedConfirmations = 6
	}
	return &JSONRPCBackend{
		rpcURL:                  rpcURL,
		rpcUser:                 user,
		rpcPass:                 pass,
		maxTrackedConfirmations: maxTrackedConfirmations,
		httpClient:              &http.Client{Timeout: 30 * time.Second},
	}
}

// Type returns TypeJSONRPC.
func (j *JSONRPCBackend) Type() Type { return TypeJSONRPC }

// Connect verifies the node is reachable.
func (j *JSONRPCBackend) Connect(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.call(ctx, "getblockchaininfo", []interface{}{}); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	j.connected = true
	return nil
}

// Close marks the backend disconnected. The underlying http.Client has no
// persistent connection to tear down.
func (j *JSONRPCBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.connected = false
	return nil
}

// IsConnected reports whether Connect has succeeded.
func (j *JSONRPCBackend) IsConnected() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.connected
}

// CreateAddress asks the node's wallet for a fresh receiving address.
func (j *JSONRPCBackend) CreateAddress(ctx context.Context, label string) (string, error) {
	result, err := j.call(ctx, "getnewaddress", []interface{}{label})
	if err != nil {
		return "", err
	}
	var addr string
	if err := json.Unmarshal(result, &addr); err != nil {
		return "", err
	}
	return addr, nil
}

// GetTransaction fetches a single wallet transaction by txid.
func (j *JSONRPCBackend) GetTransaction(ctx context.Context, txid string) (*TxInfo, error) {
	result, err := j.call(ctx, "gettransaction", []interface{}{txid})
	if err != nil {
		return nil, ErrTxNotFound
	}
	return parseWalletTx(result)
}

// GetBalance returns the node wallet's total confirmed balance.
func (j *JSONRPCBackend) GetBalance(ctx context.Context) (ledger.Amount, error) {
	result, err := j.call(ctx, "getbalance", []interface{}{})
	if err != nil {
		return ledger.Zero, err
	}
	var btc float64
	if err := json.Unmarshal(result, &btc); err != nil {
		return ledger.Zero, err
	}
	return ledger.ParseAmount(strconv.FormatFloat(btc, 'f', -1, 64))
}

// Send issues a single sendmany call covering every output, the node's
// native batching primitive - this is what lets the broadcaster coalesce
// many pending sends into one on-chain transaction.
func (j *JSONRPCBackend) Send(ctx context.Context, outputs map[string]ledger.Amount) (string, ledger.Amount, error) {
	amounts := make(map[string]string, len(outputs))
	for addr, amt := range outputs {
		amounts[addr] = amt.String()
	}

	result, err := j.call(ctx, "sendmany", []interface{}{"", amounts})
	if err != nil {
		return "", ledger.Zero, fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", ledger.Zero, err
	}

	info, err := j.GetTransaction(ctx, txid)
	if err != nil {
		return txid, ledger.Zero, nil
	}
	return txid, info.Fee, nil
}

// ListReceivedTransactions lists wallet transactions past the block
// height in cursor, using listsinceblock - the node-style forward-cursor
// archetype.
func (j *JSONRPCBackend) ListReceivedTransactions(ctx context.Context, cursor string) ([]*TxInfo, string, error) {
	var params []interface{}
	if cursor != "" {
		blockHash, err := j.blockHashForHeight(ctx, cursor)
		if err == nil {
			params = []interface{}{blockHash}
		}
	}

	result, err := j.call(ctx, "listsinceblock", params)
	if err != nil {
		return nil, cursor, err
	}

	var parsed struct {
		Transactions []json.RawMessage `json:"transactions"`
		LastBlock    string            `json:"lastblock"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, cursor, err
	}

	seen := make(map[string]bool)
	var txs []*TxInfo
	for _, raw := range parsed.Transactions {
		var t struct {
			Txid string `json:"txid"`
		}
		if err := json.Unmarshal(raw, &t); err != nil || t.Txid == "" || seen[t.Txid] {
			continue
		}
		seen[t.Txid] = true

		info, err := j.GetTransaction(ctx, t.Txid)
		if err != nil {
			continue
		}
		txs = append(txs, info)
	}

	nextCursor, err := j.heightForBlockHash(ctx, parsed.LastBlock)
	if err != nil {
		nextCursor = cursor
	}
	return txs, nextCursor, nil
}

// RequireTrackingIncomingConfirmations is true: the node doesn't push
// confirmation updates, the poller must re-fetch them.
func (j *JSONRPCBackend) RequireTrackingIncomingConfirmations() bool { return true }

// MaxTrackedIncomingConfirmations returns the configured cap.
func (j *JSONRPCBackend) MaxTrackedIncomingConfirmations() int { return j.maxTrackedConfirmations }

// OnlyReceive is false: the node's own wallet sees both sides of a
// transaction.
func (j *JSONRPCBackend) OnlyReceive() bool { return false }

func (j *JSONRPCBackend) blockHashForHeight(ctx context.Context, height string) (string, error) {
	result, err := j.call(ctx, "getblockhash", []interface{}{mustAtoi(height)})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (j *JSONRPCBackend) heightForBlockHash(ctx context.Context, hash string) (string, error) {
	if hash == "" {
		return "", fmt.Errorf("empty block hash")
	}
	result, err := j.call(ctx, "getblockheader", []interface{}{hash, true})
	if err != nil {
		return "", err
	}
	var header struct {
		Height int64 `json:"height"`
	}
	if err := json.Unmarshal(result, &header); err != nil {
		return "", err
	}
	return strconv.FormatInt(header.Height, 10), nil
}

func mustAtoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseWalletTx(result json.RawMessage) (*TxInfo, error) {
	var raw struct {
		Txid          string  `json:"txid"`
		Confirmations int     `json:"confirmations"`
		Fee           float64 `json:"fee"`
		Details       []struct {
			Address  string  `json:"address"`
			Category string  `json:"category"` // "send" or "receive"
			Amount   float64 `json:"amount"`
		} `json:"details"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, err
	}

	info := &TxInfo{
		Txid:          raw.Txid,
		Confirmations: raw.Confirmations,
	}
	if raw.Fee != 0 {
		fee, err := ledger.ParseAmount(strconv.FormatFloat(-raw.Fee, 'f', -1, 64))
		if err == nil {
			info.Fee = fee
		}
	}

	for _, d := range raw.Details {
		amt, err := ledger.ParseAmount(strconv.FormatFloat(d.Amount, 'f', -1, 64))
		if err != nil {
			continue
		}
		if amt.IsNegative() {
			amt = amt.Neg()
		}
		info.Details = append(info.Details, TxDetail{
			Address: d.Address,
			Amount:  amt,
			IsSend:  d.Category == "send",
		})
	}
	return info, nil
}

func (j *JSONRPCBackend) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := j.requestID.Add(1)

	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.rpcURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if j.rpcUser != "" {
		req.SetBasicAuth(j.rpcUser, j.rpcPass)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}

var _ Backend = (*JSONRPCBackend)(nil)
