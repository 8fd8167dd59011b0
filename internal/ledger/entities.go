package ledger

import "time"

// TransactionState is the lifecycle state of an internal Transaction row.
type TransactionState string

// Transaction states, per the classification table in the spec's data model.
const (
	TxStatePending        TransactionState = "pending"
	TxStateBroadcasted    TransactionState = "broadcasted"
	TxStateIncoming       TransactionState = "incoming"
	TxStateProcessed      TransactionState = "processed"
	TxStateInternal       TransactionState = "internal"
	TxStateNetworkFee     TransactionState = "network_fee"
	TxStateBalanceImport  TransactionState = "balance_import"
)

// NetworkTransactionType distinguishes a deposit from a broadcast.
type NetworkTransactionType string

const (
	NetworkTxDeposit   NetworkTransactionType = "deposit"
	NetworkTxBroadcast NetworkTransactionType = "broadcast"
)

// NetworkTransactionState is the lifecycle state of a NetworkTransaction.
type NetworkTransactionState string

const (
	NetworkStateIncoming    NetworkTransactionState = "incoming"
	NetworkStateCredited    NetworkTransactionState = "credited"
	NetworkStatePending     NetworkTransactionState = "pending"
	NetworkStateBroadcasted NetworkTransactionState = "broadcasted"
)

// FeeAccountName is the reserved per-wallet account that accumulates
// negative network-fee entries. It is the only account permitted a
// negative balance.
const FeeAccountName = "network fees"

// Wallet aggregates a total balance and owns accounts, addresses and
// transactions for a single coin.
type Wallet struct {
	ID        string
	Coin      string
	Name      string
	Balance   Amount
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account is a named logical sub-balance inside a wallet.
type Account struct {
	ID        string
	WalletID  string
	Name      string
	Balance   Amount
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsFeeAccount reports whether this account is the wallet's reserved
// fee-accumulator account.
func (a *Account) IsFeeAccount() bool {
	return a.Name == FeeAccountName
}

// Address is a string address known to the system. AccountID is nil for an
// "external address" used only as a send destination.
type Address struct {
	ID         string
	WalletID   string
	Address    string
	AccountID  *string
	Label      string
	Balance    Amount
	ArchivedAt *time.Time
	CreatedAt  time.Time
}

// IsDeposit reports whether this address is owned by an account (as
// opposed to being an external send destination).
func (a *Address) IsDeposit() bool {
	return a.AccountID != nil
}

// Transaction is a single ledger accounting entry.
type Transaction struct {
	ID                  string
	WalletID            string
	Amount              Amount
	State               TransactionState
	SendingAccountID    *string
	ReceivingAccountID  *string
	AddressID           *string
	NetworkTransactionID *string
	Label               string
	CreatedAt           time.Time
	CreditedAt          *time.Time
	ProcessedAt         *time.Time
}

// NetworkTransaction is a single on-chain transaction the system knows
// about. Txid is nil until a broadcast's send phase returns one.
type NetworkTransaction struct {
	ID            string
	Txid          *string
	Type          NetworkTransactionType
	State         NetworkTransactionState
	Confirmations int
	OpenedAt      *time.Time
	ClosedAt      *time.Time
	CreatedAt     time.Time
}

// IsInterrupted reports whether the network transaction has been opened for
// sending but not yet closed (the "interrupted broadcast" shape when the
// process died mid-send).
func (n *NetworkTransaction) IsInterrupted() bool {
	return n.Type == NetworkTxBroadcast && n.OpenedAt != nil && n.ClosedAt == nil
}
