package ledger

import "errors"

// Sentinel errors returned by ledger mutators. Callers running inside a
// conflict.Resolver distinguish these from the resolver's own retryable
// conflict errors: these are business-rule violations and are never
// retried.
var (
	ErrWalletNotFound      = errors.New("ledger: wallet not found")
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrAddressNotFound     = errors.New("ledger: address not found")
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	ErrNetworkTxNotFound   = errors.New("ledger: network transaction not found")

	// ErrNotEnoughAccountBalance is returned when a debit would take an
	// account below zero. Only the reserved fee account is exempt.
	ErrNotEnoughAccountBalance = errors.New("ledger: not enough account balance")

	// ErrNotEnoughWalletBalance is returned when a debit would take a
	// wallet's aggregate balance below zero.
	ErrNotEnoughWalletBalance = errors.New("ledger: not enough wallet balance")

	// ErrSameAccount is returned by CreateInternalTransfer when the sending
	// and receiving account are identical.
	ErrSameAccount = errors.New("ledger: sending and receiving account are the same")

	// ErrBadAddress is returned when an address fails the wallet's coin
	// validator.
	ErrBadAddress = errors.New("ledger: address failed validation")

	// ErrAddressArchived is returned when a deposit is attributed to an
	// address that has been archived.
	ErrAddressArchived = errors.New("ledger: address is archived")

	// ErrDuplicateNetworkTransaction is returned when a (type, txid) pair
	// already exists; the self-send case relies on this being scoped to
	// type, not txid alone.
	ErrDuplicateNetworkTransaction = errors.New("ledger: network transaction already exists for this type")

	// ErrBroadcastAlreadyOpen is returned when OpenBroadcast is called on a
	// network transaction that is already open.
	ErrBroadcastAlreadyOpen = errors.New("ledger: broadcast already open")

	// ErrBroadcastNotOpen is returned when CloseBroadcast is called on a
	// network transaction that was never opened.
	ErrBroadcastNotOpen = errors.New("ledger: broadcast not open")

	// ErrNothingToBroadcast is returned when the broadcaster's send phase
	// finds no children attached to the broadcast it is about to send.
	ErrNothingToBroadcast = errors.New("ledger: nothing to broadcast")
)
