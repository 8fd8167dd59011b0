// Package events fans out txupdate events produced by the TransactionUpdater
// to a set of registered sinks, outside the database transaction that
// produced them.
package events

import (
	"encoding/json"

	"github.com/klingon-exchange/ledgerd/internal/ledger"
)

// Name identifies an event kind. There is only one today (TxUpdate), but the
// registry is not hardcoded to it.
type Name string

// TxUpdate is emitted whenever a tracked transaction's confirmations or
// credited state changes.
const TxUpdate Name = "txupdate"

// TxUpdateData is the payload of a TxUpdate event. Amount is serialized as a
// JSON string (ledger.Amount.MarshalJSON) to preserve precision; Credited is
// a pointer so broadcast events, which have no credited concept, can omit it
// entirely instead of reporting false.
type TxUpdateData struct {
	CoinName           string        `json:"coin_name"`
	NetworkTransaction string        `json:"network_transaction"`
	Transaction        string        `json:"transaction"`
	TransactionType    string        `json:"transaction_type"`
	Txid               string        `json:"txid"`
	Account            string        `json:"account"`
	Address            string        `json:"address"`
	Amount             ledger.Amount `json:"amount"`
	Confirmations      int           `json:"confirmations"`
	Credited           *bool         `json:"credited,omitempty"`
}

// Event pairs a Name with its JSON-encodable data.
type Event struct {
	Name Name
	Data interface{}
}

// Marshal serializes an event's data the way every sink needs it: decimals
// as strings, never floats.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e.Data)
}
