package ledger

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// CoinDescriptor carries the per-coin knowledge the ledger needs:
// network parameters for address validation and the coin's symbol.
// A single descriptor replaces what the backend package's teacher
// ancestor did with per-chain type switches scattered across methods -
// every place that needs coin-specific behavior takes a *CoinDescriptor
// instead of branching on a chain name.
type CoinDescriptor struct {
	Symbol      string
	NetParams   *chaincfg.Params
	AddressFunc func(address string, params *chaincfg.Params) error
}

// DefaultAddressValidator validates a Bitcoin-family address by attempting
// to decode it under the descriptor's network parameters.
func DefaultAddressValidator(address string, params *chaincfg.Params) error {
	if address == "" {
		return fmt.Errorf("%w: empty address", ErrBadAddress)
	}
	if _, err := btcutil.DecodeAddress(address, params); err != nil {
		return fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	return nil
}

// Validate checks address against the descriptor's validator, falling back
// to DefaultAddressValidator when none is set.
func (c *CoinDescriptor) Validate(address string) error {
	fn := c.AddressFunc
	if fn == nil {
		fn = DefaultAddressValidator
	}
	return fn(address, c.NetParams)
}

// Known coin descriptors for the Bitcoin-family coins this service
// supports out of the box. Additional coins can be registered by callers
// that build their own CoinDescriptor against a custom chaincfg.Params.
var (
	BTC = CoinDescriptor{Symbol: "BTC", NetParams: &chaincfg.MainNetParams}
	LTC = CoinDescriptor{
		Symbol: "LTC",
		NetParams: &chaincfg.Params{
			Name:             "litecoin-mainnet",
			PubKeyHashAddrID: 0x30,
			ScriptHashAddrID: 0x32,
			Bech32HRPSegwit:  "ltc",
		},
	}
)

// Coins is the registry of known descriptors keyed by symbol.
var Coins = map[string]*CoinDescriptor{
	BTC.Symbol: &BTC,
	LTC.Symbol: &LTC,
}

// LookupCoin returns the descriptor for symbol, or false if unknown.
func LookupCoin(symbol string) (*CoinDescriptor, bool) {
	c, ok := Coins[symbol]
	return c, ok
}
