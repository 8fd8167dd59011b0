// Package ledger implements the durable double-entry-style ledger: wallets,
// accounts, addresses, internal transactions and network transactions, plus
// the queries and mutators that enforce their invariants.
package ledger

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// AmountScale is the number of fractional digits a ledger Amount carries.
// Bitcoin-family coins all fit in 8 (satoshi-scale); a coin needing a
// different scale would need its own minor-unit conversion in its backend
// adapter, never a float anywhere in the ledger.
const AmountScale = 8

const amountDivisor = 100_000_000 // 10^AmountScale

// Amount is a fixed-scale decimal stored as an integer count of minor units
// (e.g. satoshis). It is never represented as a float anywhere in the
// ledger; conversion to/from a backend's native unit is the adapter's job.
type Amount struct {
	minor int64
}

// Zero is the additive identity.
var Zero = Amount{}

// NewAmount builds an Amount directly from a minor-unit count.
func NewAmount(minorUnits int64) Amount {
	return Amount{minor: minorUnits}
}

// Minor returns the underlying minor-unit count.
func (a Amount) Minor() int64 {
	return a.minor
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	return Amount{minor: a.minor + b.minor}
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{minor: a.minor - b.minor}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{minor: -a.minor}
}

// IsZero reports whether a is exactly zero.
func (a Amount) IsZero() bool {
	return a.minor == 0
}

// IsNegative reports whether a is strictly less than zero.
func (a Amount) IsNegative() bool {
	return a.minor < 0
}

// IsPositive reports whether a is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.minor > 0
}

// Cmp returns -1, 0 or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a.minor < b.minor:
		return -1
	case a.minor > b.minor:
		return 1
	default:
		return 0
	}
}

// String renders the amount as a decimal string, e.g. "1.5", "-0.00000001", "0".
func (a Amount) String() string {
	sign := ""
	v := a.minor
	if v < 0 {
		sign = "-"
		v = -v
	}

	whole := v / amountDivisor
	frac := v % amountDivisor

	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}

	fracStr := fmt.Sprintf("%0*d", AmountScale, frac)
	fracStr = strings.TrimRight(fracStr, "0")

	return fmt.Sprintf("%s%d.%s", sign, whole, fracStr)
}

// ParseAmount parses a decimal string into an Amount at the ledger's fixed
// scale. Accepts an optional leading '-' and a fractional part longer than
// AmountScale digits is rejected rather than silently truncated, since
// truncation would be silent precision loss in accounting data.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Zero, fmt.Errorf("ledger: empty amount string")
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return Zero, fmt.Errorf("ledger: invalid amount %q", s)
	}

	wholeStr, fracStr, hasFrac := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}

	for _, c := range wholeStr {
		if c < '0' || c > '9' {
			return Zero, fmt.Errorf("ledger: invalid amount %q", s)
		}
	}
	if hasFrac {
		if len(fracStr) > AmountScale {
			return Zero, fmt.Errorf("ledger: amount %q exceeds %d-digit scale", s, AmountScale)
		}
		for _, c := range fracStr {
			if c < '0' || c > '9' {
				return Zero, fmt.Errorf("ledger: invalid amount %q", s)
			}
		}
	}
	fracStr = fracStr + strings.Repeat("0", AmountScale-len(fracStr))

	var whole, frac int64
	if _, err := fmt.Sscanf(wholeStr, "%d", &whole); err != nil && wholeStr != "0" {
		return Zero, fmt.Errorf("ledger: invalid amount %q: %w", s, err)
	}
	if fracStr != "" {
		if _, err := fmt.Sscanf(fracStr, "%d", &frac); err != nil {
			return Zero, fmt.Errorf("ledger: invalid amount %q: %w", s, err)
		}
	}

	minor := whole*amountDivisor + frac
	if neg {
		minor = -minor
	}
	return Amount{minor: minor}, nil
}

// MarshalJSON renders the amount as a JSON string to preserve precision,
// per the txupdate event contract.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a JSON string (the wire format) or a bare JSON
// number (convenience for hand-written fixtures/config).
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer, storing the amount as its minor-unit
// integer count (column type BIGINT).
func (a Amount) Value() (driver.Value, error) {
	return a.minor, nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		a.minor = 0
	case int64:
		a.minor = v
	case int32:
		a.minor = int64(v)
	case []byte:
		parsed, err := ParseAmount(string(v))
		if err != nil {
			return err
		}
		*a = parsed
	case string:
		parsed, err := ParseAmount(v)
		if err != nil {
			return err
		}
		*a = parsed
	default:
		return fmt.Errorf("ledger: cannot scan %T into Amount", src)
	}
	return nil
}
