// Package ton holds the TON specific helpers shared by the oracle, the
// lifecycle service and the gateways: nanoton conversion, address
// normalisation and transfer deep links.
package ton

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"

	"github.com/shopspring/decimal"
	tonaddr "github.com/tonkeeper/tongo/ton"
)

// NanoPerTON is the number of nanotons in one TON.
const NanoPerTON = 1_000_000_000

var nanoFactor = decimal.NewFromInt(NanoPerTON)

// ToNano converts a decimal TON amount ("1", "0.5") to nanotons.
func ToNano(amountTON string) (uint64, error) {
	d, err := decimal.NewFromString(amountTON)
	if err != nil {
		return 0, fmt.Errorf("invalid TON amount %q: %w", amountTON, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("TON amount must be positive, got %s", amountTON)
	}
	nano := d.Mul(nanoFactor)
	if !nano.Equal(nano.Truncate(0)) {
		return 0, fmt.Errorf("TON amount %s has more than 9 decimals", amountTON)
	}
	return toUint64(nano)
}

// FormatTON renders nanotons as a TON amount without trailing zeros.
func FormatTON(nano uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(nano), -9).String()
}

// ParseNano parses the decimal nanoton strings the indexer returns.
func ParseNano(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid nanoton value %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, errors.New("negative nanoton value")
	}
	return toUint64(d)
}

func toUint64(d decimal.Decimal) (uint64, error) {
	n := d.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("nanoton value %s out of range", d.String())
	}
	return n.Uint64(), nil
}

// ValidateAddress checks that addr is a raw or user-friendly TON address.
func ValidateAddress(addr string) error {
	if _, err := tonaddr.ParseAccountID(addr); err != nil {
		return fmt.Errorf("invalid TON address %q: %w", addr, err)
	}
	return nil
}

// SameAccount reports whether two address strings, in any accepted format,
// refer to the same account.
func SameAccount(a, b string) bool {
	if a == b {
		return a != ""
	}
	aa, err := tonaddr.ParseAccountID(a)
	if err != nil {
		return false
	}
	bb, err := tonaddr.ParseAccountID(b)
	if err != nil {
		return false
	}
	return aa == bb
}

// TransferURL builds the ton://transfer deep link wallets understand.
func TransferURL(address string, nano uint64, memo string) string {
	q := url.Values{}
	q.Set("amount", fmt.Sprintf("%d", nano))
	if memo != "" {
		q.Set("text", memo)
	}
	return fmt.Sprintf("ton://transfer/%s?%s", address, q.Encode())
}
