package codec

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places kept when normalizing a
// fixed-point price.
const PriceScale int32 = 18

// two64 is the 2^64 base of the LMSR market maker's fixed-point numbers.
var two64 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 64), 0)

// NormalizePrice converts a raw 2^64 fixed-point integer string into a plain
// decimal string: "18446744073709551616" becomes "1".
func NormalizePrice(raw string) (string, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "", fmt.Errorf("codec: invalid fixed-point value %q", raw)
	}
	return decimal.NewFromBigInt(v, 0).DivRound(two64, PriceScale).String(), nil
}

// IsZero reports whether raw is empty or parses to zero.
func IsZero(raw string) bool {
	if raw == "" {
		return true
	}
	v, ok := new(big.Int).SetString(raw, 10)
	return !ok || v.Sign() == 0
}
