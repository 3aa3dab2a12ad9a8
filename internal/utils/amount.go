package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// LedgerDecimals fixed-point scale of every stored amount
const LedgerDecimals = 4

// ScaleTokenAmount converts a raw on-chain integer with tokenDecimals decimals
// into a 4-decimal string, truncating extra digits. Integer arithmetic only.
func ScaleTokenAmount(raw *big.Int, tokenDecimals int) string {
	if raw == nil {
		return "0.0000"
	}

	value := new(big.Int).Set(raw)
	negative := value.Sign() < 0
	value.Abs(value)

	// value * 10^4 / 10^decimals, truncated
	if tokenDecimals >= LedgerDecimals {
		value.Quo(value, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tokenDecimals-LedgerDecimals)), nil))
	} else {
		value.Mul(value, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(LedgerDecimals-tokenDecimals)), nil))
	}

	digits := value.String()
	if len(digits) <= LedgerDecimals {
		digits = strings.Repeat("0", LedgerDecimals-len(digits)+1) + digits
	}
	intPart := digits[:len(digits)-LedgerDecimals]
	fracPart := digits[len(digits)-LedgerDecimals:]

	sign := ""
	if negative && value.Sign() != 0 {
		sign = "-"
	}
	return sign + intPart + "." + fracPart
}

// ParseAmount parses a user-supplied decimal amount and rounds it down to the
// ledger scale
func ParseAmount(value string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount.Truncate(LedgerDecimals), nil
}

// FormatAmount renders an amount with exactly 4 decimals
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(LedgerDecimals)
}
