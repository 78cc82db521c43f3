package utils

import (
	"fmt"
	"math/big"
)

// RebaseAmount converts an integer amount between chain decimal bases by the
// exact power-of-ten difference. Multiply or divide, never both, and never
// through floating point. Division truncates toward zero.
func RebaseAmount(amount *big.Int, fromDecimals, toDecimals int) (*big.Int, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount is nil")
	}
	if fromDecimals < 0 || toDecimals < 0 {
		return nil, fmt.Errorf("decimals must be non-negative (got %d, %d)", fromDecimals, toDecimals)
	}
	if fromDecimals == toDecimals {
		return new(big.Int).Set(amount), nil
	}

	diff := toDecimals - fromDecimals
	if diff > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(diff)), nil)
		return new(big.Int).Mul(amount, scale), nil
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-diff)), nil)
	return new(big.Int).Quo(amount, scale), nil
}

// ParseAmount parses a base-10 integer amount string
func ParseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", s)
	}
	return amount, nil
}

// Min returns the smaller of a or b
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a or b
func Max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
