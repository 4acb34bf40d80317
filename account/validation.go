package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SafeAdd returns a+b; the boolean is false when the addition overflowed
// uint64.
func SafeAdd(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}

// SafeMul returns a*b; the boolean is false when the multiplication
// overflowed uint64.
func SafeMul(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	prod := a * b
	return prod, prod/a == b
}

// MulCost multiplies gas by price into a 256-bit cost, rejecting overflow.
func MulCost(gas uint64, price *uint256.Int) (*uint256.Int, error) {
	cost, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(gas), price)
	if overflow {
		return nil, fmt.Errorf("%w: %d * %s", ErrArithmeticOverflow, gas, price)
	}
	return cost, nil
}

// BasisPoints returns amount * bps / 10000, rejecting overflow.
// Used for percentage-style fee math (1 bps = 0.01%).
func BasisPoints(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	scaled, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(bps))
	if overflow {
		return nil, fmt.Errorf("%w: %s * %d bps", ErrArithmeticOverflow, amount, bps)
	}
	return scaled.Div(scaled, uint256.NewInt(10000)), nil
}

// ValidateNonZeroAddress rejects the zero address.
func ValidateNonZeroAddress(addr common.Address, field string) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: %s", ErrZeroAddress, field)
	}
	return nil
}

// ValidateRange checks value is within [min, max] inclusive.
func ValidateRange(value, min, max uint64, field string) error {
	if value < min || value > max {
		return fmt.Errorf("%w: %s=%d not in [%d, %d]", ErrOutOfRange, field, value, min, max)
	}
	return nil
}

// ValidateSameLength checks that all given slice lengths are equal.
func ValidateSameLength(lengths ...int) error {
	for i := 1; i < len(lengths); i++ {
		if lengths[i] != lengths[0] {
			return fmt.Errorf("%w: %d vs %d", ErrArrayLengthMismatch, lengths[0], lengths[i])
		}
	}
	return nil
}
