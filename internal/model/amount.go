package model

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount is a quantity of XMR in piconero (1e-12 XMR).
type Amount uint64

// PiconeroExp is the number of decimal places between XMR and piconero.
const PiconeroExp = 12

// XMR returns the amount as a decimal XMR value.
func (a Amount) XMR() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -PiconeroExp)
}

// String formats the amount in XMR, e.g. "1.5".
func (a Amount) String() string {
	return a.XMR().String()
}

// ParseXMR converts a decimal XMR string such as "0.25" into piconero.
func ParseXMR(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid XMR amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("XMR amount must not be negative: %s", s)
	}
	pico := d.Shift(PiconeroExp)
	if !pico.Equal(pico.Truncate(0)) {
		return 0, fmt.Errorf("XMR amount %s has more than %d decimal places", s, PiconeroExp)
	}
	if !pico.BigInt().IsUint64() {
		return 0, fmt.Errorf("XMR amount %s overflows", s)
	}
	return Amount(pico.BigInt().Uint64()), nil
}
