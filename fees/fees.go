// Package fees turns a privacy-engine flat-fee quote into the reserve that
// must stay available in the private balance beyond an action's amount.
package fees

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// BpsDenominator is 100% in basis points.
	BpsDenominator = 10_000
	// DefaultRateBps is the proportional buffer applied to the flat fee.
	DefaultRateBps = 2_000
	// DefaultFloor is the minimum buffer, 0.002 of a 6-decimal token.
	DefaultFloor = 2_000
)

// Reserve is derived per action and never stored.
type Reserve struct {
	FlatFee      *big.Int
	Reserve      *big.Int
	Proportional *big.Int
	Floor        *big.Int
	// Applied is the larger of Proportional and Floor.
	Applied *big.Int
}

// Calculator computes reserve = flatFee + max(flatFee*RateBps/10000, Floor).
type Calculator struct {
	RateBps uint64
	Floor   *big.Int
}

// Default returns the calculator with the default rate and floor.
func Default() Calculator {
	return Calculator{RateBps: DefaultRateBps, Floor: big.NewInt(DefaultFloor)}
}

// Reserve computes the buffered reserve for flatFee. Negative or
// overflowing inputs are rejected.
func (c Calculator) Reserve(flatFee *big.Int) (Reserve, error) {
	if flatFee == nil || flatFee.Sign() < 0 {
		return Reserve{}, fmt.Errorf("flat fee must be non-negative")
	}
	fee, overflow := uint256.FromBig(flatFee)
	if overflow {
		return Reserve{}, fmt.Errorf("flat fee %s overflows 256 bits", flatFee)
	}
	floor := new(uint256.Int)
	if c.Floor != nil {
		if c.Floor.Sign() < 0 {
			return Reserve{}, fmt.Errorf("fee floor must be non-negative")
		}
		if floor, overflow = uint256.FromBig(c.Floor); overflow {
			return Reserve{}, fmt.Errorf("fee floor %s overflows 256 bits", c.Floor)
		}
	}

	scaled, overflow := new(uint256.Int).MulOverflow(fee, uint256.NewInt(c.RateBps))
	if overflow {
		return Reserve{}, fmt.Errorf("fee buffer overflows 256 bits")
	}
	proportional := new(uint256.Int).Div(scaled, uint256.NewInt(BpsDenominator))

	applied := proportional
	if floor.Gt(proportional) {
		applied = floor
	}
	total, overflow := new(uint256.Int).AddOverflow(fee, applied)
	if overflow {
		return Reserve{}, fmt.Errorf("fee reserve overflows 256 bits")
	}

	return Reserve{
		FlatFee:      fee.ToBig(),
		Reserve:      total.ToBig(),
		Proportional: proportional.ToBig(),
		Floor:        floor.ToBig(),
		Applied:      applied.ToBig(),
	}, nil
}

// Required returns amount plus the reserve.
func (r Reserve) Required(amount *big.Int) *big.Int {
	return new(big.Int).Add(amount, r.Reserve)
}

// Policy decides what an action does when no fee quote is available.
type Policy int

const (
	// FailOpen skips the reserve check and lets the engine reject the
	// action if funds are short.
	FailOpen Policy = iota
	// FailClosed blocks the action.
	FailClosed
)

// ParsePolicy accepts "fail-open", "fail-closed" or "" (fail-open).
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "fail-open":
		return FailOpen, nil
	case "fail-closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("unknown fee policy %q", s)
	}
}

func (p Policy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// Quote is what the engine reports for a sequence of operations.
type Quote struct {
	FlatFee *big.Int
	// Alternate is a secondary estimate used when FlatFee is absent or zero.
	Alternate *big.Int
}

// Estimate picks the first positive value among FlatFee and Alternate.
func (q *Quote) Estimate() (*big.Int, bool) {
	if q == nil {
		return nil, false
	}
	if q.FlatFee != nil && q.FlatFee.Sign() > 0 {
		return q.FlatFee, true
	}
	if q.Alternate != nil && q.Alternate.Sign() > 0 {
		return q.Alternate, true
	}
	return nil, false
}
