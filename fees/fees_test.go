package fees

import (
	"math/big"
	"testing"
)

func mustReserve(t *testing.T, c Calculator, fee int64) Reserve {
	t.Helper()
	r, err := c.Reserve(big.NewInt(fee))
	if err != nil {
		t.Fatalf("Reserve(%d): %v", fee, err)
	}
	return r
}

func TestReserveScenario(t *testing.T) {
	r := mustReserve(t, Default(), 50)
	for name, pair := range map[string][2]string{
		"proportional": {r.Proportional.String(), "10"},
		"floor":        {r.Floor.String(), "2000"},
		"applied":      {r.Applied.String(), "2000"},
		"reserve":      {r.Reserve.String(), "2050"},
		"required":     {r.Required(big.NewInt(1_000_000)).String(), "1002050"},
	} {
		if pair[0] != pair[1] {
			t.Fatalf("%s = %s, want %s", name, pair[0], pair[1])
		}
	}
}

func TestReserveProportionalWins(t *testing.T) {
	r := mustReserve(t, Default(), 100_000)
	if r.Applied.String() != "20000" {
		t.Fatalf("applied = %s, want 20000", r.Applied)
	}
	if r.Reserve.String() != "120000" {
		t.Fatalf("reserve = %s, want 120000", r.Reserve)
	}
}

func TestZeroFeeReserveIsFloor(t *testing.T) {
	r := mustReserve(t, Default(), 0)
	if r.Reserve.Cmp(big.NewInt(DefaultFloor)) != 0 {
		t.Fatalf("reserve = %s, want %d", r.Reserve, DefaultFloor)
	}
}

func TestReserveMonotonic(t *testing.T) {
	calcs := []Calculator{
		Default(),
		{RateBps: 0, Floor: big.NewInt(0)},
		{RateBps: 15_000, Floor: big.NewInt(7)},
		{RateBps: 1, Floor: nil},
	}
	for _, c := range calcs {
		var prev *big.Int
		for fee := int64(0); fee < 50_000; fee += 37 {
			r := mustReserve(t, c, fee)
			if prev != nil && r.Reserve.Cmp(prev) < 0 {
				t.Fatalf("reserve decreased at fee %d with %+v", fee, c)
			}
			prev = r.Reserve
		}
	}
}

func TestReserveRejectsBadInput(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	for name, fee := range map[string]*big.Int{
		"negative":       big.NewInt(-1),
		"nil":            nil,
		"above 256 bits": huge,
		// multiplying by the rate overflows
		"max uint256": new(big.Int).Sub(huge, big.NewInt(1)),
	} {
		if _, err := Default().Reserve(fee); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestQuoteEstimate(t *testing.T) {
	if v, ok := (&Quote{FlatFee: big.NewInt(5), Alternate: big.NewInt(9)}).Estimate(); !ok || v.Int64() != 5 {
		t.Fatalf("flat fee estimate = %v, %v; want 5, true", v, ok)
	}
	if v, ok := (&Quote{FlatFee: big.NewInt(0), Alternate: big.NewInt(9)}).Estimate(); !ok || v.Int64() != 9 {
		t.Fatalf("alternate estimate = %v, %v; want 9, true", v, ok)
	}
	if _, ok := (&Quote{}).Estimate(); ok {
		t.Fatalf("empty quote must not estimate")
	}
	if _, ok := (*Quote)(nil).Estimate(); ok {
		t.Fatalf("nil quote must not estimate")
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": FailOpen, "fail-open": FailOpen, "fail-closed": FailClosed} {
		p, err := ParsePolicy(in)
		if err != nil {
			t.Fatalf("ParsePolicy(%q): %v", in, err)
		}
		if p != want {
			t.Fatalf("ParsePolicy(%q) = %v, want %v", in, p, want)
		}
	}
	if _, err := ParsePolicy("maybe"); err == nil {
		t.Fatalf("expected an error for an unknown policy")
	}
}
