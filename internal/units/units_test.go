package units

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"0.002", 6, "2000"},
		{"1", 6, "1000000"},
		{"1.5", 6, "1500000"},
		{".5", 6, "500000"},
		{"12.", 6, "12000000"},
		{"0.000001", 6, "1"},
		{"2.25", 18, "2250000000000000000"},
		{"7", 0, "7"},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("Parse(%q, %d): %v", tc.in, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("Parse(%q, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "-1", "abc", "1.2.3", "0.0000001", ".", "1e6", "0x10"} {
		if _, err := Parse(in, 6); err == nil {
			t.Fatalf("Parse(%q) should fail", in)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		v        int64
		decimals uint8
		want     string
	}{
		{1002050, 6, "1.00205"},
		{2000, 6, "0.002"},
		{1000000, 6, "1"},
		{0, 6, "0"},
		{1, 6, "0.000001"},
		{-1500000, 6, "-1.5"},
		{42, 0, "42"},
	}
	for _, tc := range cases {
		if got := Format(big.NewInt(tc.v), tc.decimals); got != tc.want {
			t.Fatalf("Format(%d, %d) = %q, want %q", tc.v, tc.decimals, got, tc.want)
		}
	}
}
