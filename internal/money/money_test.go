package money

import (
	"math/big"
	"testing"
)

func TestPriceToBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		decimals uint8
		want     string
	}{
		{"whole dollar 6 decimals", "1", 6, "1000000"},
		{"whole dollar 18 decimals", "1", 18, "1000000000000000000"},
		{"dollar prefix", "$1", 6, "1000000"},
		{"cents", "0.01", 6, "10000"},
		{"tenth of a cent 18 decimals", "0.001", 18, "1000000000000000"},
		{"sub-cent price", "0.0005", 6, "500"},
		{"nine fractional digits", "0.000000001", 18, "1000000000"},
		{"large price", "12345.67", 6, "12345670000"},
		{"no integer part", ".5", 6, "500000"},
		{"trailing dot", "5.", 6, "5000000"},
		{"zero", "0", 6, "0"},
		{"zero with fraction", "0.000", 18, "0"},
		{"excess precision truncated", "0.1234567", 6, "123456"},
		{"leading zeros stripped", "007", 6, "7000000"},
		{"whitespace", " 0.25 ", 6, "250000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PriceToBaseUnits(tt.price, tt.decimals)
			if err != nil {
				t.Fatalf("PriceToBaseUnits(%q, %d) error: %v", tt.price, tt.decimals, err)
			}
			want, _ := new(big.Int).SetString(tt.want, 10)
			if got.Cmp(want) != 0 {
				t.Errorf("PriceToBaseUnits(%q, %d) = %s, want %s", tt.price, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestPriceToBaseUnitsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		price string
	}{
		{"empty", ""},
		{"dollar only", "$"},
		{"letters", "abc"},
		{"mixed", "1.2a"},
		{"two dots", "1.2.3"},
		{"negative", "-1"},
		{"comma", "1,000"},
		{"scientific", "1e6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PriceToBaseUnits(tt.price, 6); err == nil {
				t.Errorf("PriceToBaseUnits(%q) expected error, got nil", tt.price)
			}
		})
	}
}

// Converting to base units and dividing back by 10^d must reproduce the
// original price for any price with at most d fractional digits.
func TestPriceToBaseUnitsRoundTrip(t *testing.T) {
	prices := []string{"1", "0.5", "0.001", "42.42", "1999.999999"}
	const decimals = 6

	for _, p := range prices {
		units, err := PriceToBaseUnits(p, decimals)
		if err != nil {
			t.Fatalf("PriceToBaseUnits(%q) error: %v", p, err)
		}
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil)
		quo, rem := new(big.Int).QuoRem(units, scale, new(big.Int))

		back := quo.String()
		if rem.Sign() != 0 {
			frac := new(big.Int).Abs(rem).String()
			for len(frac) < decimals {
				frac = "0" + frac
			}
			for len(frac) > 1 && frac[len(frac)-1] == '0' {
				frac = frac[:len(frac)-1]
			}
			back += "." + frac
		}

		want, _ := PriceToBaseUnits(back, decimals)
		if want.Cmp(units) != 0 {
			t.Errorf("round trip %q -> %s -> %q mismatch", p, units, back)
		}
	}
}

// Advertisement and verification share this function; the same inputs must
// always produce identical outputs across calls.
func TestPriceToBaseUnitsDeterministic(t *testing.T) {
	a, _ := PriceToBaseUnits("0.001", 18)
	b, _ := PriceToBaseUnits("0.001", 18)
	if a.Cmp(b) != 0 {
		t.Errorf("non-deterministic conversion: %s != %s", a, b)
	}
}
