package engine

import "testing"

func TestParseAmountLocales(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		// European format: dot groups thousands, comma is the decimal.
		{"1.234,56", 1234.56},
		// US format: comma groups thousands, dot is the decimal.
		{"1,234.56", 1234.56},
		// Single dot is a decimal point.
		{"2.5", 2.5},
		// Single comma is a decimal point.
		{"2,5", 2.5},
		// Currency symbols and whitespace are stripped.
		{"€ 1.234,56", 1234.56},
		{"$1,234.56", 1234.56},
		{"EUR 150,00", 150.00},
		// Plain integers.
		{"42", 42},
		// Multiple groups, later separator wins as decimal.
		{"1,234,567.89", 1234567.89},
		{"1.234.567,89", 1234567.89},
	}

	for _, c := range cases {
		got := ParseAmount(c.raw)
		if got != c.want {
			t.Errorf("ParseAmount(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestParseAmountGarbage(t *testing.T) {
	// Unparsable input must collapse to 0.0 so callers can gate on
	// amount > 0 instead of handling parse errors everywhere.
	for _, raw := range []string{"", "abc", "N/A", "--", ",", "."} {
		if got := ParseAmount(raw); got != 0.0 {
			t.Errorf("ParseAmount(%q) = %v, want 0.0", raw, got)
		}
	}
}
