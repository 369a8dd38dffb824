package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestAggressiveBuyPrice(t *testing.T) {
	tests := []struct {
		name      string
		suggested string
		last      string
		step      string
		k         int
		want      string
	}{
		{"chases last plus tick", "99.80", "100.00", "0.10", 1, "100.10"},
		{"keeps higher suggestion", "100.50", "100.00", "0.10", 1, "100.50"},
		{"rounds up to grid", "100.23", "100.00", "0.10", 1, "100.30"},
		{"two ticks", "99.80", "100.00", "0.10", 2, "100.20"},
		{"zero step passes through", "99.80", "100.00", "0", 1, "100.00"},
	}

	for _, tt := range tests {
		got := AggressiveBuyPrice(d(tt.suggested), d(tt.last), d(tt.step), tt.k)
		if !got.Equal(d(tt.want)) {
			t.Errorf("%s: AggressiveBuyPrice(%s, %s, %s, %d) = %s, want %s",
				tt.name, tt.suggested, tt.last, tt.step, tt.k, got, tt.want)
		}
	}
}

func TestAggressiveSellPrice(t *testing.T) {
	tests := []struct {
		name      string
		suggested string
		last      string
		step      string
		k         int
		want      string
	}{
		{"chases last minus tick", "100.25", "100.00", "0.10", 1, "99.90"},
		{"keeps lower suggestion", "99.50", "100.00", "0.10", 1, "99.50"},
		{"rounds down to grid", "99.87", "100.00", "0.10", 1, "99.80"},
		{"two ticks", "100.25", "100.00", "0.10", 2, "99.80"},
	}

	for _, tt := range tests {
		got := AggressiveSellPrice(d(tt.suggested), d(tt.last), d(tt.step), tt.k)
		if !got.Equal(d(tt.want)) {
			t.Errorf("%s: AggressiveSellPrice(%s, %s, %s, %d) = %s, want %s",
				tt.name, tt.suggested, tt.last, tt.step, tt.k, got, tt.want)
		}
	}
}
