package domain

import (
	"github.com/shopspring/decimal"
)

// InstrumentInfo holds the immutable trading metadata for one instrument.
// Resolved once per ticker and cached for the process lifetime.
type InstrumentInfo struct {
	Ticker    string          // human ticker, e.g. "SBER"
	ID        string          // opaque instrument key assigned by the brokerage
	Lot       int             // minimum tradable unit multiplier, >= 1
	PriceStep decimal.Decimal // minimum price increment, > 0
}

// LotCost returns the cost of a single lot at the given price.
func (i InstrumentInfo) LotCost(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(i.Lot)))
}
