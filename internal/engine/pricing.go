package engine

import (
	"github.com/shopspring/decimal"
)

// Aggressive pricing: chase the last traded price by a configured number of
// ticks so a limit order actually fills, while bounding price impact.
//
//	BUY:  max(suggested, last + kBuy*step), rounded up to the step grid
//	SELL: min(suggested, last - kSell*step), rounded down to the step grid

// AggressiveBuyPrice returns the execution price for a buy.
func AggressiveBuyPrice(suggested, last, step decimal.Decimal, kBuy int) decimal.Decimal {
	target := last.Add(step.Mul(decimal.NewFromInt(int64(kBuy))))
	price := suggested
	if target.GreaterThan(price) {
		price = target
	}
	return roundUpToStep(price, step)
}

// AggressiveSellPrice returns the execution price for a sell.
func AggressiveSellPrice(suggested, last, step decimal.Decimal, kSell int) decimal.Decimal {
	target := last.Sub(step.Mul(decimal.NewFromInt(int64(kSell))))
	price := suggested
	if target.LessThan(price) {
		price = target
	}
	return roundDownToStep(price, step)
}

func roundUpToStep(price, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return price
	}
	return price.Div(step).Ceil().Mul(step)
}

func roundDownToStep(price, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return price
	}
	return price.Div(step).Floor().Mul(step)
}
