package strategy

import (
	"time"

	"invest_go/internal/broker"
	"invest_go/internal/domain"
)

// Action is the strategy's verdict for a single instrument on one cycle.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal carries the entry or exit decision plus the suggested limit price.
type Signal struct {
	Action Action
	Price  float64
	Reason string
}

// Strategy produces entry signals from candle history and exit signals from
// the current position.
type Strategy interface {
	// MakeSignal evaluates candle history for a flat instrument.
	MakeSignal(candles []broker.Candle) Signal

	// ExitSignal evaluates an open position against the latest price.
	ExitSignal(last float64, st *domain.InstrumentState, now time.Time) Signal
}
