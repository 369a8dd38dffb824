package strategy

import (
	"fmt"
	"math"
	"time"

	"invest_go/internal/broker"
	"invest_go/internal/domain"
)

const atrPeriod = 14

// MeanReversion buys when the last close drops more than k*ATR below the
// session VWAP and exits on take profit, stop loss or a maximum hold time.
type MeanReversion struct {
	k        float64
	takePct  float64
	stopPct  float64
	lookback int
	maxHold  time.Duration
}

// NewMeanReversion creates the strategy. Zero parameters fall back to
// conservative defaults.
func NewMeanReversion(k, takePct, stopPct float64, lookbackMinutes, maxHoldMinutes int) *MeanReversion {
	if k <= 0 {
		k = 1.2
	}
	if takePct <= 0 {
		takePct = 0.004
	}
	if stopPct <= 0 {
		stopPct = 0.006
	}
	if lookbackMinutes <= 0 {
		lookbackMinutes = 180
	}
	if maxHoldMinutes <= 0 {
		maxHoldMinutes = 240
	}
	return &MeanReversion{
		k:        k,
		takePct:  takePct,
		stopPct:  stopPct,
		lookback: lookbackMinutes,
		maxHold:  time.Duration(maxHoldMinutes) * time.Minute,
	}
}

// MakeSignal evaluates candle history for an instrument without a position.
func (s *MeanReversion) MakeSignal(candles []broker.Candle) Signal {
	if len(candles) == 0 {
		return Signal{Action: ActionHold, Reason: "no candles"}
	}
	if len(candles) > s.lookback {
		candles = candles[len(candles)-s.lookback:]
	}

	last, _ := candles[len(candles)-1].Close.Float64()

	atr, ok := atr(candles, atrPeriod)
	if !ok || atr <= 0 {
		return Signal{Action: ActionHold, Price: last, Reason: "ATR not ready"}
	}

	v := vwap(candles)
	buyLevel := v - s.k*atr

	if last < buyLevel {
		return Signal{
			Action: ActionBuy,
			Price:  last,
			Reason: fmt.Sprintf("last=%.4f below %.4f VWAP=%.4f ATR=%.4f", last, buyLevel, v, atr),
		}
	}
	return Signal{Action: ActionHold, Price: last, Reason: "no edge"}
}

// ExitSignal checks take profit, stop loss and the hold-time limit for an
// open long position.
func (s *MeanReversion) ExitSignal(last float64, st *domain.InstrumentState, now time.Time) Signal {
	if st == nil || st.PositionLots <= 0 {
		return Signal{Action: ActionHold, Price: last, Reason: "flat"}
	}

	entry, _ := st.EntryPrice.Float64()
	if entry > 0 {
		if last >= entry*(1+s.takePct) {
			return Signal{Action: ActionSell, Price: last, Reason: fmt.Sprintf("take profit entry=%.4f last=%.4f", entry, last)}
		}
		if last <= entry*(1-s.stopPct) {
			return Signal{Action: ActionSell, Price: last, Reason: fmt.Sprintf("stop loss entry=%.4f last=%.4f", entry, last)}
		}
	}
	if !st.EntryTime.IsZero() && now.Sub(st.EntryTime) >= s.maxHold {
		return Signal{Action: ActionSell, Price: last, Reason: fmt.Sprintf("held %s", now.Sub(st.EntryTime).Round(time.Minute))}
	}
	return Signal{Action: ActionHold, Price: last, Reason: "hold"}
}

// vwap computes the volume weighted average close. With zero total volume it
// degrades to the last close.
func vwap(candles []broker.Candle) float64 {
	var pv, vol float64
	for _, c := range candles {
		close, _ := c.Close.Float64()
		pv += close * float64(c.Volume)
		vol += float64(c.Volume)
	}
	if vol <= 0 {
		last, _ := candles[len(candles)-1].Close.Float64()
		return last
	}
	return pv / vol
}

// atr computes the simple moving average of the true range over the last n
// candles. It needs at least n+1 candles of history.
func atr(candles []broker.Candle, n int) (float64, bool) {
	if len(candles) < n+1 {
		return 0, false
	}
	var sum float64
	for i := len(candles) - n; i < len(candles); i++ {
		high, _ := candles[i].High.Float64()
		low, _ := candles[i].Low.Float64()
		prevClose, _ := candles[i-1].Close.Float64()
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		sum += tr
	}
	return sum / float64(n), true
}
