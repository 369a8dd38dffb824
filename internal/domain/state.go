package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentState is the local execution state for one instrument.
//
// Invariant: ActiveOrderID is set if and only if OrderSide and OrderPlacedAt
// are set. ClearOrder is the only way order fields go back to zero.
type InstrumentState struct {
	ActiveOrderID string    // remote order id, "" when no order is outstanding
	ClientOrderID string    // our idempotency key for the outstanding order
	OrderSide     Side      // side of the outstanding order
	OrderPlacedAt time.Time // when the outstanding order was submitted (UTC)

	// PositionLots is the held position, in lots.
	PositionLots int

	// Entry bookkeeping for exit logic. Zero values mean "no entry recorded".
	EntryPrice decimal.Decimal
	EntryTime  time.Time
}

// HasActiveOrder reports whether an order is outstanding for this instrument.
func (s *InstrumentState) HasActiveOrder() bool {
	return s.ActiveOrderID != ""
}

// SetOrder records a freshly submitted order.
func (s *InstrumentState) SetOrder(orderID, clientID string, side Side, placedAt time.Time) {
	s.ActiveOrderID = orderID
	s.ClientOrderID = clientID
	s.OrderSide = side
	s.OrderPlacedAt = placedAt
}

// ClearOrder resets all order fields in one place.
func (s *InstrumentState) ClearOrder() {
	s.ActiveOrderID = ""
	s.ClientOrderID = ""
	s.OrderSide = ""
	s.OrderPlacedAt = time.Time{}
}

// ClearEntry resets entry bookkeeping after a position is fully closed.
func (s *InstrumentState) ClearEntry() {
	s.EntryPrice = decimal.Zero
	s.EntryTime = time.Time{}
}

// Consistent verifies the active-order invariant.
func (s *InstrumentState) Consistent() bool {
	if s.ActiveOrderID == "" {
		return s.OrderSide == "" && s.OrderPlacedAt.IsZero()
	}
	return s.OrderSide != "" && !s.OrderPlacedAt.IsZero()
}

// BotState maps instruments to their execution state plus day-scoped counters.
type BotState struct {
	Instruments map[string]*InstrumentState
	TradesToday int
	CurrentDay  string // YYYY-MM-DD (UTC), "" before the first tick
}

// NewBotState creates an empty bot state.
func NewBotState() *BotState {
	return &BotState{Instruments: make(map[string]*InstrumentState)}
}

// Get returns the state for an instrument, creating it if missing.
func (b *BotState) Get(instrumentID string) *InstrumentState {
	st, ok := b.Instruments[instrumentID]
	if !ok {
		st = &InstrumentState{}
		b.Instruments[instrumentID] = st
	}
	return st
}

// HasOpenPosition reports whether a position is held for the instrument.
func (b *BotState) HasOpenPosition(instrumentID string) bool {
	st, ok := b.Instruments[instrumentID]
	return ok && st.PositionLots > 0
}

// HasActiveOrder reports whether an order is outstanding for the instrument.
func (b *BotState) HasActiveOrder(instrumentID string) bool {
	st, ok := b.Instruments[instrumentID]
	return ok && st.HasActiveOrder()
}

// OpenPositionsCount returns the number of instruments with a held position.
func (b *BotState) OpenPositionsCount() int {
	n := 0
	for _, st := range b.Instruments {
		if st.PositionLots > 0 {
			n++
		}
	}
	return n
}

// ActiveOrderCount returns the number of outstanding orders.
func (b *BotState) ActiveOrderCount() int {
	n := 0
	for _, st := range b.Instruments {
		if st.HasActiveOrder() {
			n++
		}
	}
	return n
}

// PendingBuyCount counts instruments with an outstanding order but no
// position. Conservative: any such order occupies an entry slot.
func (b *BotState) PendingBuyCount() int {
	n := 0
	for _, st := range b.Instruments {
		if st.HasActiveOrder() && st.PositionLots == 0 {
			n++
		}
	}
	return n
}

// ResetDay starts a new session day and resets day-scoped counters.
// Entry bookkeeping is position state, not day state, and is kept.
func (b *BotState) ResetDay(dayKey string) {
	b.CurrentDay = dayKey
	b.TradesToday = 0
}

// TouchDay resets counters when the day changes. Returns true on rollover.
func (b *BotState) TouchDay(dayKey string) bool {
	if b.CurrentDay == dayKey {
		return false
	}
	b.ResetDay(dayKey)
	return true
}
