package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"invest_go/internal/domain"
)

// StateStore is the single source of local truth: per-instrument execution
// state, the last cash snapshot and day-scoped counters. It is owned by the
// engine and mutated only by the lifecycle manager, the reconciliation
// poller and the snapshot service; a single logical control loop drives all
// of them, so the store itself carries no locking.
type StateStore struct {
	state *domain.BotState
	cash  decimal.Decimal
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{state: domain.NewBotState()}
}

// Instrument returns the mutable state for an instrument. Engine-internal;
// collaborators use the read-only query surface below.
func (s *StateStore) Instrument(instrumentID string) *domain.InstrumentState {
	return s.state.Get(instrumentID)
}

// InstrumentIDs returns the ids of all instruments with tracked state.
func (s *StateStore) InstrumentIDs() []string {
	ids := make([]string, 0, len(s.state.Instruments))
	for id := range s.state.Instruments {
		ids = append(ids, id)
	}
	return ids
}

// SetCash records the cash snapshot from the last account refresh.
// The value is a snapshot, not live: prechecks against it are valid only
// until the next refresh.
func (s *StateStore) SetCash(cash decimal.Decimal) {
	s.cash = cash
}

// Cash returns the last snapshotted cash balance.
func (s *StateStore) Cash() decimal.Decimal {
	return s.cash
}

// TouchDay rolls day counters when the session date changes.
// Returns true on rollover so callers can reset their own daily state.
func (s *StateStore) TouchDay(dayKey string) bool {
	return s.state.TouchDay(dayKey)
}

// IncTrades bumps the session trade counter.
func (s *StateStore) IncTrades() {
	s.state.TradesToday++
}

// --- read-only query surface for strategy and risk collaborators ---

func (s *StateStore) CurrentDay() string  { return s.state.CurrentDay }
func (s *StateStore) TradesToday() int    { return s.state.TradesToday }
func (s *StateStore) OpenPositions() int  { return s.state.OpenPositionsCount() }
func (s *StateStore) ActiveOrders() int   { return s.state.ActiveOrderCount() }
func (s *StateStore) PendingBuys() int    { return s.state.PendingBuyCount() }

// HasOpenPosition reports whether a position is held for the instrument.
func (s *StateStore) HasOpenPosition(instrumentID string) bool {
	return s.state.HasOpenPosition(instrumentID)
}

// HasActiveOrder reports whether an order is outstanding for the instrument.
func (s *StateStore) HasActiveOrder(instrumentID string) bool {
	return s.state.HasActiveOrder(instrumentID)
}

// PositionLots returns the held position in lots.
func (s *StateStore) PositionLots(instrumentID string) int {
	return s.state.Get(instrumentID).PositionLots
}

// Entry returns the recorded entry price and time for a held position.
// Zero values mean no entry is recorded.
func (s *StateStore) Entry(instrumentID string) (decimal.Decimal, time.Time) {
	st := s.state.Get(instrumentID)
	return st.EntryPrice, st.EntryTime
}
