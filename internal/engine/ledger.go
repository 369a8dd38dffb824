package engine

import (
	"github.com/shopspring/decimal"
)

// ReservationLedger tracks cash provisionally committed to outstanding buy
// orders. Reservations are local estimates, not brokerage-side holds: they
// exist so the submitter cannot race itself across cycles, nothing more.
type ReservationLedger struct {
	reserved map[string]decimal.Decimal
}

// NewReservationLedger creates an empty ledger.
func NewReservationLedger() *ReservationLedger {
	return &ReservationLedger{reserved: make(map[string]decimal.Decimal)}
}

// Reserve commits cash against an instrument's outstanding buy order.
// A second reserve for the same instrument replaces the first; the lifecycle
// manager never holds two orders per instrument, so this cannot lose money.
func (l *ReservationLedger) Reserve(instrumentID string, amount decimal.Decimal) {
	l.reserved[instrumentID] = amount
}

// Release drops an instrument's reservation. Idempotent: releasing an
// instrument with no reservation is a no-op.
func (l *ReservationLedger) Release(instrumentID string) {
	delete(l.reserved, instrumentID)
}

// Reserved returns the reservation held for an instrument (zero if none).
func (l *ReservationLedger) Reserved(instrumentID string) decimal.Decimal {
	if amt, ok := l.reserved[instrumentID]; ok {
		return amt
	}
	return decimal.Zero
}

// TotalReserved sums all outstanding reservations.
func (l *ReservationLedger) TotalReserved() decimal.Decimal {
	total := decimal.Zero
	for _, amt := range l.reserved {
		total = total.Add(amt)
	}
	return total
}

// FreeCash returns the cash available for new orders given the last known
// balance: balance minus everything already reserved.
func (l *ReservationLedger) FreeCash(cash decimal.Decimal) decimal.Decimal {
	return cash.Sub(l.TotalReserved())
}
