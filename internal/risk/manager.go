// Package risk enforces the daily limits that stop the bot from trading
// itself into a hole: a day loss lock, a trade counter and caps on how many
// positions and resting orders may exist at once.
package risk

import (
	"fmt"
	"log/slog"
)

// PortfolioView is the read-only slice of engine state the manager needs.
type PortfolioView interface {
	TradesToday() int
	OpenPositions() int
	ActiveOrders() int
	PendingBuys() int
	HasOpenPosition(instrumentID string) bool
	HasActiveOrder(instrumentID string) bool
}

// Limits configures the manager. Zero values fall back to the defaults
// used by applyDefaults.
type Limits struct {
	MaxDayLoss           float64
	MaxTradesPerDay      int
	MaxPositions         int
	MaxPendingBuysTotal  int
	MaxActiveOrdersTotal int
}

// Manager tracks the intraday loss lock and answers whether a new entry is
// allowed. It is not safe for concurrent use; the control loop owns it.
type Manager struct {
	limits Limits

	dayMetric float64
	locked    bool
	dayKey    string
}

func NewManager(l Limits) *Manager {
	if l.MaxDayLoss <= 0 {
		l.MaxDayLoss = 100
	}
	if l.MaxTradesPerDay <= 0 {
		l.MaxTradesPerDay = 3
	}
	if l.MaxPositions <= 0 {
		l.MaxPositions = 1
	}
	if l.MaxPendingBuysTotal <= 0 {
		l.MaxPendingBuysTotal = l.MaxPositions
	}
	if l.MaxActiveOrdersTotal <= 0 {
		l.MaxActiveOrdersTotal = l.MaxPositions
	}
	return &Manager{limits: l}
}

// TouchDay resets the loss metric and the lock when the day key changes.
func (m *Manager) TouchDay(dayKey string) {
	if m.dayKey == dayKey {
		return
	}
	m.dayKey = dayKey
	m.dayMetric = 0
	m.locked = false
}

// UpdateDayCashflow records the realized cashflow for the current day and
// engages the lock once the loss limit is breached. The lock stays on for
// the rest of the day even if the metric later recovers.
func (m *Manager) UpdateDayCashflow(cashflow float64) {
	m.dayMetric = cashflow
	if m.dayMetric <= -m.limits.MaxDayLoss {
		if !m.locked {
			slog.Warn("day loss limit hit, locking new entries",
				slog.Float64("cashflow", m.dayMetric),
				slog.Float64("limit", m.limits.MaxDayLoss))
		}
		m.locked = true
	}
}

// LockDay engages the lock manually.
func (m *Manager) LockDay() { m.locked = true }

// DayLocked reports whether new entries are blocked for the day.
func (m *Manager) DayLocked() bool { return m.locked }

// AllowNewTrade decides whether a new entry order may be placed for the
// instrument and returns a short reason when it may not.
func (m *Manager) AllowNewTrade(view PortfolioView, instrumentID string) (bool, string) {
	if m.locked {
		return false, "day_locked"
	}
	if view.TradesToday() >= m.limits.MaxTradesPerDay {
		return false, fmt.Sprintf("max_trades_per_day (today=%d limit=%d)", view.TradesToday(), m.limits.MaxTradesPerDay)
	}
	if view.HasOpenPosition(instrumentID) {
		return false, "already_in_position"
	}
	if view.HasActiveOrder(instrumentID) {
		return false, "active_order_exists"
	}

	// A pending buy occupies a position slot before it fills.
	open := view.OpenPositions()
	pending := view.PendingBuys()
	if open+pending >= m.limits.MaxPositions {
		return false, fmt.Sprintf("max_positions (open=%d pending=%d limit=%d)", open, pending, m.limits.MaxPositions)
	}
	if pending >= m.limits.MaxPendingBuysTotal {
		return false, fmt.Sprintf("max_pending_buys_total (pending=%d limit=%d)", pending, m.limits.MaxPendingBuysTotal)
	}
	if active := view.ActiveOrders(); active >= m.limits.MaxActiveOrdersTotal {
		return false, fmt.Sprintf("max_active_orders_total (active=%d limit=%d)", active, m.limits.MaxActiveOrdersTotal)
	}
	return true, "ok"
}
