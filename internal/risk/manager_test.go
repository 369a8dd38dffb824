package risk

import (
	"strings"
	"testing"
)

// fakeView is a scriptable PortfolioView.
type fakeView struct {
	trades    int
	open      int
	active    int
	pending   int
	positions map[string]bool
	orders    map[string]bool
}

func (f *fakeView) TradesToday() int   { return f.trades }
func (f *fakeView) OpenPositions() int { return f.open }
func (f *fakeView) ActiveOrders() int  { return f.active }
func (f *fakeView) PendingBuys() int   { return f.pending }
func (f *fakeView) HasOpenPosition(id string) bool {
	return f.positions[id]
}
func (f *fakeView) HasActiveOrder(id string) bool {
	return f.orders[id]
}

func limits() Limits {
	return Limits{
		MaxDayLoss:           100,
		MaxTradesPerDay:      3,
		MaxPositions:         2,
		MaxPendingBuysTotal:  2,
		MaxActiveOrdersTotal: 2,
	}
}

func TestAllowNewTradeHappyPath(t *testing.T) {
	m := NewManager(limits())
	ok, reason := m.AllowNewTrade(&fakeView{}, "figi-1")
	if !ok {
		t.Errorf("fresh state blocked: %s", reason)
	}
}

func TestAllowNewTradeReasons(t *testing.T) {
	tests := []struct {
		name   string
		view   fakeView
		reason string
	}{
		{"trade limit", fakeView{trades: 3}, "max_trades_per_day"},
		{"already in position", fakeView{positions: map[string]bool{"figi-1": true}}, "already_in_position"},
		{"order outstanding", fakeView{orders: map[string]bool{"figi-1": true}}, "active_order_exists"},
		{"position slots full", fakeView{open: 1, pending: 1}, "max_positions"},
		{"pending buy cap", fakeView{open: 0, pending: 2}, "max_positions"},
		{"active order cap", fakeView{active: 2}, "max_active_orders_total"},
	}

	for _, tt := range tests {
		m := NewManager(limits())
		ok, reason := m.AllowNewTrade(&tt.view, "figi-1")
		if ok {
			t.Errorf("%s: trade allowed, want block", tt.name)
			continue
		}
		if !strings.HasPrefix(reason, tt.reason) {
			t.Errorf("%s: reason = %q, want prefix %q", tt.name, reason, tt.reason)
		}
	}
}

func TestDayLockEngagesAndHolds(t *testing.T) {
	m := NewManager(limits())
	m.TouchDay("2026-03-02")

	m.UpdateDayCashflow(-99)
	if m.DayLocked() {
		t.Fatal("locked below the loss limit")
	}

	m.UpdateDayCashflow(-100)
	if !m.DayLocked() {
		t.Fatal("not locked at the loss limit")
	}

	// Recovery does not unlock: the day is spent.
	m.UpdateDayCashflow(50)
	if !m.DayLocked() {
		t.Error("lock released within the same day")
	}

	if ok, reason := m.AllowNewTrade(&fakeView{}, "figi-1"); ok || reason != "day_locked" {
		t.Errorf("locked day allowed a trade (reason %q)", reason)
	}

	// A new day resets the lock.
	m.TouchDay("2026-03-03")
	if m.DayLocked() {
		t.Error("lock survived the day rollover")
	}
}

func TestManualLock(t *testing.T) {
	m := NewManager(limits())
	m.LockDay()
	if !m.DayLocked() {
		t.Error("manual lock not engaged")
	}
}
