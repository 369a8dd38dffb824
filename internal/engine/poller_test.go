package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"invest_go/internal/broker"
	"invest_go/internal/domain"
)

type pollerFixture struct {
	mock    *broker.Mock
	store   *StateStore
	ledger  *ReservationLedger
	catalog *Catalog
	sink    *captureSink
	poller  *Poller
}

func newPollerFixture(t *testing.T, lostBudget int) *pollerFixture {
	t.Helper()
	mock := &broker.Mock{
		ResolveInstrumentFunc: func(ticker string) (domain.InstrumentInfo, error) {
			return testInfo, nil
		},
	}
	store := NewStateStore()
	ledger := NewReservationLedger()
	catalog := NewCatalog(mock)
	if _, err := catalog.Resolve(context.Background(), testInfo.Ticker); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	sink := &captureSink{}
	return &pollerFixture{
		mock:    mock,
		store:   store,
		ledger:  ledger,
		catalog: catalog,
		sink:    sink,
		poller:  NewPoller(mock, store, ledger, catalog, sink, lostBudget),
	}
}

func (f *pollerFixture) withActiveOrder(side domain.Side) *domain.InstrumentState {
	st := f.store.Instrument(testInfo.ID)
	st.SetOrder("order-1", "client-1", side, time.Now().UTC())
	if side == domain.SideBuy {
		f.ledger.Reserve(testInfo.ID, d("1001"))
	}
	return st
}

func TestPollBuyFill(t *testing.T) {
	f := newPollerFixture(t, 2)
	st := f.withActiveOrder(domain.SideBuy)
	f.mock.OrderStatusFunc = func(string) (broker.OrderStatus, error) {
		return broker.OrderStatus{
			Code:          broker.StatusFilled,
			LotsRequested: 1,
			LotsExecuted:  1,
			AvgPrice:      d("100.05"),
		}, nil
	}

	f.poller.Poll(context.Background())

	// Lot counts belong to the account snapshot; the fill must not add any.
	if st.PositionLots != 0 {
		t.Errorf("PositionLots = %d, want 0 until the next snapshot", st.PositionLots)
	}
	if st.HasActiveOrder() {
		t.Error("order fields not cleared after fill")
	}
	if !f.ledger.Reserved(testInfo.ID).IsZero() {
		t.Error("reservation not released after fill")
	}
	if !st.EntryPrice.Equal(d("100.05")) || st.EntryTime.IsZero() {
		t.Errorf("entry bookkeeping not recorded: %+v", st)
	}
	if !f.sink.has(domain.AuditFill) {
		t.Errorf("no FILL event, got %v", f.sink.kinds())
	}
}

func TestPollSellFillClearsEntry(t *testing.T) {
	f := newPollerFixture(t, 2)
	st := f.withActiveOrder(domain.SideSell)
	st.PositionLots = 3
	st.EntryPrice = d("99")
	st.EntryTime = time.Now()
	f.mock.OrderStatusFunc = func(string) (broker.OrderStatus, error) {
		return broker.OrderStatus{
			Code:          broker.StatusFilled,
			LotsRequested: 3,
			LotsExecuted:  3,
			AvgPrice:      d("101"),
		}, nil
	}

	f.poller.Poll(context.Background())

	// Lots are left for the snapshot to zero; cleared entry fields keep
	// exit logic from acting on the stale count in the meantime.
	if st.PositionLots != 3 {
		t.Errorf("PositionLots = %d, want 3 left for the snapshot", st.PositionLots)
	}
	if !st.EntryPrice.IsZero() || !st.EntryTime.IsZero() {
		t.Error("entry bookkeeping not cleared after exit")
	}
	if st.HasActiveOrder() {
		t.Error("order fields not cleared")
	}
}

func TestPollCancelledAndRejected(t *testing.T) {
	for _, tt := range []struct {
		code broker.StatusCode
		kind domain.AuditKind
	}{
		{broker.StatusCancelled, domain.AuditCancel},
		{broker.StatusRejected, domain.AuditReject},
	} {
		f := newPollerFixture(t, 2)
		st := f.withActiveOrder(domain.SideBuy)
		f.mock.OrderStatusFunc = func(string) (broker.OrderStatus, error) {
			return broker.OrderStatus{Code: tt.code}, nil
		}

		f.poller.Poll(context.Background())

		if st.HasActiveOrder() {
			t.Errorf("%s: order fields not cleared", tt.code)
		}
		if st.PositionLots != 0 {
			t.Errorf("%s: position changed", tt.code)
		}
		if !f.ledger.Reserved(testInfo.ID).IsZero() {
			t.Errorf("%s: reservation not released", tt.code)
		}
		if !f.sink.has(tt.kind) {
			t.Errorf("%s: no %s event, got %v", tt.code, tt.kind, f.sink.kinds())
		}
	}
}

func TestPollPartialFillIsNotTerminal(t *testing.T) {
	f := newPollerFixture(t, 2)
	st := f.withActiveOrder(domain.SideBuy)
	f.mock.OrderStatusFunc = func(string) (broker.OrderStatus, error) {
		return broker.OrderStatus{
			Code:          broker.StatusActive,
			LotsRequested: 5,
			LotsExecuted:  2,
			AvgPrice:      d("100"),
		}, nil
	}

	f.poller.Poll(context.Background())

	if !st.HasActiveOrder() {
		t.Fatal("partially filled order was cleared")
	}
	if f.ledger.Reserved(testInfo.ID).IsZero() {
		t.Fatal("reservation released on a partial fill")
	}
	if !f.sink.has(domain.AuditPartialFill) {
		t.Errorf("no PARTIAL_FILL event, got %v", f.sink.kinds())
	}
}

func TestPollNotFoundNeedsConsecutiveMisses(t *testing.T) {
	f := newPollerFixture(t, 2)
	st := f.withActiveOrder(domain.SideBuy)
	f.mock.OrderStatusFunc = func(string) (broker.OrderStatus, error) {
		return broker.OrderStatus{Code: broker.StatusNotFound}, nil
	}

	// First miss: order stays, reservation stays.
	f.poller.Poll(context.Background())
	if !st.HasActiveOrder() {
		t.Fatal("order lost after a single NOT_FOUND")
	}
	if f.ledger.Reserved(testInfo.ID).IsZero() {
		t.Fatal("reservation released after a single NOT_FOUND")
	}

	// Second consecutive miss: lost for good.
	f.poller.Poll(context.Background())
	if st.HasActiveOrder() {
		t.Fatal("order still active after the miss budget")
	}
	if !f.ledger.Reserved(testInfo.ID).IsZero() {
		t.Fatal("reservation not released for a lost order")
	}
	if !f.sink.has(domain.AuditLost) {
		t.Errorf("no LOST event, got %v", f.sink.kinds())
	}
	if st.PositionLots != 0 {
		t.Error("lost order changed the position")
	}
}

func TestPollNotFoundMissCounterResets(t *testing.T) {
	f := newPollerFixture(t, 2)
	st := f.withActiveOrder(domain.SideBuy)

	codes := []broker.StatusCode{broker.StatusNotFound, broker.StatusActive, broker.StatusNotFound}
	i := 0
	f.mock.OrderStatusFunc = func(string) (broker.OrderStatus, error) {
		code := codes[i]
		i++
		return broker.OrderStatus{Code: code}, nil
	}

	for range codes {
		f.poller.Poll(context.Background())
	}

	// The ACTIVE in between reset the miss counter, so one more NOT_FOUND
	// is not enough to declare the order lost.
	if !st.HasActiveOrder() {
		t.Error("non-consecutive misses declared the order lost")
	}
}

func TestPollTransportErrorLeavesState(t *testing.T) {
	f := newPollerFixture(t, 2)
	st := f.withActiveOrder(domain.SideBuy)
	f.mock.OrderStatusFunc = func(string) (broker.OrderStatus, error) {
		return broker.OrderStatus{}, errors.New("connection reset")
	}

	f.poller.Poll(context.Background())

	if !st.HasActiveOrder() {
		t.Error("transport error cleared the order")
	}
	if f.ledger.Reserved(testInfo.ID).IsZero() {
		t.Error("transport error released the reservation")
	}
	if len(f.sink.events) != 0 {
		t.Errorf("transport error emitted events: %v", f.sink.kinds())
	}
}

func TestPollReleaseExactlyOnce(t *testing.T) {
	f := newPollerFixture(t, 2)
	f.withActiveOrder(domain.SideBuy)
	f.mock.OrderStatusFunc = func(string) (broker.OrderStatus, error) {
		return broker.OrderStatus{Code: broker.StatusCancelled}, nil
	}

	f.poller.Poll(context.Background())
	// A second cycle sees no active order and must not touch anything.
	f.poller.Poll(context.Background())

	cancels := 0
	for _, ev := range f.sink.events {
		if ev.Kind == domain.AuditCancel {
			cancels++
		}
	}
	if cancels != 1 {
		t.Errorf("CANCEL events = %d, want exactly 1", cancels)
	}
}

func TestRefreshThenPollCountsFillOnce(t *testing.T) {
	f := newPollerFixture(t, 2)
	st := f.withActiveOrder(domain.SideBuy)

	// The buy filled between cycles: the account already holds the lots and
	// the status endpoint still reports the fill in the same cycle.
	f.mock.CashFunc = func() ([]broker.CashBalance, error) {
		return []broker.CashBalance{{Currency: "rub", Amount: d("5000")}}, nil
	}
	f.mock.PositionsFunc = func() ([]broker.PositionRecord, error) {
		return []broker.PositionRecord{{InstrumentID: testInfo.ID, Balance: d("30")}}, nil
	}
	f.mock.OrderStatusFunc = func(string) (broker.OrderStatus, error) {
		return broker.OrderStatus{
			Code:          broker.StatusFilled,
			LotsRequested: 3,
			LotsExecuted:  3,
			AvgPrice:      d("100.05"),
		}, nil
	}

	snap := NewSnapshotService(f.mock, f.store, f.catalog, "rub", time.UTC)
	if _, err := snap.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if st.PositionLots != 3 {
		t.Fatalf("after refresh PositionLots = %d, want 3", st.PositionLots)
	}

	f.poller.Poll(context.Background())

	if st.PositionLots != 3 {
		t.Errorf("after poll PositionLots = %d, want 3", st.PositionLots)
	}
	if st.HasActiveOrder() {
		t.Error("order fields not cleared after fill")
	}
	if !f.ledger.Reserved(testInfo.ID).IsZero() {
		t.Error("reservation not released after fill")
	}
	if !f.sink.has(domain.AuditFill) {
		t.Errorf("no FILL event, got %v", f.sink.kinds())
	}
}

func TestPollSweepsStaleMissCounters(t *testing.T) {
	f := newPollerFixture(t, 3)
	st := f.withActiveOrder(domain.SideBuy)
	f.mock.OrderStatusFunc = func(string) (broker.OrderStatus, error) {
		return broker.OrderStatus{Code: broker.StatusNotFound}, nil
	}

	f.poller.Poll(context.Background())
	if len(f.poller.misses) != 1 {
		t.Fatalf("misses = %d, want 1 after a NOT_FOUND", len(f.poller.misses))
	}

	// The order is cancelled outside the poll loop; its counter must not
	// linger past the next cycle.
	st.ClearOrder()
	f.ledger.Release(testInfo.ID)
	f.poller.Poll(context.Background())

	if len(f.poller.misses) != 0 {
		t.Errorf("misses = %d, want 0 after the order went away", len(f.poller.misses))
	}
}
