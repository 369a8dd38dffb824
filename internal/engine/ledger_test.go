package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLedgerReserveRelease(t *testing.T) {
	l := NewReservationLedger()

	l.Reserve("i1", d("1000"))
	l.Reserve("i2", d("500"))

	if got := l.TotalReserved(); !got.Equal(d("1500")) {
		t.Fatalf("TotalReserved = %s, want 1500", got)
	}
	if got := l.Reserved("i1"); !got.Equal(d("1000")) {
		t.Errorf("Reserved(i1) = %s, want 1000", got)
	}

	l.Release("i1")
	if got := l.TotalReserved(); !got.Equal(d("500")) {
		t.Errorf("after release TotalReserved = %s, want 500", got)
	}

	// Releasing twice must not go negative or panic.
	l.Release("i1")
	if got := l.TotalReserved(); !got.Equal(d("500")) {
		t.Errorf("double release changed total: %s", got)
	}
	if got := l.Reserved("i1"); !got.IsZero() {
		t.Errorf("Reserved(i1) after release = %s, want 0", got)
	}
}

func TestLedgerReserveReplaces(t *testing.T) {
	l := NewReservationLedger()
	l.Reserve("i1", d("1000"))
	l.Reserve("i1", d("700"))
	if got := l.TotalReserved(); !got.Equal(d("700")) {
		t.Errorf("TotalReserved = %s, want 700 (replace, not add)", got)
	}
}

func TestLedgerFreeCash(t *testing.T) {
	l := NewReservationLedger()
	l.Reserve("i1", d("9000"))

	free := l.FreeCash(d("10000"))
	if !free.Equal(d("1000")) {
		t.Fatalf("FreeCash = %s, want 1000", free)
	}

	// 1200 does not fit into 1000 even though raw cash would cover it.
	cost := d("1200")
	if free.GreaterThanOrEqual(cost) {
		t.Errorf("expected cost %s to exceed free cash %s", cost, free)
	}

	free = l.FreeCash(decimal.Zero)
	if !free.Equal(d("-9000")) {
		t.Errorf("FreeCash(0) = %s, want -9000", free)
	}
}
