package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invest_go/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

var paperInfo = domain.InstrumentInfo{
	Ticker:    "SBER",
	ID:        "figi-sber",
	Lot:       10,
	PriceStep: d("0.10"),
}

func newTestPaper() *Paper {
	p := NewPaper("rub", d("100000"))
	p.AddInstrument(paperInfo)
	p.SetPrice(paperInfo.ID, d("100.00"))
	return p
}

func TestPaperResolveInstrument(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()

	info, err := p.ResolveInstrument(ctx, "SBER")
	if err != nil {
		t.Fatalf("ResolveInstrument: %v", err)
	}
	if info.ID != paperInfo.ID || info.Lot != 10 {
		t.Errorf("unexpected info %+v", info)
	}

	if _, err := p.ResolveInstrument(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestPaperBuyLifecycle(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()

	// A buy at 99 is below the last price of 100 and must rest.
	orderID, err := p.SubmitLimitOrder(ctx, SubmitRequest{
		InstrumentID:  paperInfo.ID,
		Side:          domain.SideBuy,
		Lots:          2,
		Price:         d("99.00"),
		ClientOrderID: "uid-1",
	})
	if err != nil {
		t.Fatalf("SubmitLimitOrder: %v", err)
	}

	status, err := p.OrderStatus(ctx, orderID)
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if status.Code != StatusActive {
		t.Fatalf("status = %s, want ACTIVE", status.Code)
	}

	// Price drops through the limit: the order fills.
	p.SetPrice(paperInfo.ID, d("98.50"))

	status, _ = p.OrderStatus(ctx, orderID)
	if status.Code != StatusFilled {
		t.Fatalf("status = %s, want FILLED", status.Code)
	}
	if status.LotsExecuted != 2 || !status.AvgPrice.Equal(d("99.00")) {
		t.Errorf("fill details %+v", status)
	}

	// 2 lots * 10 units * 99.00 = 1980 spent.
	balances, _ := p.Cash(ctx)
	if !balances[0].Amount.Equal(d("98020")) {
		t.Errorf("cash = %s, want 98020", balances[0].Amount)
	}

	positions, _ := p.Positions(ctx)
	if len(positions) != 1 || !positions[0].Balance.Equal(d("20")) {
		t.Errorf("positions = %+v, want 20 units", positions)
	}

	ops, _ := p.Operations(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if len(ops) != 1 || !ops[0].Payment.Equal(d("-1980")) {
		t.Errorf("operations = %+v, want one payment of -1980", ops)
	}
}

func TestPaperImmediateCross(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()

	// A buy above the last price is crossable on submission.
	orderID, err := p.SubmitLimitOrder(ctx, SubmitRequest{
		InstrumentID:  paperInfo.ID,
		Side:          domain.SideBuy,
		Lots:          1,
		Price:         d("100.10"),
		ClientOrderID: "uid-1",
	})
	if err != nil {
		t.Fatalf("SubmitLimitOrder: %v", err)
	}
	status, _ := p.OrderStatus(ctx, orderID)
	if status.Code != StatusFilled {
		t.Errorf("status = %s, want FILLED on immediate cross", status.Code)
	}
}

func TestPaperIdempotencyKey(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()
	req := SubmitRequest{
		InstrumentID:  paperInfo.ID,
		Side:          domain.SideBuy,
		Lots:          1,
		Price:         d("99.00"),
		ClientOrderID: "same-key",
	}

	first, err := p.SubmitLimitOrder(ctx, req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := p.SubmitLimitOrder(ctx, req)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first != second {
		t.Errorf("same key created two orders: %s vs %s", first, second)
	}

	orders, _ := p.OpenOrders(ctx)
	if len(orders) != 1 {
		t.Errorf("open orders = %d, want 1", len(orders))
	}
}

func TestPaperCancel(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()

	orderID, _ := p.SubmitLimitOrder(ctx, SubmitRequest{
		InstrumentID:  paperInfo.ID,
		Side:          domain.SideBuy,
		Lots:          1,
		Price:         d("99.00"),
		ClientOrderID: "uid-1",
	})

	if err := p.CancelOrder(ctx, orderID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	status, _ := p.OrderStatus(ctx, orderID)
	if status.Code != StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", status.Code)
	}

	// A cancelled order never fills, even if the price crosses it.
	p.SetPrice(paperInfo.ID, d("90.00"))
	status, _ = p.OrderStatus(ctx, orderID)
	if status.Code != StatusCancelled {
		t.Errorf("cancelled order filled: %s", status.Code)
	}

	if err := p.CancelOrder(ctx, "missing"); err == nil {
		t.Error("expected error cancelling unknown order")
	}
}

func TestPaperRejectsBadSubmissions(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()

	if _, err := p.SubmitLimitOrder(ctx, SubmitRequest{
		InstrumentID: "unknown", Side: domain.SideBuy, Lots: 1, Price: d("1"), ClientOrderID: "a",
	}); !errors.Is(err, ErrRejected) {
		t.Errorf("unknown instrument: want ErrRejected, got %v", err)
	}
	if _, err := p.SubmitLimitOrder(ctx, SubmitRequest{
		InstrumentID: paperInfo.ID, Side: domain.SideBuy, Lots: 0, Price: d("1"), ClientOrderID: "b",
	}); !errors.Is(err, ErrRejected) {
		t.Errorf("zero lots: want ErrRejected, got %v", err)
	}
}

func TestPaperUnknownOrderStatusIsNotFound(t *testing.T) {
	p := newTestPaper()
	status, err := p.OrderStatus(context.Background(), "missing")
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if status.Code != StatusNotFound {
		t.Errorf("status = %s, want NOT_FOUND", status.Code)
	}
}

func TestPaperSellRoundTrip(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()

	// Buy 1 lot at the market, then sell it higher.
	if _, err := p.SubmitLimitOrder(ctx, SubmitRequest{
		InstrumentID: paperInfo.ID, Side: domain.SideBuy, Lots: 1, Price: d("100.00"), ClientOrderID: "buy",
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	sellID, err := p.SubmitLimitOrder(ctx, SubmitRequest{
		InstrumentID: paperInfo.ID, Side: domain.SideSell, Lots: 1, Price: d("101.00"), ClientOrderID: "sell",
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	p.SetPrice(paperInfo.ID, d("101.50"))

	status, _ := p.OrderStatus(ctx, sellID)
	if status.Code != StatusFilled {
		t.Fatalf("sell status = %s, want FILLED", status.Code)
	}

	positions, _ := p.Positions(ctx)
	if len(positions) != 0 {
		t.Errorf("positions after round trip = %+v, want none", positions)
	}
	// -1000 on the buy, +1010 on the sell.
	balances, _ := p.Cash(ctx)
	if !balances[0].Amount.Equal(d("100010")) {
		t.Errorf("cash = %s, want 100010", balances[0].Amount)
	}
}
