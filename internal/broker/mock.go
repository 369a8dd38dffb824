package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"invest_go/internal/domain"
)

// Mock is a scriptable API implementation for tests. Unset hooks return
// zero values; Submits and Cancels capture every order call for assertions.
type Mock struct {
	ResolveInstrumentFunc func(ticker string) (domain.InstrumentInfo, error)
	CashFunc              func() ([]CashBalance, error)
	PositionsFunc         func() ([]PositionRecord, error)
	OpenOrdersFunc        func() ([]OpenOrder, error)
	SubmitFunc            func(req SubmitRequest) (string, error)
	CancelFunc            func(orderID string) error
	OrderStatusFunc       func(orderID string) (OrderStatus, error)
	LastPriceFunc         func(instrumentID string) (decimal.Decimal, error)
	CandlesFunc           func(instrumentID string) ([]Candle, error)
	OperationsFunc        func(from, to time.Time) ([]Operation, error)

	Submits []SubmitRequest
	Cancels []string
}

func (m *Mock) ResolveInstrument(ctx context.Context, ticker string) (domain.InstrumentInfo, error) {
	if m.ResolveInstrumentFunc != nil {
		return m.ResolveInstrumentFunc(ticker)
	}
	return domain.InstrumentInfo{}, ErrNotFound
}

func (m *Mock) Cash(ctx context.Context) ([]CashBalance, error) {
	if m.CashFunc != nil {
		return m.CashFunc()
	}
	return nil, nil
}

func (m *Mock) Positions(ctx context.Context) ([]PositionRecord, error) {
	if m.PositionsFunc != nil {
		return m.PositionsFunc()
	}
	return nil, nil
}

func (m *Mock) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	if m.OpenOrdersFunc != nil {
		return m.OpenOrdersFunc()
	}
	return nil, nil
}

func (m *Mock) SubmitLimitOrder(ctx context.Context, req SubmitRequest) (string, error) {
	m.Submits = append(m.Submits, req)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(req)
	}
	return "order-1", nil
}

func (m *Mock) CancelOrder(ctx context.Context, orderID string) error {
	m.Cancels = append(m.Cancels, orderID)
	if m.CancelFunc != nil {
		return m.CancelFunc(orderID)
	}
	return nil
}

func (m *Mock) OrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	if m.OrderStatusFunc != nil {
		return m.OrderStatusFunc(orderID)
	}
	return OrderStatus{Code: StatusActive}, nil
}

func (m *Mock) LastPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error) {
	if m.LastPriceFunc != nil {
		return m.LastPriceFunc(instrumentID)
	}
	return decimal.Zero, nil
}

func (m *Mock) Candles(ctx context.Context, instrumentID string, lookback time.Duration) ([]Candle, error) {
	if m.CandlesFunc != nil {
		return m.CandlesFunc(instrumentID)
	}
	return nil, nil
}

func (m *Mock) Operations(ctx context.Context, from, to time.Time) ([]Operation, error) {
	if m.OperationsFunc != nil {
		return m.OperationsFunc(from, to)
	}
	return nil, nil
}
