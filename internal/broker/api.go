// Package broker abstracts the remote brokerage: instrument resolution,
// account snapshots, limit order submission and status queries. The engine
// only ever talks to the API interface; live REST, paper simulation and test
// mocks all sit behind it.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"invest_go/internal/domain"
)

var (
	// ErrNotFound is returned by ResolveInstrument when the ticker matches
	// zero or more than one instrument.
	ErrNotFound = errors.New("instrument not found")

	// ErrRejected is returned by SubmitLimitOrder on an explicit remote
	// rejection (as opposed to a transport failure).
	ErrRejected = errors.New("order rejected by brokerage")
)

// StatusCode is the remote view of an order's progress.
type StatusCode string

const (
	StatusActive    StatusCode = "ACTIVE"
	StatusFilled    StatusCode = "FILLED"
	StatusCancelled StatusCode = "CANCELLED"
	StatusRejected  StatusCode = "REJECTED"
	StatusNotFound  StatusCode = "NOT_FOUND"
)

// OrderStatus is the result of a status query.
type OrderStatus struct {
	Code          StatusCode
	Side          domain.Side
	LotsRequested int
	LotsExecuted  int
	AvgPrice      decimal.Decimal // average fill price, zero if nothing executed
}

// CashBalance is one currency entry of the account's money positions.
type CashBalance struct {
	Currency string
	Amount   decimal.Decimal
}

// PositionRecord is one security entry of the account's positions.
// Balance is in raw units, not lots.
type PositionRecord struct {
	InstrumentID string
	Balance      decimal.Decimal
}

// OpenOrder is one entry of the account's currently open orders.
type OpenOrder struct {
	OrderID      string
	InstrumentID string
	Side         domain.Side
	Lots         int
	Price        decimal.Decimal
	PlacedAt     time.Time
}

// SubmitRequest describes a limit order submission. ClientOrderID is the
// idempotency key: resubmitting with the same key must not create a second
// order for the same logical intent.
type SubmitRequest struct {
	InstrumentID  string
	Side          domain.Side
	Lots          int
	Price         decimal.Decimal
	ClientOrderID string
}

// Operation is one account operation (fill payment, fee, deposit).
type Operation struct {
	Currency string
	Payment  decimal.Decimal // signed: negative for buys/fees
	At       time.Time
}

// Candle is one aggregated minute bar.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// API is the capability surface the bot consumes from the brokerage.
// All calls are synchronous: they return a definitive success/failure before
// the caller mutates any local state.
type API interface {
	ResolveInstrument(ctx context.Context, ticker string) (domain.InstrumentInfo, error)
	Cash(ctx context.Context) ([]CashBalance, error)
	Positions(ctx context.Context) ([]PositionRecord, error)
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
	SubmitLimitOrder(ctx context.Context, req SubmitRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	LastPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error)
	Candles(ctx context.Context, instrumentID string, lookback time.Duration) ([]Candle, error)
	Operations(ctx context.Context, from, to time.Time) ([]Operation, error)
}
