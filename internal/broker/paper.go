package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invest_go/internal/domain"
)

// Paper simulates the brokerage in memory for dry-run mode. Limit orders
// rest until the last known price crosses them; fills move cash and
// positions and are recorded as operations, mirroring what the live API
// reports. Idempotency keys deduplicate submissions like the real remote.
type Paper struct {
	mu sync.Mutex

	currency    string
	cash        decimal.Decimal
	instruments map[string]domain.InstrumentInfo // by instrument ID
	positions   map[string]decimal.Decimal       // raw unit balances
	prices      map[string]decimal.Decimal
	orders      map[string]*paperOrder
	byClientID  map[string]string // idempotency key -> order id
	operations  []Operation

	now func() time.Time
}

type paperOrder struct {
	id           string
	instrumentID string
	side         domain.Side
	lots         int
	price        decimal.Decimal
	placedAt     time.Time
	status       StatusCode
	lotsExecuted int
	avgPrice     decimal.Decimal
}

// NewPaper creates a paper brokerage seeded with initial cash.
func NewPaper(currency string, initialCash decimal.Decimal) *Paper {
	return &Paper{
		currency:    currency,
		cash:        initialCash,
		instruments: make(map[string]domain.InstrumentInfo),
		positions:   make(map[string]decimal.Decimal),
		prices:      make(map[string]decimal.Decimal),
		orders:      make(map[string]*paperOrder),
		byClientID:  make(map[string]string),
		now:         time.Now,
	}
}

// AddInstrument registers an instrument the simulator should know about.
func (p *Paper) AddInstrument(info domain.InstrumentInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instruments[info.ID] = info
}

// SetPrice updates the simulated last traded price and settles any resting
// orders the new price crosses.
func (p *Paper) SetPrice(instrumentID string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[instrumentID] = price
	p.settle(instrumentID, price)
}

// settle fills crossable resting orders. Must be called with the lock held.
func (p *Paper) settle(instrumentID string, last decimal.Decimal) {
	for _, o := range p.orders {
		if o.instrumentID != instrumentID || o.status != StatusActive {
			continue
		}
		crossed := (o.side == domain.SideBuy && last.LessThanOrEqual(o.price)) ||
			(o.side == domain.SideSell && last.GreaterThanOrEqual(o.price))
		if !crossed {
			continue
		}
		p.fill(o)
	}
}

func (p *Paper) fill(o *paperOrder) {
	info := p.instruments[o.instrumentID]
	units := decimal.NewFromInt(int64(o.lots * info.Lot))
	notional := o.price.Mul(units)

	switch o.side {
	case domain.SideBuy:
		p.cash = p.cash.Sub(notional)
		p.positions[o.instrumentID] = p.positions[o.instrumentID].Add(units)
		p.operations = append(p.operations, Operation{
			Currency: p.currency, Payment: notional.Neg(), At: p.now(),
		})
	case domain.SideSell:
		p.cash = p.cash.Add(notional)
		p.positions[o.instrumentID] = p.positions[o.instrumentID].Sub(units)
		p.operations = append(p.operations, Operation{
			Currency: p.currency, Payment: notional, At: p.now(),
		})
	}

	o.status = StatusFilled
	o.lotsExecuted = o.lots
	o.avgPrice = o.price

	slog.Info("paper fill",
		slog.String("order_id", o.id),
		slog.String("instrument", o.instrumentID),
		slog.String("side", string(o.side)),
		slog.Int("lots", o.lots),
		slog.String("price", o.price.String()))
}

func (p *Paper) ResolveInstrument(ctx context.Context, ticker string) (domain.InstrumentInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, info := range p.instruments {
		if info.Ticker == ticker {
			return info, nil
		}
	}
	return domain.InstrumentInfo{}, fmt.Errorf("paper resolve %s: %w", ticker, ErrNotFound)
}

func (p *Paper) Cash(ctx context.Context) ([]CashBalance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return []CashBalance{{Currency: p.currency, Amount: p.cash}}, nil
}

func (p *Paper) Positions(ctx context.Context) ([]PositionRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	records := make([]PositionRecord, 0, len(p.positions))
	for id, bal := range p.positions {
		if bal.IsZero() {
			continue
		}
		records = append(records, PositionRecord{InstrumentID: id, Balance: bal})
	}
	return records, nil
}

func (p *Paper) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	orders := make([]OpenOrder, 0)
	for _, o := range p.orders {
		if o.status != StatusActive {
			continue
		}
		orders = append(orders, OpenOrder{
			OrderID:      o.id,
			InstrumentID: o.instrumentID,
			Side:         o.side,
			Lots:         o.lots,
			Price:        o.price,
			PlacedAt:     o.placedAt,
		})
	}
	return orders, nil
}

func (p *Paper) SubmitLimitOrder(ctx context.Context, req SubmitRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Idempotency: the same client key always maps to the same order.
	if existing, ok := p.byClientID[req.ClientOrderID]; ok {
		return existing, nil
	}

	if _, ok := p.instruments[req.InstrumentID]; !ok {
		return "", fmt.Errorf("paper submit: unknown instrument %s: %w", req.InstrumentID, ErrRejected)
	}
	if req.Lots <= 0 || !req.Price.IsPositive() {
		return "", fmt.Errorf("paper submit: bad lots=%d price=%s: %w", req.Lots, req.Price, ErrRejected)
	}

	o := &paperOrder{
		id:           uuid.NewString(),
		instrumentID: req.InstrumentID,
		side:         req.Side,
		lots:         req.Lots,
		price:        req.Price,
		placedAt:     p.now(),
		status:       StatusActive,
	}
	p.orders[o.id] = o
	p.byClientID[req.ClientOrderID] = o.id

	// An aggressive limit price may be immediately crossable.
	if last, ok := p.prices[req.InstrumentID]; ok {
		p.settle(req.InstrumentID, last)
	}

	return o.id, nil
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper cancel: order %s not found", orderID)
	}
	if o.status == StatusFilled {
		return fmt.Errorf("paper cancel: order %s already filled", orderID)
	}
	o.status = StatusCancelled
	return nil
}

func (p *Paper) OrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return OrderStatus{Code: StatusNotFound}, nil
	}
	return OrderStatus{
		Code:          o.status,
		Side:          o.side,
		LotsRequested: o.lots,
		LotsExecuted:  o.lotsExecuted,
		AvgPrice:      o.avgPrice,
	}, nil
}

func (p *Paper) LastPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[instrumentID]
	if !ok {
		return decimal.Zero, fmt.Errorf("paper: no price for %s", instrumentID)
	}
	return price, nil
}

func (p *Paper) Candles(ctx context.Context, instrumentID string, lookback time.Duration) ([]Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// The simulator keeps no bar history; synthesize a flat series from the
	// last price so the strategy has something to chew on in dry runs.
	price, ok := p.prices[instrumentID]
	if !ok {
		return nil, fmt.Errorf("paper: no price for %s", instrumentID)
	}
	bars := int(lookback / time.Minute)
	now := p.now().Truncate(time.Minute)
	candles := make([]Candle, 0, bars)
	for i := bars; i > 0; i-- {
		candles = append(candles, Candle{
			Time: now.Add(-time.Duration(i) * time.Minute),
			Open: price, High: price, Low: price, Close: price,
			Volume: 1,
		})
	}
	return candles, nil
}

func (p *Paper) Operations(ctx context.Context, from, to time.Time) ([]Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Operation
	for _, op := range p.operations {
		if op.At.Before(from) || op.At.After(to) {
			continue
		}
		out = append(out, op)
	}
	return out, nil
}
