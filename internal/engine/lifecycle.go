package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invest_go/internal/broker"
	"invest_go/internal/domain"
)

// LifecycleConfig enumerates the execution knobs and their effect.
type LifecycleConfig struct {
	// KBuyTicks/KSellTicks: aggressive pricing chases the last traded price
	// by this many ticks (default 1 each).
	KBuyTicks  int
	KSellTicks int
	// OrderTTL: an unresolved order older than this is proactively expired.
	OrderTTL time.Duration
	// CashBuffer widens the estimated-cost precheck, e.g. 0.01 requires
	// free cash >= cost*1.01 to absorb slippage and fees.
	CashBuffer decimal.Decimal
}

// Lifecycle owns order submission, cancellation, TTL expiry and flattening.
// It is the only component that creates reservations and the idempotency
// keys tagged onto every submission.
type Lifecycle struct {
	api     broker.API
	store   *StateStore
	ledger  *ReservationLedger
	catalog *Catalog
	audit   domain.AuditSink
	cfg     LifecycleConfig

	now   func() time.Time
	newID func() string
}

// NewLifecycle creates the order lifecycle manager.
func NewLifecycle(api broker.API, store *StateStore, ledger *ReservationLedger, catalog *Catalog, audit domain.AuditSink, cfg LifecycleConfig) *Lifecycle {
	if cfg.KBuyTicks <= 0 {
		cfg.KBuyTicks = 1
	}
	if cfg.KSellTicks <= 0 {
		cfg.KSellTicks = 1
	}
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 60 * time.Second
	}
	if cfg.CashBuffer.IsZero() {
		cfg.CashBuffer = decimal.NewFromFloat(0.01)
	}
	return &Lifecycle{
		api:     api,
		store:   store,
		ledger:  ledger,
		catalog: catalog,
		audit:   audit,
		cfg:     cfg,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (l *Lifecycle) emit(ctx context.Context, kind domain.AuditKind, info domain.InstrumentInfo, side domain.Side, lots int, price decimal.Decimal, orderID, clientID, reason string) {
	ev := domain.AuditEvent{
		Kind:          kind,
		InstrumentID:  info.ID,
		Ticker:        info.Ticker,
		At:            l.now().UTC(),
		Side:          side,
		Lots:          lots,
		Price:         price,
		OrderID:       orderID,
		ClientOrderID: clientID,
		Reason:        reason,
	}
	if err := l.audit.Record(ctx, ev); err != nil {
		slog.Warn("audit record failed", slog.String("kind", string(kind)), slog.Any("error", err))
	}
}

// SubmitBuy submits a limit buy for the given number of lots.
//
// Preconditions: no held position and no outstanding order for the
// instrument (both return false without touching the remote). If free cash
// cannot cover the estimated cost plus the buffer, a SKIP is emitted and
// nothing changes. On success the order is recorded, the estimated cost is
// reserved, and a SUBMIT is emitted.
//
// A remote submission failure leaves local state untouched: no order fields,
// no reservation. A later cycle may retry with a fresh idempotency key.
func (l *Lifecycle) SubmitBuy(ctx context.Context, info domain.InstrumentInfo, lots int, suggested decimal.Decimal) (bool, error) {
	st := l.store.Instrument(info.ID)
	if st.PositionLots > 0 || st.HasActiveOrder() {
		return false, nil
	}
	if lots <= 0 {
		return false, nil
	}

	last, err := l.api.LastPrice(ctx, info.ID)
	if err != nil {
		return false, fmt.Errorf("last price %s: %w", info.Ticker, err)
	}

	price := AggressiveBuyPrice(suggested, last, info.PriceStep, l.cfg.KBuyTicks)
	estCost := info.LotCost(price).Mul(decimal.NewFromInt(int64(lots)))
	required := estCost.Mul(decimal.NewFromInt(1).Add(l.cfg.CashBuffer))

	freeCash := l.ledger.FreeCash(l.store.Cash())
	if freeCash.LessThan(required) {
		l.emit(ctx, domain.AuditSkip, info, domain.SideBuy, lots, price, "", "",
			fmt.Sprintf("free cash %s < required %s", freeCash, required))
		return false, nil
	}

	clientID := l.newID()
	orderID, err := l.api.SubmitLimitOrder(ctx, broker.SubmitRequest{
		InstrumentID:  info.ID,
		Side:          domain.SideBuy,
		Lots:          lots,
		Price:         price,
		ClientOrderID: clientID,
	})
	if err != nil {
		slog.Warn("buy submission failed",
			slog.String("ticker", info.Ticker),
			slog.Any("error", err))
		return false, err
	}

	st.SetOrder(orderID, clientID, domain.SideBuy, l.now().UTC())
	l.ledger.Reserve(info.ID, estCost)
	l.store.IncTrades()

	l.emit(ctx, domain.AuditSubmit, info, domain.SideBuy, lots, price, orderID, clientID, "limit_buy")
	return true, nil
}

// SubmitSellToClose closes the full held position with a limit sell. An
// outstanding order is cancelled first (releasing its reservation). The
// suggested price feeds the aggressive pricing rule; pass the last traded
// price to sell at market proximity.
func (l *Lifecycle) SubmitSellToClose(ctx context.Context, info domain.InstrumentInfo, suggested decimal.Decimal) (bool, error) {
	st := l.store.Instrument(info.ID)
	if st.PositionLots <= 0 {
		return false, nil
	}

	if st.HasActiveOrder() {
		if err := l.CancelActiveOrder(ctx, info); err != nil {
			return false, err
		}
	}

	last, err := l.api.LastPrice(ctx, info.ID)
	if err != nil {
		return false, fmt.Errorf("last price %s: %w", info.Ticker, err)
	}
	if !suggested.IsPositive() {
		suggested = last
	}

	price := AggressiveSellPrice(suggested, last, info.PriceStep, l.cfg.KSellTicks)
	lots := st.PositionLots

	clientID := l.newID()
	orderID, err := l.api.SubmitLimitOrder(ctx, broker.SubmitRequest{
		InstrumentID:  info.ID,
		Side:          domain.SideSell,
		Lots:          lots,
		Price:         price,
		ClientOrderID: clientID,
	})
	if err != nil {
		slog.Warn("sell submission failed",
			slog.String("ticker", info.Ticker),
			slog.Any("error", err))
		return false, err
	}

	st.SetOrder(orderID, clientID, domain.SideSell, l.now().UTC())

	l.emit(ctx, domain.AuditSubmit, info, domain.SideSell, lots, price, orderID, clientID, "limit_sell_to_close")
	return true, nil
}

// CancelActiveOrder cancels the instrument's outstanding order remotely,
// then clears local order fields and releases any reservation. The held
// position is unaffected. No-op when no order is outstanding.
func (l *Lifecycle) CancelActiveOrder(ctx context.Context, info domain.InstrumentInfo) error {
	st := l.store.Instrument(info.ID)
	if !st.HasActiveOrder() {
		return nil
	}

	orderID := st.ActiveOrderID
	clientID := st.ClientOrderID

	if err := l.api.CancelOrder(ctx, orderID); err != nil {
		slog.Warn("cancel failed",
			slog.String("ticker", info.Ticker),
			slog.String("order_id", orderID),
			slog.Any("error", err))
		return err
	}

	l.emit(ctx, domain.AuditCancel, info, st.OrderSide, 0, decimal.Zero, orderID, clientID, "cancel_active_order")
	l.ledger.Release(info.ID)
	st.ClearOrder()
	return nil
}

// ExpireStaleOrders cancels every outstanding order strictly older than the
// configured TTL, emitting EXPIRE before the cancel. An order exactly at the
// TTL boundary is not yet stale.
func (l *Lifecycle) ExpireStaleOrders(ctx context.Context) {
	now := l.now()
	for _, id := range l.store.InstrumentIDs() {
		st := l.store.Instrument(id)
		if !st.HasActiveOrder() {
			continue
		}
		if now.Sub(st.OrderPlacedAt) <= l.cfg.OrderTTL {
			continue
		}

		info, ok := l.catalog.ByID(id)
		if !ok {
			info = domain.InstrumentInfo{ID: id}
		}

		l.emit(ctx, domain.AuditExpire, info, st.OrderSide, 0, decimal.Zero, st.ActiveOrderID, st.ClientOrderID,
			fmt.Sprintf("order age %s > ttl %s", now.Sub(st.OrderPlacedAt).Truncate(time.Second), l.cfg.OrderTTL))

		if err := l.CancelActiveOrder(ctx, info); err != nil {
			slog.Warn("expiry cancel failed", slog.String("instrument", id), slog.Any("error", err))
		}
	}
}

// FlattenIfNeeded guarantees zero overnight exposure: once the current time
// reaches flattenAt, every outstanding order is cancelled and every held
// position is closed with a sell at current market price.
func (l *Lifecycle) FlattenIfNeeded(ctx context.Context, flattenAt time.Time) {
	if l.now().Before(flattenAt) {
		return
	}

	for _, id := range l.store.InstrumentIDs() {
		st := l.store.Instrument(id)
		info, ok := l.catalog.ByID(id)
		if !ok {
			info = domain.InstrumentInfo{ID: id}
		}

		if st.HasActiveOrder() {
			if err := l.CancelActiveOrder(ctx, info); err != nil {
				continue // keep the order; retried next cycle
			}
		}

		if st.PositionLots > 0 {
			last, err := l.api.LastPrice(ctx, id)
			if err != nil {
				slog.Warn("flatten: no last price", slog.String("instrument", id), slog.Any("error", err))
				continue
			}
			if _, err := l.SubmitSellToClose(ctx, info, last); err != nil {
				slog.Warn("flatten: sell failed", slog.String("instrument", id), slog.Any("error", err))
			}
		}
	}
}
