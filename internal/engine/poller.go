package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"invest_go/internal/broker"
	"invest_go/internal/domain"
)

// Poller reconciles outstanding orders against remote status and drives
// local state to terminal outcomes. Every terminal outcome releases the
// instrument's reservation exactly once and returns its state to clean.
type Poller struct {
	api     broker.API
	store   *StateStore
	ledger  *ReservationLedger
	catalog *Catalog
	audit   domain.AuditSink

	// lostBudget is how many consecutive NOT_FOUND polls an order survives
	// before it is declared lost. The remote can be transiently inconsistent
	// right after submission; one miss alone must not release cash for an
	// order that may still be live. 1 restores immediate-lost behavior.
	lostBudget int
	misses     map[string]int

	now func() time.Time
}

// NewPoller creates the reconciliation poller.
func NewPoller(api broker.API, store *StateStore, ledger *ReservationLedger, catalog *Catalog, audit domain.AuditSink, lostBudget int) *Poller {
	if lostBudget < 1 {
		lostBudget = 1
	}
	return &Poller{
		api:        api,
		store:      store,
		ledger:     ledger,
		catalog:    catalog,
		audit:      audit,
		lostBudget: lostBudget,
		misses:     make(map[string]int),
		now:        time.Now,
	}
}

func (p *Poller) emit(ctx context.Context, kind domain.AuditKind, info domain.InstrumentInfo, side domain.Side, lots int, price decimal.Decimal, orderID, clientID, reason string) {
	ev := domain.AuditEvent{
		Kind:          kind,
		InstrumentID:  info.ID,
		Ticker:        info.Ticker,
		At:            p.now().UTC(),
		Side:          side,
		Lots:          lots,
		Price:         price,
		OrderID:       orderID,
		ClientOrderID: clientID,
		Reason:        reason,
	}
	if err := p.audit.Record(ctx, ev); err != nil {
		slog.Warn("audit record failed", slog.String("kind", string(kind)), slog.Any("error", err))
	}
}

// Poll queries remote status for every outstanding order and applies the
// outcome. Transport errors skip the instrument: state stays as-is and the
// next cycle retries. Safe to call at any cadence.
func (p *Poller) Poll(ctx context.Context) {
	p.sweepMisses()
	for _, id := range p.store.InstrumentIDs() {
		st := p.store.Instrument(id)
		if !st.HasActiveOrder() {
			continue
		}
		p.pollOne(ctx, id, st)
	}
}

// sweepMisses drops miss counters for orders no longer tracked. An order
// cancelled outside the poll loop would otherwise leave its counter behind,
// and a remote could reuse the id.
func (p *Poller) sweepMisses() {
	if len(p.misses) == 0 {
		return
	}
	active := make(map[string]bool, len(p.misses))
	for _, id := range p.store.InstrumentIDs() {
		st := p.store.Instrument(id)
		if st.HasActiveOrder() {
			active[st.ActiveOrderID] = true
		}
	}
	for orderID := range p.misses {
		if !active[orderID] {
			delete(p.misses, orderID)
		}
	}
}

func (p *Poller) pollOne(ctx context.Context, instrumentID string, st *domain.InstrumentState) {
	orderID := st.ActiveOrderID
	clientID := st.ClientOrderID

	info, ok := p.catalog.ByID(instrumentID)
	if !ok {
		info = domain.InstrumentInfo{ID: instrumentID}
	}

	status, err := p.api.OrderStatus(ctx, orderID)
	if err != nil {
		slog.Warn("order status query failed",
			slog.String("instrument", instrumentID),
			slog.String("order_id", orderID),
			slog.Any("error", err))
		return
	}

	switch status.Code {
	case broker.StatusActive:
		delete(p.misses, orderID)
		// Partial progress is reported but not terminal: the reservation
		// stays until the order settles.
		if status.LotsExecuted > 0 && status.LotsExecuted < status.LotsRequested {
			p.emit(ctx, domain.AuditPartialFill, info, st.OrderSide, status.LotsExecuted, status.AvgPrice,
				orderID, clientID, fmt.Sprintf("%d of %d lots", status.LotsExecuted, status.LotsRequested))
		}
		return

	case broker.StatusFilled:
		p.applyFill(ctx, info, st, status, orderID, clientID)

	case broker.StatusCancelled:
		p.emit(ctx, domain.AuditCancel, info, st.OrderSide, status.LotsExecuted, status.AvgPrice,
			orderID, clientID, "cancelled_by_brokerage")

	case broker.StatusRejected:
		p.emit(ctx, domain.AuditReject, info, st.OrderSide, status.LotsExecuted, status.AvgPrice,
			orderID, clientID, "rejected")

	case broker.StatusNotFound:
		p.misses[orderID]++
		if p.misses[orderID] < p.lostBudget {
			slog.Warn("order not found remotely, holding reservation",
				slog.String("order_id", orderID),
				slog.Int("miss", p.misses[orderID]),
				slog.Int("budget", p.lostBudget))
			return
		}
		// Terminal by ambiguity: the true outcome is unknown, but local
		// bookkeeping must not stay locked forever. Flagged for review.
		p.emit(ctx, domain.AuditLost, info, st.OrderSide, 0, decimal.Zero,
			orderID, clientID, "status NOT_FOUND, manual review required")

	default:
		slog.Warn("unknown order status",
			slog.String("order_id", orderID),
			slog.String("status", string(status.Code)))
		return
	}

	// Terminal outcome: release the reservation, clear order fields, done.
	delete(p.misses, orderID)
	p.ledger.Release(instrumentID)
	st.ClearOrder()
}

// applyFill journals a filled order and keeps entry bookkeeping current.
// It never touches PositionLots: the account snapshot is the sole owner of
// lot counts, and a fill the snapshot already reflected in this cycle must
// not be counted a second time here. A fill the snapshot has not seen yet
// lands on the next refresh.
func (p *Poller) applyFill(ctx context.Context, info domain.InstrumentInfo, st *domain.InstrumentState, status broker.OrderStatus, orderID, clientID string) {
	p.emit(ctx, domain.AuditFill, info, st.OrderSide, status.LotsExecuted, status.AvgPrice,
		orderID, clientID, "filled")

	switch st.OrderSide {
	case domain.SideBuy:
		if st.EntryTime.IsZero() {
			st.EntryTime = p.now().UTC()
		}
		if st.EntryPrice.IsZero() && status.AvgPrice.IsPositive() {
			st.EntryPrice = status.AvgPrice
		}
	case domain.SideSell:
		// The position is closed; the snapshot zeroes the lots. Cleared
		// entry fields keep exit logic quiet until it does.
		st.ClearEntry()
	}
}
