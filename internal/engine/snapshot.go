package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"invest_go/internal/broker"
)

// AccountSnapshot is the result of one account refresh.
type AccountSnapshot struct {
	Cash       decimal.Decimal
	Positions  map[string]int // instrument id -> lots
	OpenOrders int
}

// SnapshotService pulls authoritative cash/position/open-order snapshots
// from the brokerage and writes them into the state store. The stored cash
// value is a snapshot: prechecks against it are accepted to be stale for up
// to one refresh interval.
type SnapshotService struct {
	api      broker.API
	store    *StateStore
	catalog  *Catalog
	currency string
	location *time.Location

	now func() time.Time
}

// NewSnapshotService creates a snapshot service filtered to one settlement
// currency. Day boundaries for the cashflow metric use the given location.
func NewSnapshotService(api broker.API, store *StateStore, catalog *Catalog, currency string, loc *time.Location) *SnapshotService {
	if loc == nil {
		loc = time.UTC
	}
	return &SnapshotService{
		api:      api,
		store:    store,
		catalog:  catalog,
		currency: currency,
		location: loc,
		now:      time.Now,
	}
}

// Refresh fetches cash, positions and open orders and writes them into the
// store. It also rolls the session day when the date changes.
func (s *SnapshotService) Refresh(ctx context.Context) (AccountSnapshot, error) {
	s.store.TouchDay(s.now().UTC().Format("2006-01-02"))

	snap := AccountSnapshot{Positions: make(map[string]int)}

	cash, err := s.refreshCash(ctx)
	if err != nil {
		return snap, fmt.Errorf("refresh cash: %w", err)
	}
	snap.Cash = cash

	if err := s.refreshPositions(ctx, &snap); err != nil {
		return snap, fmt.Errorf("refresh positions: %w", err)
	}

	n, err := s.adoptOpenOrders(ctx)
	if err != nil {
		return snap, fmt.Errorf("refresh open orders: %w", err)
	}
	snap.OpenOrders = n

	return snap, nil
}

// refreshCash sums the account's money balances in the settlement currency.
func (s *SnapshotService) refreshCash(ctx context.Context) (decimal.Decimal, error) {
	balances, err := s.api.Cash(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, b := range balances {
		if b.Currency == s.currency {
			total = total.Add(b.Amount)
		}
	}
	s.store.SetCash(total)
	return total, nil
}

// lotsFromBalance converts a raw security balance to lots.
// Lot size <= 1: the balance truncated to an integer. Larger lot sizes:
// floor(balance / lot).
func lotsFromBalance(balance decimal.Decimal, lot int) int {
	if lot <= 1 {
		return int(balance.IntPart())
	}
	return int(balance.Div(decimal.NewFromInt(int64(lot))).Floor().IntPart())
}

func (s *SnapshotService) refreshPositions(ctx context.Context, snap *AccountSnapshot) error {
	records, err := s.api.Positions(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]decimal.Decimal, len(records))
	for _, r := range records {
		byID[r.InstrumentID] = r.Balance
	}

	// Walk every resolved instrument so disappeared positions drop to zero.
	for _, info := range s.catalog.Resolved() {
		st := s.store.Instrument(info.ID)
		prevLots := st.PositionLots

		lots := 0
		if bal, ok := byID[info.ID]; ok {
			lots = lotsFromBalance(bal, info.Lot)
		}
		st.PositionLots = lots
		snap.Positions[info.ID] = lots

		// Entry bookkeeping across restarts and out-of-band fills.
		if prevLots > 0 && lots == 0 {
			st.ClearEntry()
		}
		if prevLots == 0 && lots > 0 && st.EntryTime.IsZero() {
			st.EntryTime = s.now().UTC()
			if last, err := s.api.LastPrice(ctx, info.ID); err == nil {
				st.EntryPrice = last
			}
		}
	}
	return nil
}

// adoptOpenOrders reconciles remotely open orders into local state. Unknown
// remote orders (e.g. after a restart) are adopted with the remote record's
// side and placement time, preserving the order-field invariant. An order we
// track locally but the remote no longer lists is left for the poller: a
// status query will say what happened to it.
func (s *SnapshotService) adoptOpenOrders(ctx context.Context) (int, error) {
	orders, err := s.api.OpenOrders(ctx)
	if err != nil {
		return 0, err
	}

	for _, o := range orders {
		if _, known := s.catalog.ByID(o.InstrumentID); !known {
			continue // not in our universe
		}
		st := s.store.Instrument(o.InstrumentID)
		if st.HasActiveOrder() {
			continue
		}
		placedAt := o.PlacedAt
		if placedAt.IsZero() {
			placedAt = s.now().UTC()
		}
		st.SetOrder(o.OrderID, "", o.Side, placedAt)
		slog.Info("adopted open order from snapshot",
			slog.String("instrument", o.InstrumentID),
			slog.String("order_id", o.OrderID),
			slog.String("side", string(o.Side)))
	}
	return len(orders), nil
}

// DayCashflow sums today's operation payments in the settlement currency.
// Used as the protective day metric behind the risk day-lock.
func (s *SnapshotService) DayCashflow(ctx context.Context) (decimal.Decimal, error) {
	nowLocal := s.now().In(s.location)
	from := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), 0, 0, 0, 0, s.location)
	to := from.Add(24*time.Hour - time.Nanosecond)

	ops, err := s.api.Operations(ctx, from.UTC(), to.UTC())
	if err != nil {
		return decimal.Zero, fmt.Errorf("day operations: %w", err)
	}

	total := decimal.Zero
	for _, op := range ops {
		if op.Currency == s.currency {
			total = total.Add(op.Payment)
		}
	}
	return total, nil
}
