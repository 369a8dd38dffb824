package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Core wires the snapshot service, lifecycle manager and reconciliation
// poller into one repeatable cycle. Tick is idempotent and safe to call at
// any cadence; there is no hidden iteration state.
type Core struct {
	Snapshot  *SnapshotService
	Lifecycle *Lifecycle
	Poller    *Poller

	store  *StateStore
	ledger *ReservationLedger
}

// NewCore assembles the execution core.
func NewCore(snapshot *SnapshotService, lifecycle *Lifecycle, poller *Poller, store *StateStore, ledger *ReservationLedger) *Core {
	return &Core{
		Snapshot:  snapshot,
		Lifecycle: lifecycle,
		Poller:    poller,
		store:     store,
		ledger:    ledger,
	}
}

// Tick runs one reconciliation cycle: refresh the account snapshot, expire
// stale orders, then resolve outstanding orders. Expiry and reconciliation
// for an instrument always complete before any new submission decision is
// acted on in the same cycle, so a submission never races a still-pending
// confirmation.
func (c *Core) Tick(ctx context.Context) error {
	if _, err := c.Snapshot.Refresh(ctx); err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	c.Lifecycle.ExpireStaleOrders(ctx)
	c.Poller.Poll(ctx)
	return nil
}

// State exposes the read-only state query surface for collaborators.
func (c *Core) State() *StateStore {
	return c.store
}

// FreeCash returns cash available for new orders under the last snapshot,
// for position-sizing checks.
func (c *Core) FreeCash() decimal.Decimal {
	return c.ledger.FreeCash(c.store.Cash())
}
