// Package engine contains the order-lifecycle and state-reconciliation core:
// it submits, tracks, reconciles and expires limit orders while keeping the
// local view of cash, reservations and positions consistent with the
// brokerage's eventually-observed truth.
package engine

import (
	"context"
	"fmt"
	"sync"

	"invest_go/internal/broker"
	"invest_go/internal/domain"
)

// Catalog resolves human tickers to immutable instrument metadata.
// Results are cached for the process lifetime; after the first resolution a
// lookup never touches the network.
type Catalog struct {
	api broker.API

	mu       sync.RWMutex
	byTicker map[string]domain.InstrumentInfo
	byID     map[string]domain.InstrumentInfo
}

// NewCatalog creates an empty catalog backed by the brokerage API.
func NewCatalog(api broker.API) *Catalog {
	return &Catalog{
		api:      api,
		byTicker: make(map[string]domain.InstrumentInfo),
		byID:     make(map[string]domain.InstrumentInfo),
	}
}

// Resolve returns the instrument metadata for a ticker, resolving remotely
// on first use. Resolution failure is fatal for that ticker's trading
// activity: the error propagates instead of being silently skipped.
func (c *Catalog) Resolve(ctx context.Context, ticker string) (domain.InstrumentInfo, error) {
	c.mu.RLock()
	info, ok := c.byTicker[ticker]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	info, err := c.api.ResolveInstrument(ctx, ticker)
	if err != nil {
		return domain.InstrumentInfo{}, fmt.Errorf("resolve %s: %w", ticker, err)
	}

	c.mu.Lock()
	c.byTicker[ticker] = info
	c.byID[info.ID] = info
	c.mu.Unlock()

	return info, nil
}

// ByID returns cached metadata for an instrument ID.
func (c *Catalog) ByID(instrumentID string) (domain.InstrumentInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.byID[instrumentID]
	return info, ok
}

// TickerFor returns the human ticker behind an instrument ID, or "" when
// the instrument was never resolved. Used when stamping audit events.
func (c *Catalog) TickerFor(instrumentID string) string {
	info, ok := c.ByID(instrumentID)
	if !ok {
		return ""
	}
	return info.Ticker
}

// Resolved returns all cached instruments.
func (c *Catalog) Resolved() []domain.InstrumentInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.InstrumentInfo, 0, len(c.byID))
	for _, info := range c.byID {
		out = append(out, info)
	}
	return out
}
