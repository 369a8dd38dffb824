package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// AuditKind enumerates order lifecycle events.
type AuditKind string

const (
	AuditSubmit      AuditKind = "SUBMIT"
	AuditFill        AuditKind = "FILL"
	AuditPartialFill AuditKind = "PARTIAL_FILL"
	AuditCancel      AuditKind = "CANCEL"
	AuditReject      AuditKind = "REJECT"
	AuditExpire      AuditKind = "EXPIRE"
	AuditSkip        AuditKind = "SKIP"
	AuditLost        AuditKind = "LOST"
)

// AuditEvent is one append-only lifecycle record. Events are never mutated
// after emission.
type AuditEvent struct {
	Kind          AuditKind
	InstrumentID  string
	Ticker        string
	At            time.Time
	Side          Side
	Lots          int
	Price         decimal.Decimal
	OrderID       string
	ClientOrderID string
	Reason        string
}

// AuditSink consumes lifecycle events. Implementations must not block the
// trading loop on failure; errors are logged by the caller and dropped.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent) error
}

// MultiSink fans one event out to several sinks. A failing sink never stops
// the others.
type MultiSink []AuditSink

func (m MultiSink) Record(ctx context.Context, ev AuditEvent) error {
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			slog.Warn("audit sink failed",
				slog.String("kind", string(ev.Kind)),
				slog.Any("error", err))
		}
	}
	return nil
}
