// Package storage persists the audit journal in SQLite: every lifecycle
// event the engine emits, queryable per day for reporting and manual review.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"invest_go/internal/domain"
)

// Journal is the append-only trade journal. It implements domain.AuditSink.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal database with WAL mode enabled.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_utc TEXT NOT NULL,
			kind TEXT NOT NULL,
			instrument_id TEXT NOT NULL,
			ticker TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL DEFAULT '',
			lots INTEGER,
			price TEXT,
			order_id TEXT NOT NULL DEFAULT '',
			client_uid TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create trades table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts_utc);`)
	if err != nil {
		return nil, fmt.Errorf("failed to create ts index: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends one audit event.
func (j *Journal) Record(ctx context.Context, ev domain.AuditEvent) error {
	var price any
	if ev.Price.IsPositive() {
		price = ev.Price.String()
	}
	var lots any
	if ev.Lots > 0 {
		lots = ev.Lots
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (ts_utc, kind, instrument_id, ticker, side, lots, price, order_id, client_uid, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.At.UTC().Format(time.RFC3339Nano),
		string(ev.Kind),
		ev.InstrumentID,
		ev.Ticker,
		string(ev.Side),
		lots,
		price,
		ev.OrderID,
		ev.ClientOrderID,
		ev.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade event: %w", err)
	}
	return nil
}

// DayReport aggregates one day's journal for end-of-day review.
type DayReport struct {
	Day         string // YYYY-MM-DD (UTC)
	EventCounts map[domain.AuditKind]int
	FillsByTick map[string]int // ticker -> filled lots
	LostOrders  []string       // order ids flagged LOST, for manual review
}

// Report builds the aggregate view of one UTC day.
func (j *Journal) Report(ctx context.Context, day string) (DayReport, error) {
	rep := DayReport{
		Day:         day,
		EventCounts: make(map[domain.AuditKind]int),
		FillsByTick: make(map[string]int),
	}

	dayStart, err := time.Parse("2006-01-02", day)
	if err != nil {
		return rep, fmt.Errorf("bad day %q: %w", day, err)
	}
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := j.db.QueryContext(ctx,
		`SELECT kind, ticker, COALESCE(lots, 0), order_id
		 FROM trades
		 WHERE ts_utc >= ? AND ts_utc < ?
		 ORDER BY ts_utc`,
		dayStart.Format(time.RFC3339Nano), dayEnd.Format(time.RFC3339Nano))
	if err != nil {
		return rep, fmt.Errorf("failed to query day events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, ticker, orderID string
		var lots int
		if err := rows.Scan(&kind, &ticker, &lots, &orderID); err != nil {
			return rep, err
		}
		k := domain.AuditKind(kind)
		rep.EventCounts[k]++
		if k == domain.AuditFill && ticker != "" {
			rep.FillsByTick[ticker] += lots
		}
		if k == domain.AuditLost {
			rep.LostOrders = append(rep.LostOrders, orderID)
		}
	}
	return rep, rows.Err()
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
