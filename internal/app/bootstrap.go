// Package app wires configuration, brokerage backend, journal, notifier and
// the execution engine into a runnable bot.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invest_go/internal/broker"
	"invest_go/internal/domain"
	"invest_go/internal/engine"
	"invest_go/internal/infra"
	"invest_go/internal/notify"
	"invest_go/internal/risk"
	"invest_go/internal/storage"
	"invest_go/internal/strategy"
)

// Bootstrap holds every component the main loop needs.
type Bootstrap struct {
	Config   *infra.Config
	Journal  *storage.Journal
	Notifier *notify.Telegram
	API      broker.API
	Stream   *broker.QuoteStream
	Quotes   *broker.QuoteCache
	Catalog  *engine.Catalog
	Core     *engine.Core
	Schedule *engine.Schedule
	Risk     *risk.Manager
	Strategy strategy.Strategy

	// Tradeable is the resolved universe after the lot-cost filter.
	Tradeable []domain.InstrumentInfo
}

// NewBootstrap creates an empty bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the configuration and constructs every component. It
// resolves the instrument universe against the brokerage, so it needs a
// working backend (live connectivity or the paper simulator).
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("starting", slog.String("app", cfg.App.Name), slog.String("mode", cfg.Broker.Mode))

	if dir := filepath.Dir(cfg.Journal.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}
	journal, err := storage.NewJournal(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	b.Journal = journal
	slog.Info("journal ready", slog.String("path", cfg.Journal.Path))

	b.Notifier = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.Enabled)

	if err := b.buildBroker(); err != nil {
		return err
	}

	store := engine.NewStateStore()
	ledger := engine.NewReservationLedger()
	catalog := engine.NewCatalog(b.API)
	b.Catalog = catalog

	if err := b.resolveUniverse(ctx); err != nil {
		return err
	}

	loc, err := time.LoadLocation(cfg.Schedule.TZ)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Schedule.TZ, err)
	}

	sched, err := engine.NewSchedule(cfg.Schedule.TZ, cfg.Schedule.StartTrade, cfg.Schedule.StopNewEntries, cfg.Schedule.FlattenTime)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	b.Schedule = sched

	audit := domain.MultiSink{logSink{}, journal, notify.NewSink(b.Notifier)}

	snapshot := engine.NewSnapshotService(b.API, store, catalog, cfg.Broker.Currency, loc)
	lifecycle := engine.NewLifecycle(b.API, store, ledger, catalog, audit, engine.LifecycleConfig{
		KBuyTicks:  cfg.Execution.KBuyTicks,
		KSellTicks: cfg.Execution.KSellTicks,
		OrderTTL:   cfg.OrderTTL(),
		CashBuffer: decimal.NewFromFloat(cfg.Execution.CashBufferPct / 100),
	})
	poller := engine.NewPoller(b.API, store, ledger, catalog, audit, cfg.Execution.LostConfirmations)
	b.Core = engine.NewCore(snapshot, lifecycle, poller, store, ledger)

	b.Risk = risk.NewManager(risk.Limits{
		MaxDayLoss:           cfg.Risk.MaxDayLoss,
		MaxTradesPerDay:      cfg.Risk.MaxTradesPerDay,
		MaxPositions:         cfg.Risk.MaxPositions,
		MaxPendingBuysTotal:  cfg.Risk.MaxPendingBuysTotal,
		MaxActiveOrdersTotal: cfg.Risk.MaxActiveOrdersTotal,
	})
	b.Strategy = strategy.NewMeanReversion(
		cfg.Strategy.KATR,
		cfg.Strategy.TakeProfitPct,
		cfg.Strategy.StopLossPct,
		cfg.Strategy.LookbackMinutes,
		cfg.Strategy.MaxHoldMinutes,
	)

	if cfg.Broker.StreamURL != "" && strings.EqualFold(cfg.Broker.Mode, "live") {
		ids := make([]string, 0, len(b.Tradeable))
		for _, info := range b.Tradeable {
			ids = append(ids, info.ID)
		}
		b.Quotes = broker.NewQuoteCache()
		b.Stream = broker.NewQuoteStream(cfg.Broker.StreamURL, cfg.Broker.Token, ids, b.Quotes)
		b.Stream.Start(ctx)
		slog.Info("quote stream started", slog.Int("instruments", len(ids)))
	}

	return nil
}

// Shutdown releases resources in reverse construction order.
func (b *Bootstrap) Shutdown() {
	if b.Stream != nil {
		b.Stream.Stop()
	}
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Warn("journal close failed", slog.Any("error", err))
		}
	}
}

func (b *Bootstrap) buildBroker() error {
	cfg := b.Config
	switch strings.ToLower(cfg.Broker.Mode) {
	case "paper":
		paper := broker.NewPaper(cfg.Broker.Currency, decimal.NewFromInt(100000))
		for _, ticker := range cfg.Universe.Tickers {
			info := domain.InstrumentInfo{
				Ticker:    ticker,
				ID:        "paper-" + strings.ToLower(ticker),
				Lot:       1,
				PriceStep: decimal.NewFromFloat(0.01),
			}
			paper.AddInstrument(info)
			paper.SetPrice(info.ID, decimal.NewFromInt(100))
		}
		b.API = paper
	case "live":
		b.API = broker.NewClient(broker.ClientConfig{
			BaseURL:    cfg.Broker.BaseURL,
			Token:      cfg.Broker.Token,
			AccountID:  cfg.Broker.AccountID,
			ClassCode:  cfg.Broker.ClassCode,
			RetryTries: cfg.Broker.RetryTries,
			Backoff:    cfg.RetryBackoff(),
			RateLimit:  cfg.Broker.RateLimitPerSec,
			RateBurst:  cfg.Broker.RateBurst,
		})
	default:
		return fmt.Errorf("unknown broker mode %q", cfg.Broker.Mode)
	}
	return nil
}

// resolveUniverse resolves every configured ticker and drops instruments
// whose single-lot cost exceeds the configured ceiling.
func (b *Bootstrap) resolveUniverse(ctx context.Context) error {
	cfg := b.Config
	maxLotCost := decimal.NewFromFloat(cfg.Universe.MaxLotCost)

	for _, ticker := range cfg.Universe.Tickers {
		info, err := b.Catalog.Resolve(ctx, ticker)
		if err != nil {
			slog.Warn("skipping unresolved ticker", slog.String("ticker", ticker), slog.Any("error", err))
			continue
		}
		if maxLotCost.IsPositive() {
			last, err := b.API.LastPrice(ctx, info.ID)
			if err != nil {
				slog.Warn("skipping ticker without a price", slog.String("ticker", ticker), slog.Any("error", err))
				continue
			}
			if cost := info.LotCost(last); cost.GreaterThan(maxLotCost) {
				slog.Info("skipping ticker, lot too expensive",
					slog.String("ticker", ticker),
					slog.String("lot_cost", cost.StringFixed(2)),
					slog.String("limit", maxLotCost.StringFixed(2)))
				continue
			}
		}
		b.Tradeable = append(b.Tradeable, info)
	}

	if len(b.Tradeable) == 0 {
		return fmt.Errorf("no tradeable instruments: check universe.tickers and universe.max_lot_cost")
	}
	tickers := make([]string, 0, len(b.Tradeable))
	for _, info := range b.Tradeable {
		tickers = append(tickers, info.Ticker)
	}
	slog.Info("universe resolved", slog.Any("tickers", tickers))
	return nil
}

// logSink mirrors every lifecycle event into the structured log.
type logSink struct{}

func (logSink) Record(_ context.Context, ev domain.AuditEvent) error {
	attrs := []any{
		slog.String("kind", string(ev.Kind)),
		slog.String("ticker", ev.Ticker),
	}
	if ev.Side != "" {
		attrs = append(attrs, slog.String("side", string(ev.Side)))
	}
	if ev.Lots > 0 {
		attrs = append(attrs, slog.Int("lots", ev.Lots))
	}
	if ev.Price.IsPositive() {
		attrs = append(attrs, slog.String("price", ev.Price.String()))
	}
	if ev.OrderID != "" {
		attrs = append(attrs, slog.String("order_id", ev.OrderID))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	slog.Info("order event", attrs...)
	return nil
}
