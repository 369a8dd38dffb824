package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"invest_go/internal/app"
	"invest_go/internal/strategy"
)

const minCandleHistory = 30

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot := app.NewBootstrap()
	if err := boot.Initialize(ctx, *configPath); err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer boot.Shutdown()

	run(ctx, boot)

	// Best effort: do not leave positions or orders behind on Ctrl+C.
	flattenCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	slog.Info("shutting down, flattening open exposure")
	if err := boot.Core.Tick(flattenCtx); err != nil {
		slog.Warn("final reconcile failed", slog.Any("error", err))
	}
	boot.Core.Lifecycle.FlattenIfNeeded(flattenCtx, time.Now())
}

func run(ctx context.Context, boot *app.Bootstrap) {
	cfg := boot.Config
	tick := cfg.TickInterval()
	errSleep := time.Duration(cfg.Runtime.ErrorSleepSec) * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		ts := time.Now()

		// Outside the session only flattening matters.
		if !boot.Schedule.IsTradingTime(ts) || boot.Schedule.FlattenDue(ts) {
			boot.Core.Lifecycle.FlattenIfNeeded(ctx, boot.Schedule.FlattenAt(ts))
			if !sleep(ctx, minDuration(10*time.Second, tick)) {
				return
			}
			continue
		}

		boot.Risk.TouchDay(ts.UTC().Format("2006-01-02"))
		if boot.Risk.DayLocked() {
			if !sleep(ctx, 30*time.Second) {
				return
			}
			continue
		}

		if err := boot.Core.Tick(ctx); err != nil {
			slog.Error("cycle failed", slog.Any("error", err))
			if !sleep(ctx, errSleep) {
				return
			}
			continue
		}

		cycle(ctx, boot, ts)

		// The realized cashflow acts as the day loss brake.
		if cashflow, err := boot.Core.Snapshot.DayCashflow(ctx); err != nil {
			slog.Warn("day cashflow unavailable", slog.Any("error", err))
		} else {
			f, _ := cashflow.Float64()
			boot.Risk.UpdateDayCashflow(f)
		}

		if !sleep(ctx, tick) {
			return
		}
	}
}

// cycle walks the universe once: exits for held positions, entries for flat
// instruments. Per-instrument errors are logged and never abort the walk.
func cycle(ctx context.Context, boot *app.Bootstrap, ts time.Time) {
	state := boot.Core.State()
	entriesAllowed := boot.Schedule.NewEntriesAllowed(ts)

	for _, info := range boot.Tradeable {
		if state.HasOpenPosition(info.ID) {
			last, err := lastPrice(ctx, boot, info.ID)
			if err != nil {
				slog.Warn("no price for exit check", slog.String("ticker", info.Ticker), slog.Any("error", err))
				continue
			}
			lastF, _ := last.Float64()
			sig := boot.Strategy.ExitSignal(lastF, state.Instrument(info.ID), ts)
			if sig.Action != strategy.ActionSell {
				continue
			}
			placed, err := boot.Core.Lifecycle.SubmitSellToClose(ctx, info, decimal.NewFromFloat(sig.Price))
			if err != nil {
				slog.Error("close submission failed", slog.String("ticker", info.Ticker), slog.Any("error", err))
			} else if placed {
				slog.Info("closing position", slog.String("ticker", info.Ticker), slog.String("reason", sig.Reason))
			}
			continue
		}

		if !entriesAllowed || state.HasActiveOrder(info.ID) {
			continue
		}

		candles, err := boot.API.Candles(ctx, info.ID, time.Duration(boot.Config.Strategy.LookbackMinutes)*time.Minute)
		if err != nil {
			slog.Warn("candles unavailable", slog.String("ticker", info.Ticker), slog.Any("error", err))
			continue
		}
		if len(candles) < minCandleHistory {
			continue
		}

		sig := boot.Strategy.MakeSignal(candles)
		if sig.Action != strategy.ActionBuy {
			continue
		}
		if ok, reason := boot.Risk.AllowNewTrade(state, info.ID); !ok {
			slog.Debug("entry blocked", slog.String("ticker", info.Ticker), slog.String("reason", reason))
			continue
		}
		placed, err := boot.Core.Lifecycle.SubmitBuy(ctx, info, 1, decimal.NewFromFloat(sig.Price))
		if err != nil {
			slog.Error("entry submission failed", slog.String("ticker", info.Ticker), slog.Any("error", err))
		} else if placed {
			slog.Info("entry placed", slog.String("ticker", info.Ticker), slog.String("reason", sig.Reason))
		}
	}
}

// lastPrice prefers a fresh streamed quote and falls back to the REST API.
func lastPrice(ctx context.Context, boot *app.Bootstrap, instrumentID string) (decimal.Decimal, error) {
	if boot.Quotes != nil {
		if p, ok := boot.Quotes.Get(instrumentID); ok && boot.Quotes.Age(instrumentID) < 30*time.Second {
			return p, nil
		}
	}
	return boot.API.LastPrice(ctx, instrumentID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
