// Command report prints an end-of-day summary from the trade journal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"invest_go/internal/domain"
	"invest_go/internal/storage"
)

func main() {
	journalPath := flag.String("journal", "logs/trades.db", "path to the trade journal database")
	day := flag.String("date", "", "day to report, YYYY-MM-DD in UTC (default today)")
	flag.Parse()

	if *day == "" {
		*day = time.Now().UTC().Format("2006-01-02")
	}

	journal, err := storage.NewJournal(*journalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open journal: %v\n", err)
		os.Exit(1)
	}
	defer journal.Close()

	rep, err := journal.Report(context.Background(), *day)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build report: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Daily report for %s (UTC)\n", rep.Day)
	fmt.Println("------------------------------------------------------------")

	if len(rep.EventCounts) == 0 {
		fmt.Println("No events.")
		return
	}

	fmt.Println("Events:")
	kinds := make([]string, 0, len(rep.EventCounts))
	for k := range rep.EventCounts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-12s: %d\n", k, rep.EventCounts[domain.AuditKind(k)])
	}

	if len(rep.FillsByTick) > 0 {
		fmt.Println()
		fmt.Println("Filled lots by ticker:")
		tickers := make([]string, 0, len(rep.FillsByTick))
		for t := range rep.FillsByTick {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)
		for _, t := range tickers {
			fmt.Printf("  %-8s: %d\n", t, rep.FillsByTick[t])
		}
	}

	if len(rep.LostOrders) > 0 {
		fmt.Println()
		fmt.Println("LOST orders needing manual review:")
		for _, id := range rep.LostOrders {
			fmt.Printf("  %s\n", id)
		}
	}
}
