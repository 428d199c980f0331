// Command backtest replays the earnings-gap strategy over a price cache.
// It runs the day-by-day portfolio simulator (or the independent
// per-candidate replay with -independent), writes the closed trades as JSON
// and CSV, and snapshots a run manifest that live configs are verified
// against.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jspahr/gapdrift/internal/config"
	"github.com/jspahr/gapdrift/internal/marketdata"
	"github.com/jspahr/gapdrift/internal/models"
	"github.com/jspahr/gapdrift/internal/sim"
)

const (
	exitOK     = 0
	exitUsage  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath     = flag.String("config", "config.yaml", "path to configuration file")
		candidatesPath = flag.String("candidates", "", "path to candidates JSON (required)")
		pricesPath     = flag.String("prices", "", "path to price cache JSON file or directory (required)")
		outDir         = flag.String("out", "results", "output directory for trades and manifest")
		endDate        = flag.String("end", "", "truncate price data at this date (YYYY-MM-DD)")
		independent    = flag.Bool("independent", false, "replay each candidate standalone, without portfolio capacity")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[BACKTEST] ", log.LstdFlags)

	if *candidatesPath == "" || *pricesPath == "" {
		fmt.Fprintln(os.Stderr, "both -candidates and -prices are required")
		flag.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("config error: %v", err)
		return exitConfig
	}

	simCfg := cfg.SimConfig()
	simCfg.DataEndDate = *endDate

	candidates, err := models.LoadCandidates(*candidatesPath)
	if err != nil {
		logger.Printf("failed to load candidates: %v", err)
		return exitUsage
	}
	prices, err := marketdata.LoadPriceCache(*pricesPath)
	if err != nil {
		logger.Printf("failed to load price cache: %v", err)
		return exitUsage
	}
	store := marketdata.NewStore(prices, logger)
	logger.Printf("Loaded %d candidates, %d tickers, %d trading dates",
		len(candidates), len(store.Tickers()), len(store.TradingDates()))

	var result *sim.Result
	if *independent {
		s, err := sim.NewTradeSimulator(simCfg, store, logger)
		if err != nil {
			logger.Printf("config error: %v", err)
			return exitConfig
		}
		result = s.Run(candidates)
	} else {
		s, err := sim.NewPortfolioSimulator(simCfg, store, logger)
		if err != nil {
			logger.Printf("config error: %v", err)
			return exitConfig
		}
		result = s.Run(candidates)
	}

	if err := writeOutputs(*outDir, simCfg, len(candidates), result); err != nil {
		logger.Printf("failed to write results: %v", err)
		return exitUsage
	}

	summary := result.Summarize()
	logger.Printf("Done: %d trades, %d skipped, win rate %.2f%%, total pnl %+.2f, max drawdown %.2f",
		summary.Trades, summary.Skipped, summary.WinRate, summary.TotalPnL, summary.MaxDrawdown)
	return exitOK
}

func writeOutputs(dir string, cfg sim.Config, candidateCount int, res *sim.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode trades: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "trades.json"), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write trades.json: %w", err)
	}

	if err := writeTradesCSV(filepath.Join(dir, "trades.csv"), res.Trades); err != nil {
		return err
	}

	manifest := sim.NewManifest(cfg, candidateCount, res)
	if err := manifest.WriteFile(filepath.Join(dir, "manifest.json")); err != nil {
		return err
	}
	return nil
}

func writeTradesCSV(path string, trades []models.TradeResult) error {
	f, err := os.Create(path) // #nosec G304 -- path under the user's output dir
	if err != nil {
		return fmt.Errorf("failed to create trades.csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"ticker", "grade", "score", "report_date", "entry_date", "entry_price",
		"exit_date", "exit_price", "shares", "invested", "pnl", "return_pct", "days_held",
		"exit_reason"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, t := range trades {
		row := []string{
			t.Ticker,
			string(t.Grade),
			formatFloat(t.Score),
			t.ReportDate,
			t.EntryDate,
			formatFloat(t.EntryPrice),
			t.ExitDate,
			formatFloat(t.ExitPrice),
			strconv.Itoa(t.Shares),
			formatFloat(t.Invested),
			formatFloat(t.PnL),
			formatFloat(t.ReturnPct),
			strconv.Itoa(t.DaysHeld),
			string(t.ExitReason),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", t.Ticker, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush trades.csv: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
