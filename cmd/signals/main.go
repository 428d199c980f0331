// Command signals generates the day's trade signals. It reconciles the
// state store against the brokerage, runs the trailing-stop evaluator over
// every open position, and writes an execution signal file plus a shadow
// signal file for the A/B strategy.
//
// Exit codes: 0 success, 1 missing inputs, 2 configuration error,
// 3 kill switch engaged, 4 reconciliation mismatch without -force.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jspahr/gapdrift/internal/broker"
	"github.com/jspahr/gapdrift/internal/config"
	"github.com/jspahr/gapdrift/internal/marketdata"
	"github.com/jspahr/gapdrift/internal/models"
	"github.com/jspahr/gapdrift/internal/signal"
	"github.com/jspahr/gapdrift/internal/sim"
	"github.com/jspahr/gapdrift/internal/state"
	"github.com/jspahr/gapdrift/internal/weekly"
)

const (
	exitOK         = 0
	exitUsage      = 1
	exitConfig     = 2
	exitKillSwitch = 3
	exitReconcile  = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath     = flag.String("config", "config.yaml", "path to configuration file")
		candidatesPath = flag.String("candidates", "", "path to ranked candidates JSON (required)")
		tradeDate      = flag.String("date", time.Now().Format("2006-01-02"), "trade date (YYYY-MM-DD)")
		manifestPath   = flag.String("manifest", "", "backtest manifest to verify the config against")
		force          = flag.Bool("force", false, "continue despite a reconciliation mismatch")
		dryRun         = flag.Bool("dry-run", false, "skip the brokerage and shadow book writes")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[SIGNAL] ", log.LstdFlags)

	if *candidatesPath == "" {
		fmt.Fprintln(os.Stderr, "-candidates is required")
		flag.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("config error: %v", err)
		return exitConfig
	}
	if *manifestPath != "" {
		manifest, err := sim.LoadManifest(*manifestPath)
		if err != nil {
			logger.Printf("failed to load manifest: %v", err)
			return exitUsage
		}
		if err := cfg.VerifyAgainstManifest(manifest); err != nil {
			logger.Printf("config error: %v", err)
			return exitConfig
		}
	}
	if cfg.Data.BaseURL == "" {
		logger.Printf("data.base_url is required to evaluate trailing stops")
		return exitUsage
	}

	candidates, err := models.LoadCandidates(*candidatesPath)
	if err != nil {
		logger.Printf("failed to load candidates: %v", err)
		return exitUsage
	}

	store, err := state.Open(cfg.State.Path, logger)
	if err != nil {
		logger.Printf("failed to open state store: %v", err)
		return exitUsage
	}
	defer store.Close()

	fetcher := marketdata.NewCachedFetcher(marketdata.NewHTTPFetcher(cfg.Data.BaseURL, logger))
	evaluator := weekly.NewEvaluator(fetcher, logger)

	genCfg := signal.Config{
		TradeDate:       *tradeDate,
		PositionSize:    cfg.Trading.PositionSize,
		StopLossPct:     cfg.Trading.StopLossPct,
		MaxPositions:    cfg.Trading.MaxPositions,
		MinGrade:        cfg.Trading.MinGrade,
		TransitionWeeks: cfg.Trading.TrailingTransitionWeeks,
		OutputDir:       cfg.Signals.Dir,
		Force:           *force,
		DryRun:          *dryRun,
	}
	gen, err := signal.NewGenerator(genCfg, store, evaluator, logger)
	if err != nil {
		logger.Printf("config error: %v", err)
		return exitConfig
	}

	if !*dryRun {
		client, err := broker.NewAlpacaClientWithBaseURL(
			cfg.Brokerage.APIKey, cfg.Brokerage.APISecret,
			cfg.Brokerage.BaseURL, cfg.Brokerage.AllowLive)
		if err != nil {
			logger.Printf("config error: %v", err)
			return exitConfig
		}
		gen.WithBroker(broker.NewCircuitBreakerClient(client))
	}

	res, err := gen.Run(context.Background(), candidates)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrKillSwitchActive):
			logger.Printf("CRITICAL: %v", err)
			return exitKillSwitch
		case errors.Is(err, signal.ErrReconciliationMismatch):
			logger.Printf("%v (re-run with -force to override)", err)
			return exitReconcile
		default:
			logger.Printf("signal generation failed: %v", err)
			return exitUsage
		}
	}

	logger.Printf("Run %s complete: execution %s, shadow %s",
		res.RunID, res.ExecutionPath, res.ShadowPath)
	return exitOK
}
