// Command executor places and confirms brokerage orders from an execution
// signal file. The place phase handles exits, the position recount, and
// entry buys; the poll phase confirms entry fills and attaches protective
// stops. Day entries may run both halves with -phase all; opening-auction
// entries must place pre-market and poll after the next open.
//
// Exit codes: 0 success, 1 missing inputs, 2 configuration error,
// 3 kill switch engaged, 5 signal file is not from the execution strategy,
// 6 all phase attempted with opg time-in-force.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jspahr/gapdrift/internal/broker"
	"github.com/jspahr/gapdrift/internal/config"
	"github.com/jspahr/gapdrift/internal/executor"
	"github.com/jspahr/gapdrift/internal/signal"
	"github.com/jspahr/gapdrift/internal/sim"
	"github.com/jspahr/gapdrift/internal/state"
)

const (
	exitOK            = 0
	exitUsage         = 1
	exitConfig        = 2
	exitKillSwitch    = 3
	exitWrongStrategy = 5
	exitOPGAllPhase   = 6
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath   = flag.String("config", "config.yaml", "path to configuration file")
		signalsPath  = flag.String("signals", "", "execution signal file (required for place/all)")
		phaseFlag    = flag.String("phase", "place", "execution phase: place, poll, or all")
		tradeDate    = flag.String("date", time.Now().Format("2006-01-02"), "trade date for the poll phase")
		manifestPath = flag.String("manifest", "", "backtest manifest to verify the config against")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[EXECUTOR] ", log.LstdFlags)

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

	phase := executor.Phase(*phaseFlag)
	var sf *signal.File
	if phase == executor.PhasePlace || phase == executor.PhaseAll {
		if *signalsPath == "" {
			fmt.Fprintln(os.Stderr, "-signals is required for the place and all phases")
			flag.Usage()
			return exitUsage
		}
		sf, err = signal.LoadFile(*signalsPath)
		if err != nil {
			logger.Printf("failed to load signal file: %v", err)
			return exitUsage
		}
	}

	store, err := state.Open(cfg.State.Path, logger)
	if err != nil {
		logger.Printf("failed to open state store: %v", err)
		return exitUsage
	}
	defer store.Close()

	client, err := broker.NewAlpacaClientWithBaseURL(
		cfg.Brokerage.APIKey, cfg.Brokerage.APISecret,
		cfg.Brokerage.BaseURL, cfg.Brokerage.AllowLive)
	if err != nil {
		logger.Printf("config error: %v", err)
		return exitConfig
	}

	execCfg := executor.Config{
		MaxPositions:        cfg.Trading.MaxPositions,
		EntryTimeInForce:    cfg.Executor.EntryTimeInForce,
		EntryCutoffMinutes:  cfg.Executor.EntryCutoffMinutes,
		MinBuyingPower:      cfg.Executor.MinBuyingPower,
		MaxDailyTradeOrders: cfg.Executor.MaxDailyTradeOrders,
		MaxDailyStopOrders:  cfg.Executor.MaxDailyStopOrders,
		PollInterval:        cfg.Executor.PollIntervalDuration(),
		PollTimeout:         cfg.Executor.PollTimeoutDuration(),
	}
	exec, err := executor.New(execCfg, store, broker.NewCircuitBreakerClient(client), logger)
	if err != nil {
		logger.Printf("config error: %v", err)
		return exitConfig
	}

	ctx := context.Background()
	var report *executor.RunReport
	switch phase {
	case executor.PhasePlace, executor.PhaseAll:
		report, err = exec.ExecuteSignals(ctx, sf, phase)
	case executor.PhasePoll:
		report, err = exec.ExecutePollPhase(ctx, *tradeDate)
	default:
		fmt.Fprintf(os.Stderr, "unknown phase %q\n", *phaseFlag)
		flag.Usage()
		return exitUsage
	}
	if err != nil {
		switch {
		case errors.Is(err, state.ErrKillSwitchActive):
			logger.Printf("CRITICAL: %v", err)
			return exitKillSwitch
		case errors.Is(err, executor.ErrWrongStrategy):
			logger.Printf("%v", err)
			return exitWrongStrategy
		case errors.Is(err, executor.ErrOPGAllPhase):
			logger.Printf("%v", err)
			return exitOPGAllPhase
		default:
			logger.Printf("execution failed: %v", err)
			return exitUsage
		}
	}

	out, merr := json.MarshalIndent(report, "", "  ")
	if merr == nil {
		fmt.Println(string(out))
	}
	return exitOK
}
