// Command dashboard serves the read-only status UI over the state store,
// including the Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jspahr/gapdrift/internal/config"
	"github.com/jspahr/gapdrift/internal/dashboard"
	"github.com/jspahr/gapdrift/internal/state"
)

const (
	exitUsage  = 1
	exitConfig = 2
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file")
		addr       = flag.String("addr", "", "listen address (overrides dashboard.addr)")
		authToken  = flag.String("token", "", "bearer token required on /api routes")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(exitConfig)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	store, err := state.Open(cfg.State.Path, log.New(os.Stderr, "[STATE] ", log.LstdFlags))
	if err != nil {
		logger.WithError(err).Error("failed to open state store")
		os.Exit(exitUsage)
	}
	defer store.Close()

	listenAddr := cfg.Dashboard.Addr
	if *addr != "" {
		listenAddr = *addr
	}
	server := dashboard.NewServer(dashboard.Config{Addr: listenAddr, AuthToken: *authToken}, store, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("dashboard shutdown incomplete")
		}
	}()

	if err := server.Start(); err != nil {
		logger.WithError(err).Error("dashboard stopped")
		os.Exit(exitUsage)
	}
}
