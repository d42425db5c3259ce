package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/netlab-emu/agent/internal/config"
	"github.com/netlab-emu/agent/internal/metrics"
	"github.com/netlab-emu/agent/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to the agent's YAML configuration file")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "time allowed for graceful teardown before exit")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	m := metrics.New()
	log := func(format string, args ...any) {
		logger.Sugar().Infof(format, args...)
	}

	agent := supervisor.New(cfg, m, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting netlab-agent",
		zap.Uint32("router_id", cfg.Router.ID),
		zap.Uint32("local_as", cfg.Router.LocalAS),
	)

	if err := agent.Start(ctx); err != nil {
		logger.Fatal("failed to start agent", zap.Error(err))
	}
	logger.Info("agent started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	done := make(chan struct{})
	go func() {
		agent.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("agent stopped gracefully")
	case <-time.After(*shutdownTimeout):
		logger.Warn("shutdown timeout reached, exiting anyway")
	}
}
