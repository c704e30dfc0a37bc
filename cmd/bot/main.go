package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mt5-grid-bot-go/internal/bot"
	"mt5-grid-bot-go/internal/broker"
	"mt5-grid-bot-go/internal/config"
	"mt5-grid-bot-go/internal/engine"
	"mt5-grid-bot-go/internal/executor"
	"mt5-grid-bot-go/internal/logger"
	"mt5-grid-bot-go/internal/models"
	"mt5-grid-bot-go/internal/operator"
	"mt5-grid-bot-go/internal/persistence"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "run", "running mode: run, start, status or close")
	flag.Parse()

	// A default logger so that .env and config loading can already log.
	logger.Init(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, reading from system environment")
	} else {
		logger.S().Info("environment loaded from .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.S().Fatalf("failed to load config: %v", err)
	}

	// Re-initialize logging with the configured sinks.
	logger.Init(cfg.Log)
	defer logger.S().Sync()

	gw, err := newGateway(cfg)
	if err != nil {
		logger.S().Fatalf("failed to connect to broker: %v", err)
	}
	defer gw.Close()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("failed to open state database: %v", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch *mode {
	case "run":
		runLoop(ctx, gw, repo, cfg)
	case "start", "status", "close":
		runCommand(ctx, *mode, gw, repo, cfg)
	default:
		logger.S().Fatalf("unknown mode: %s, expected run, start, status or close", *mode)
	}
}

// newGateway builds the configured broker gateway. Binance credentials come
// from the environment so they stay out of the config file.
func newGateway(cfg *models.Config) (broker.Gateway, error) {
	switch cfg.Broker {
	case "bridge":
		return broker.NewBridge(cfg.BridgeURL, logger.S())
	case "binance":
		apiKey := os.Getenv("BINANCE_API_KEY")
		secretKey := os.Getenv("BINANCE_SECRET_KEY")
		if apiKey == "" || secretKey == "" {
			return nil, fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set")
		}
		return broker.NewBinance(apiKey, secretKey, cfg.BinanceTestnet, cfg.Symbol, logger.S()), nil
	case "sim":
		return broker.NewSim(), nil
	default:
		return nil, fmt.Errorf("unknown broker: %s", cfg.Broker)
	}
}

func runLoop(ctx context.Context, gw broker.Gateway, repo persistence.StateRepository, cfg *models.Config) {
	exec := executor.New(gw, cfg, logger.S())
	eng := engine.New(gw, exec, cfg, logger.S())
	b := bot.New(gw, eng, repo, cfg, logger.S())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.S().Infow("shutdown signal received", "signal", sig)
		b.Stop()
	}()

	if err := b.Run(ctx); err != nil {
		logger.S().Fatalf("control loop terminated: %v", err)
	}
}

func runCommand(ctx context.Context, mode string, gw broker.Gateway, repo persistence.StateRepository, cfg *models.Config) {
	svc := operator.New(gw, repo, cfg, logger.S())
	switch mode {
	case "start":
		msg, err := svc.StartGrid(ctx, cfg.Symbol, cfg.DistancePips, cfg.InitialLot, cfg.Magic)
		if err != nil {
			logger.S().Fatalf("start failed: %v", err)
		}
		fmt.Println(msg)
	case "status":
		out, err := svc.Status(ctx)
		if err != nil {
			logger.S().Fatalf("status failed: %v", err)
		}
		fmt.Println(out)
	case "close":
		msg, report, err := svc.CloseAll(ctx)
		if err != nil {
			logger.S().Fatalf("close failed: %v", err)
		}
		fmt.Println(msg)
		for _, line := range report {
			fmt.Println("  " + line)
		}
	}
}
