package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	clts "solwatch/clients"
	"solwatch/config"
	"solwatch/internal/app"
	"syscall"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load config from environment variables
	cfg := config.Load()
	logger.Info("starting solwatch", zap.Bool("isProd", cfg.IsProd))

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, cfg)
	defer clients.Notifier.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, cfg)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
