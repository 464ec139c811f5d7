package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trade_copier/internal/app"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("✅ Trade copier starting",
		slog.Int64("master", bootstrap.Config.Accounts.MasterID),
		slog.Int64("slave", bootstrap.Config.Accounts.SlaveID))

	if err := bootstrap.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("❌ Copier stopped", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("👋 Shutdown complete")
}
