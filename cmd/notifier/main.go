package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/LeventeLantos/flight-sms/internal/config"
	"github.com/LeventeLantos/flight-sms/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("flight-sms starting",
		"addr", cfg.Server.Address,
		"driver", cfg.Database.Driver,
		"trigger", cfg.Trigger.Source,
		"interval", cfg.Scheduler.Interval.String(),
		"redis", cfg.Redis.Enabled,
	)

	if err := serve(ctx, cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("flight-sms stopped")
}

// serve owns the app for the lifetime of ctx and releases the store and
// Redis clients before returning.
func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.close()

	return a.run(ctx)
}
