package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/encounter-engine/internal/account"
	"github.com/clinicdesk/encounter-engine/internal/config"
	"github.com/clinicdesk/encounter-engine/internal/db"
	"github.com/clinicdesk/encounter-engine/internal/encounter"
	"github.com/clinicdesk/encounter-engine/internal/notify"
	"github.com/clinicdesk/encounter-engine/internal/review"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "sweep-worker").Logger()
	logger.Info().Msg("sweep-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	repo := encounter.NewPgRepository(pgPool)
	accounts := account.NewPgDirectory(pgPool)
	notifier := notify.NewPgNotifier(pgPool)
	svc := encounter.NewService(repo, nil, accounts, review.AllowAll{}, notifier, logger)

	// Run once at startup.
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping sweep worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *encounter.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	locked, err := svc.SweepExpiredReportLocks(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("report lock sweep error")
		return
	}

	reminded, err := svc.SweepDueReportReminders(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("report reminder sweep error")
		return
	}

	logger.Info().
		Int("locked", locked).
		Int("reminded", reminded).
		Dur("took", time.Since(start)).
		Msg("sweep run complete")
}
