// Package main is the entry point for the pulse update service. It keeps
// daily prices current through a provider cascade, re-runs portfolio
// analytics stages when their inputs change, and serves the run history and
// coverage state over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfolio/pulse/internal/analytics"
	"github.com/openfolio/pulse/internal/clients/pricecache"
	"github.com/openfolio/pulse/internal/clients/stooq"
	"github.com/openfolio/pulse/internal/clients/yahoo"
	"github.com/openfolio/pulse/internal/config"
	"github.com/openfolio/pulse/internal/coverage"
	"github.com/openfolio/pulse/internal/database"
	"github.com/openfolio/pulse/internal/ledger"
	"github.com/openfolio/pulse/internal/prices"
	"github.com/openfolio/pulse/internal/reliability"
	"github.com/openfolio/pulse/internal/runs"
	"github.com/openfolio/pulse/internal/scheduler"
	"github.com/openfolio/pulse/internal/server"
	"github.com/openfolio/pulse/internal/tracking"
	"github.com/openfolio/pulse/internal/updates"
	"github.com/openfolio/pulse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting pulse")

	databases, err := openDatabases(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open databases")
	}
	defer func() {
		for _, db := range databases {
			_ = db.Close()
		}
	}()

	ledgerDB := databases["ledger"].Conn()
	pricesDB := databases["prices"].Conn()
	metaDB := databases["meta"].Conn()

	// Repositories
	ledgerRepo := ledger.NewRepository(ledgerDB, log)
	priceRepo := prices.NewRepository(pricesDB, log)
	covRepo := coverage.NewRepository(metaDB, log)
	depRepo := tracking.NewRepository(metaDB, log)
	runRepo := runs.NewRepository(metaDB, log)
	stateRepo := updates.NewStateRepository(metaDB, log)
	cacheRepo := pricecache.NewRepository(metaDB)

	// Provider clients; yahoo is primary, stooq the fallback.
	clients := []updates.ProviderClient{
		yahoo.NewClient(cacheRepo, log),
		stooq.NewClient(log),
	}
	providerNames := make([]string, 0, len(clients))
	for _, c := range clients {
		providerNames = append(providerNames, c.Name())
	}

	covTracker := coverage.NewTracker(covRepo, providerNames, log)
	depTracker := tracking.NewTracker(depRepo, log)
	engine := analytics.NewEngine(ledgerRepo, priceRepo, log)

	orch := updates.NewOrchestrator(
		updates.Config{
			FetchWorkers:   cfg.FetchWorkers,
			FetchBatchSize: cfg.FetchBatchSize,
			FetchRateDelay: cfg.FetchRateDelay,
		},
		covTracker,
		depTracker,
		ledgerRepo,
		priceRepo,
		stateRepo,
		engine,
		runRepo,
		clients,
		log,
	)

	// Background jobs
	sched := scheduler.New(log)
	registerJobs(sched, cfg, orch, runRepo, databases, cacheRepo, log)
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Runner:    orch,
		RunRepo:   runRepo,
		CovRepo:   covRepo,
		DepRepo:   depRepo,
		Databases: databases,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// openDatabases opens and migrates the three stores: ledger (business
// records, read-only here), prices and meta.
func openDatabases(cfg *config.Config) (map[string]*database.DB, error) {
	profiles := map[string]database.DatabaseProfile{
		"ledger": database.ProfileLedger,
		"prices": database.ProfileStandard,
		"meta":   database.ProfileStandard,
	}

	databases := make(map[string]*database.DB, len(profiles))
	for name, profile := range profiles {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		if err != nil {
			for _, open := range databases {
				_ = open.Close()
			}
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			for _, open := range databases {
				_ = open.Close()
			}
			return nil, err
		}
		databases[name] = db
	}

	return databases, nil
}

// registerJobs wires the recurring background jobs.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	orch *updates.Orchestrator,
	runRepo *runs.Repository,
	databases map[string]*database.DB,
	cacheRepo *pricecache.Repository,
	log zerolog.Logger,
) {
	// Nightly full update after US close.
	if err := sched.AddJob("30 2 * * *", scheduler.NewNightlyUpdateJob(orch, log)); err != nil {
		log.Error().Err(err).Msg("Failed to register nightly update job")
	}

	// Intraday price refresh.
	if err := sched.AddJob("0 */4 * * *", scheduler.NewMarketDataRefreshJob(orch, log)); err != nil {
		log.Error().Err(err).Msg("Failed to register market data refresh job")
	}

	// Nightly maintenance before the update run.
	maintenance := reliability.NewMaintenanceJob(databases, cacheRepo, log)
	if err := sched.AddJob("0 2 * * *", maintenance); err != nil {
		log.Error().Err(err).Msg("Failed to register maintenance job")
	}

	if cfg.Archive != nil && cfg.Archive.Enabled {
		archiveSvc, err := reliability.NewArchiveService(context.Background(), cfg.Archive, runRepo, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize run archive, continuing without it")
			return
		}
		if err := sched.AddJob("0 4 * * SUN", reliability.NewArchiveJob(archiveSvc, log)); err != nil {
			log.Error().Err(err).Msg("Failed to register run archive job")
		}
	} else {
		log.Info().Msg("Run archive not configured, skipping")
	}
}
