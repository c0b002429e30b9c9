// Steward is an autonomous portfolio rebalancing decision engine. It
// classifies the market regime, selects a strategy, builds and clips a
// target portfolio, diffs it against current holdings, and walks the
// resulting order batch through its approval/execution lifecycle.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/audit"
	"github.com/aristath/steward/internal/clients/brokerage"
	"github.com/aristath/steward/internal/clients/feed"
	"github.com/aristath/steward/internal/clients/models"
	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/diff"
	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/ledger"
	"github.com/aristath/steward/internal/marketdata"
	"github.com/aristath/steward/internal/orders"
	"github.com/aristath/steward/internal/rebalance"
	"github.com/aristath/steward/internal/regime"
	"github.com/aristath/steward/internal/reliability"
	"github.com/aristath/steward/internal/risk"
	"github.com/aristath/steward/internal/scheduler"
	"github.com/aristath/steward/internal/server"
	"github.com/aristath/steward/internal/strategy"
	"github.com/aristath/steward/internal/targets"
	"github.com/aristath/steward/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)
	log.Info().
		Int("accounts", len(cfg.Engine.Accounts)).
		Str("data_dir", cfg.DataDir).
		Msg("Steward starting")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Steward failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	// Databases
	portfolioDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "portfolio.db"),
		Profile: database.ProfileStandard,
		Name:    "portfolio",
	})
	if err != nil {
		return err
	}
	defer portfolioDB.Close()

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		return err
	}
	defer ledgerDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		return err
	}
	defer cacheDB.Close()

	databases := []*database.DB{portfolioDB, ledgerDB, cacheDB}
	for _, db := range databases {
		if err := db.Migrate(); err != nil {
			return err
		}
	}

	// Event bus
	bus := events.NewBus(log)

	// External clients
	feedClient := feed.NewClient(cfg.FeedURL, log)
	cachedFeed := marketdata.NewCachedFeed(feedClient, cacheDB, log)
	modelClient := models.NewClient(cfg.ModelsURL, log)

	var broker domain.BrokerClient
	if cfg.BrokerageURL != "" {
		broker = brokerage.NewClient(cfg.BrokerageURL, cfg.BrokerageKey, log)
	}

	// Decision pipeline
	regimeRepo := regime.NewRepository(portfolioDB)
	classifier := regime.NewClassifier(cachedFeed, regimeRepo,
		cfg.Engine.VolatilityWindow, cfg.Engine.SeriesWindow, cfg.Engine.HysteresisPeriods, log)

	strategyRepo := strategy.NewRepository(portfolioDB)
	selector := strategy.NewSelector(strategyRepo, log)

	builder := targets.NewBuilder(modelClient, modelClient, log)
	enforcer := risk.NewEnforcer(log)
	differ := diff.NewEngine(log)

	fillLedger := ledger.NewRepository(ledgerDB, log)
	batchRepo := orders.NewRepository(ledgerDB)
	orderManager := orders.NewManager(batchRepo, broker, fillLedger, bus, log)

	auditor := audit.NewRecorder(ledgerDB, log)

	paperState := rebalance.NewPaperState(fillLedger, cachedFeed)
	states := map[domain.ExecutionMode]rebalance.StateProvider{
		domain.ModeDryRun: paperState,
		domain.ModePaper:  paperState,
	}
	if broker != nil {
		states[domain.ModeLive] = rebalance.NewBrokerState(broker)
	}

	rebalancer := rebalance.NewService(cfg, classifier, selector, strategyRepo,
		builder, enforcer, differ, orderManager, batchRepo, states,
		cachedFeed, auditor, bus, log)

	// Backup (optional)
	var backup scheduler.Backup
	if cfg.Backup.Bucket != "" {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			return err
		}
		backup = reliability.NewBackupService(s3Client, databases, cfg.DataDir,
			cfg.Backup.RetentionDays, bus, log)
	}

	// Scheduler
	sched := scheduler.New(cfg, classifier, rebalancer, backup, cachedFeed, databases, log)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	// HTTP server
	srv := server.New(cfg, rebalancer, orderManager, batchRepo, regimeRepo,
		auditor, bus, databases, log)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	// Wait for shutdown signal or server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Checkpoint WALs so a restart starts from compact files
	for _, db := range databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Str("database", db.Name()).Msg("Final WAL checkpoint failed")
		}
	}

	log.Info().Msg("Steward stopped")
	return nil
}
