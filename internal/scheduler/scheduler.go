// Package scheduler wires the recurring engine jobs: daily regime
// snapshots, per-account rebalances, backups, and database maintenance.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/rebalance"
)

// RegimeEvaluator evaluates the regime for a benchmark
type RegimeEvaluator interface {
	Evaluate(ctx context.Context, benchmark, date string) (*domain.RegimeSnapshot, error)
}

// Rebalancer runs a rebalance for an account
type Rebalancer interface {
	Run(ctx context.Context, accountID string, opts rebalance.RunOptions) (*rebalance.Result, error)
}

// Backup runs the nightly database backup
type Backup interface {
	Run(ctx context.Context) error
}

// CachePurger drops stale cache entries
type CachePurger interface {
	Purge(olderThan time.Duration) error
}

// jobTimeout bounds every scheduled job
const jobTimeout = 10 * time.Minute

// Scheduler owns the cron runner
type Scheduler struct {
	cron       *cron.Cron
	cfg        *config.Config
	classifier RegimeEvaluator
	rebalancer Rebalancer
	backup     Backup
	purger     CachePurger
	databases  []*database.DB
	log        zerolog.Logger
}

// New creates a new scheduler
func New(cfg *config.Config, classifier RegimeEvaluator, rebalancer Rebalancer, backup Backup, purger CachePurger, databases []*database.DB, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		cfg:        cfg,
		classifier: classifier,
		rebalancer: rebalancer,
		backup:     backup,
		purger:     purger,
		databases:  databases,
		log:        log.With().Str("service", "scheduler").Logger(),
	}
}

// Start registers all jobs and starts the cron runner
func (s *Scheduler) Start() error {
	// Daily regime snapshot after US close, weekdays 22:15 UTC.
	// Keeps the hysteresis streak advancing even on days no account
	// rebalances.
	if _, err := s.cron.AddFunc("15 22 * * 1-5", s.runRegimeSnapshots); err != nil {
		return err
	}

	// Per-account scheduled rebalances
	for _, acct := range s.cfg.Engine.Accounts {
		if acct.Schedule == "" {
			continue
		}
		accountID := acct.ID
		_, err := s.cron.AddFunc(acct.Schedule, func() {
			s.runRebalance(accountID)
		})
		if err != nil {
			return err
		}
		s.log.Info().
			Str("account_id", accountID).
			Str("schedule", acct.Schedule).
			Msg("Scheduled account rebalance")
	}

	// Nightly backup at 02:30
	if s.backup != nil {
		if _, err := s.cron.AddFunc("30 2 * * *", s.runBackup); err != nil {
			return err
		}
	}

	// Weekly database maintenance, Sunday 03:00
	if _, err := s.cron.AddFunc("0 3 * * 0", s.runMaintenance); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
	return nil
}

// Stop halts the cron runner and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// runRegimeSnapshots evaluates the regime once per distinct benchmark
func (s *Scheduler) runRegimeSnapshots() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	date := time.Now().UTC().Format("2006-01-02")
	seen := make(map[string]bool)
	for _, acct := range s.cfg.Engine.Accounts {
		if seen[acct.Benchmark] {
			continue
		}
		seen[acct.Benchmark] = true

		snap, err := s.classifier.Evaluate(ctx, acct.Benchmark, date)
		if err != nil {
			s.log.Error().Err(err).
				Str("benchmark", acct.Benchmark).
				Msg("Daily regime snapshot failed")
			continue
		}
		s.log.Info().
			Str("benchmark", acct.Benchmark).
			Str("label", snap.Label).
			Msg("Daily regime snapshot recorded")
	}
}

func (s *Scheduler) runRebalance(accountID string) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := s.rebalancer.Run(ctx, accountID, rebalance.RunOptions{})
	if err != nil {
		s.log.Error().Err(err).
			Str("account_id", accountID).
			Msg("Scheduled rebalance failed")
		return
	}
	s.log.Info().
		Str("account_id", accountID).
		Str("run_id", result.RunID).
		Str("batch_id", result.BatchID).
		Int("trades", result.Trades).
		Msg("Scheduled rebalance finished")
}

func (s *Scheduler) runBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.backup.Run(ctx); err != nil {
		s.log.Error().Err(err).Msg("Nightly backup failed")
		return
	}
	s.log.Info().Msg("Nightly backup finished")
}

// runMaintenance checkpoints WAL files, verifies integrity, and purges
// stale cache entries
func (s *Scheduler) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	for _, db := range s.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
		if err := db.HealthCheck(ctx); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Integrity check failed")
		}
	}

	if s.purger != nil {
		if err := s.purger.Purge(7 * 24 * time.Hour); err != nil {
			s.log.Error().Err(err).Msg("Cache purge failed")
		}
	}

	s.log.Info().Msg("Database maintenance finished")
}
