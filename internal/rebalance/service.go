// Package rebalance orchestrates the full decision pipeline for one
// account: regime, strategy, targets, risk, diff, batch.
package rebalance

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/diff"
	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/orders"
)

// Classifier evaluates the market regime
type Classifier interface {
	Evaluate(ctx context.Context, benchmark, date string) (*domain.RegimeSnapshot, error)
}

// Selector picks the strategy for a regime
type Selector interface {
	Select(date, regimeLabel string, limits domain.RiskLimits) (*domain.StrategySelection, error)
}

// TargetBuilder builds the candidate portfolio
type TargetBuilder interface {
	Build(ctx context.Context, date string, universe []string, sel *domain.StrategySelection, features domain.MarketFeatures) (domain.TargetPortfolio, error)
}

// RiskEnforcer clips or rejects candidate portfolios
type RiskEnforcer interface {
	Enforce(candidate domain.TargetPortfolio, limits domain.RiskLimits) (domain.TargetPortfolio, error)
	CheckCashFloor(trades []domain.TradeIntent, cashBalance float64, limits domain.RiskLimits) error
}

// TradeDiffer converts targets into trade intents
type TradeDiffer interface {
	Compute(positions []domain.CurrentPosition, target domain.TargetPortfolio, totalValue float64, prices map[string]float64, limits domain.RiskLimits) (*diff.Result, error)
}

// BatchManager owns batch creation and execution
type BatchManager interface {
	CreateBatch(accountID string, mode domain.ExecutionMode, trades []domain.TradeIntent, requireApproval bool) (*orders.Batch, error)
	Execute(ctx context.Context, batchID string) (*orders.Batch, error)
}

// OpenBatchChecker reports in-flight batches per account
type OpenBatchChecker interface {
	HasOpenBatch(accountID string) (bool, string, error)
}

// SelectionSink persists strategy selections
type SelectionSink interface {
	SaveSelection(accountID string, sel *domain.StrategySelection) error
}

// Auditor records the decision trace
type Auditor interface {
	RecordStage(runID, accountID, stage string, payload interface{}, stageErr error)
	RecordRun(rec *domain.RebalanceRecord) error
}

// Result is the structured outcome returned to the trigger caller
type Result struct {
	RunID       string             `json:"run_id"`
	AccountID   string             `json:"account_id"`
	Status      string             `json:"status"` // completed | failed
	RegimeLabel string             `json:"regime_label,omitempty"`
	Strategy    string             `json:"strategy,omitempty"`
	BatchID     string             `json:"batch_id,omitempty"`
	BatchStatus orders.BatchStatus `json:"batch_status,omitempty"`
	Trades      int                `json:"trades"`
	Turnover    float64            `json:"turnover"`
	ErrorKind   domain.ErrorKind   `json:"error_kind,omitempty"`
	Error       string             `json:"error,omitempty"`

	weightsJSON string
}

// Service runs the rebalance pipeline
type Service struct {
	cfg        *config.Config
	classifier Classifier
	selector   Selector
	selections SelectionSink
	builder    TargetBuilder
	enforcer   RiskEnforcer
	differ     TradeDiffer
	batches    BatchManager
	openCheck  OpenBatchChecker
	states     map[domain.ExecutionMode]StateProvider
	feed       domain.MarketDataFeed
	auditor    Auditor
	bus        *events.Bus
	log        zerolog.Logger

	// inFlight guards one rebalance per account within this process;
	// the open-batch check guards across restarts
	mu       sync.Mutex
	inFlight map[string]bool
}

// NewService creates the rebalance orchestrator
func NewService(cfg *config.Config, classifier Classifier, selector Selector, selections SelectionSink,
	builder TargetBuilder, enforcer RiskEnforcer, differ TradeDiffer, batches BatchManager,
	openCheck OpenBatchChecker, states map[domain.ExecutionMode]StateProvider,
	feed domain.MarketDataFeed, auditor Auditor, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		classifier: classifier,
		selector:   selector,
		selections: selections,
		builder:    builder,
		enforcer:   enforcer,
		differ:     differ,
		batches:    batches,
		openCheck:  openCheck,
		states:     states,
		feed:       feed,
		auditor:    auditor,
		bus:        bus,
		log:        log.With().Str("service", "rebalance").Logger(),
		inFlight:   make(map[string]bool),
	}
}

// RunOptions carries per-call overrides for a rebalance trigger.
// The zero value applies the account configuration unchanged.
type RunOptions struct {
	// Force skips the open-batch guard so a stale pending batch does
	// not block a manual run. The one-run-per-account invariant still
	// holds.
	Force bool

	// DryRun downgrades this run to dry_run regardless of the
	// account's configured mode. It never upgrades a run.
	DryRun bool

	// RequireApproval overrides the account's approval requirement
	// for this run when set.
	RequireApproval *bool
}

// Run executes one rebalance attempt for an account.
//
// At most one rebalance is in flight per account: a second call while
// one runs, or while a previous batch is still open, fails immediately
// with a concurrency conflict and leaves the running attempt untouched.
func (s *Service) Run(ctx context.Context, accountID string, opts RunOptions) (*Result, error) {
	acct, ok := s.cfg.Account(accountID)
	if !ok {
		return nil, domain.NewError(domain.KindInternal, "rebalance", "unknown account "+accountID)
	}

	if !s.acquire(accountID) {
		return nil, domain.NewError(domain.KindConcurrencyConflict, "rebalance",
			"a rebalance is already running for account "+accountID)
	}
	defer s.release(accountID)

	if !opts.Force {
		if open, batchID, err := s.openCheck.HasOpenBatch(accountID); err != nil {
			return nil, domain.WrapError(domain.KindInternal, "rebalance", "failed to check open batches", err)
		} else if open {
			return nil, domain.NewError(domain.KindConcurrencyConflict, "rebalance",
				"batch "+batchID+" is still open for account "+accountID)
		}
	}

	runID := uuid.NewString()
	started := time.Now()
	date := started.UTC().Format("2006-01-02")

	s.bus.Emit(events.RebalanceStarted, "rebalance", map[string]interface{}{
		"run_id":     runID,
		"account_id": accountID,
	})

	result, runErr := s.pipeline(ctx, runID, date, acct, opts)
	result.RunID = runID
	result.AccountID = accountID

	rec := &domain.RebalanceRecord{
		RunID:       runID,
		AccountID:   accountID,
		StartedAt:   started,
		FinishedAt:  time.Now(),
		RegimeLabel: result.RegimeLabel,
		Strategy:    result.Strategy,
		BatchID:     result.BatchID,
		Status:      "completed",
		WeightsJSON: result.weightsJSON,
	}
	if runErr != nil {
		rec.Status = "failed"
		rec.ErrorKind = string(domain.KindOf(runErr))
		rec.ErrorMsg = runErr.Error()
		result.Status = "failed"
		result.ErrorKind = domain.KindOf(runErr)
		result.Error = runErr.Error()
	} else {
		result.Status = "completed"
	}
	if err := s.auditor.RecordRun(rec); err != nil {
		s.log.Error().Err(err).Str("run_id", runID).Msg("Failed to record rebalance summary")
	}

	s.bus.Emit(events.RebalanceFinished, "rebalance", map[string]interface{}{
		"run_id":     runID,
		"account_id": accountID,
		"status":     rec.Status,
		"error_kind": rec.ErrorKind,
	})

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// pipeline runs the staged decision flow, auditing every stage
func (s *Service) pipeline(ctx context.Context, runID, date string, acct *config.AccountConfig, opts RunOptions) (*Result, error) {
	result := &Result{}

	mode := acct.ExecutionMode()
	if opts.DryRun {
		mode = domain.ModeDryRun
	}
	requireApproval := acct.RequireApproval
	if opts.RequireApproval != nil {
		requireApproval = *opts.RequireApproval
	}

	// Stage 1: regime
	snap, err := s.classifier.Evaluate(ctx, acct.Benchmark, date)
	s.auditor.RecordStage(runID, acct.ID, "regime", snap, err)
	if err != nil {
		return result, err
	}
	result.RegimeLabel = snap.Label

	// Stage 2: strategy
	sel, err := s.selector.Select(date, snap.Label, acct.Limits)
	s.auditor.RecordStage(runID, acct.ID, "strategy", sel, err)
	if err != nil {
		return result, err
	}
	result.Strategy = sel.Selected.String()
	if err := s.selections.SaveSelection(acct.ID, sel); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist strategy selection")
	}
	s.bus.Emit(events.StrategySelected, "rebalance", map[string]interface{}{
		"run_id":   runID,
		"regime":   snap.Label,
		"strategy": sel.Selected.String(),
	})

	// Stage 3: targets
	features := domain.MarketFeatures{
		RegimeLabel:  snap.Label,
		Volatility:   snap.Confidence,
		BreadthRatio: snap.BreadthRatio,
	}
	candidate, err := s.builder.Build(ctx, date, acct.Universe, sel, features)
	s.auditor.RecordStage(runID, acct.ID, "targets", candidate, err)
	if err != nil {
		return result, err
	}

	// Stage 4: risk clipping
	clipped, err := s.enforcer.Enforce(candidate, acct.Limits)
	s.auditor.RecordStage(runID, acct.ID, "risk", clipped, err)
	if err != nil {
		return result, err
	}
	result.weightsJSON = WeightsJSON(clipped)

	// Stage 5: account state and prices
	provider, ok := s.states[mode]
	if !ok {
		return result, domain.NewError(domain.KindInternal, "rebalance",
			"no state provider for mode "+string(mode))
	}
	state, err := provider.State(ctx, acct)
	if err != nil {
		err = domain.WrapError(domain.KindDataUnavailable, "rebalance", "failed to resolve account state", err)
		s.auditor.RecordStage(runID, acct.ID, "state", nil, err)
		return result, err
	}
	s.auditor.RecordStage(runID, acct.ID, "state", state, nil)

	prices, err := s.fetchPrices(ctx, state.Positions, clipped)
	if err != nil {
		s.auditor.RecordStage(runID, acct.ID, "prices", nil, err)
		return result, err
	}

	// Stage 6: diff
	diffResult, err := s.differ.Compute(state.Positions, clipped, state.TotalValue, prices, acct.Limits)
	s.auditor.RecordStage(runID, acct.ID, "diff", diffResult, err)
	if err != nil {
		return result, err
	}
	result.Trades = len(diffResult.Trades)
	result.Turnover = diffResult.Turnover

	// Cash floor is only computable once trades exist; a violation here
	// is still a risk-stage rejection
	if err := s.enforcer.CheckCashFloor(diffResult.Trades, state.CashBalance, acct.Limits); err != nil {
		s.auditor.RecordStage(runID, acct.ID, "risk", nil, err)
		return result, err
	}

	if len(diffResult.Trades) == 0 {
		s.log.Info().Str("run_id", runID).Msg("Portfolio already on target, nothing to trade")
		return result, nil
	}

	// Stage 7: batch lifecycle
	batch, err := s.batches.CreateBatch(acct.ID, mode, diffResult.Trades, requireApproval)
	s.auditor.RecordStage(runID, acct.ID, "orders", batch, err)
	if err != nil {
		return result, err
	}
	result.BatchID = batch.BatchID
	result.BatchStatus = batch.Status

	if batch.Status == orders.StatusPendingApproval {
		s.log.Info().
			Str("run_id", runID).
			Str("batch_id", batch.BatchID).
			Msg("Batch awaiting approval")
		return result, nil
	}

	executed, err := s.batches.Execute(ctx, batch.BatchID)
	s.auditor.RecordStage(runID, acct.ID, "execution", executed, err)
	if err != nil {
		return result, err
	}
	result.BatchStatus = executed.Status

	return result, nil
}

// fetchPrices loads prices for every ticker the diff will touch
func (s *Service) fetchPrices(ctx context.Context, positions []domain.CurrentPosition, target domain.TargetPortfolio) (map[string]float64, error) {
	seen := make(map[string]bool)
	var tickers []string
	for _, pos := range positions {
		if !seen[pos.Ticker] {
			seen[pos.Ticker] = true
			tickers = append(tickers, pos.Ticker)
		}
	}
	for _, ticker := range target.Tickers() {
		if !seen[ticker] {
			seen[ticker] = true
			tickers = append(tickers, ticker)
		}
	}
	if len(tickers) == 0 {
		return map[string]float64{}, nil
	}

	prices, err := s.feed.GetPrices(ctx, tickers)
	if err != nil {
		return nil, domain.WrapError(domain.KindDataUnavailable, "rebalance", "failed to fetch prices", err)
	}
	return prices, nil
}

// ExecuteApproved executes a batch that was approved out of band
func (s *Service) ExecuteApproved(ctx context.Context, batchID string) (*orders.Batch, error) {
	return s.batches.Execute(ctx, batchID)
}

func (s *Service) acquire(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[accountID] {
		return false
	}
	s.inFlight[accountID] = true
	return true
}

func (s *Service) release(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, accountID)
}

// WeightsJSON serializes a portfolio for the rebalance record
func WeightsJSON(tp domain.TargetPortfolio) string {
	data, err := json.Marshal(tp)
	if err != nil {
		return ""
	}
	return string(data)
}
