package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/orders"
	"github.com/aristath/steward/internal/rebalance"
)

// errorKindStatus maps pipeline error kinds to HTTP status codes
func errorKindStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindConcurrencyConflict:
		return http.StatusConflict
	case domain.KindConstraintViolation:
		return http.StatusUnprocessableEntity
	case domain.KindDataUnavailable, domain.KindModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":      err.Error(),
		"error_kind": string(domain.KindOf(err)),
	})
}

// rebalanceRequest is the optional trigger body with per-call overrides
type rebalanceRequest struct {
	Force           bool  `json:"force"`
	DryRun          bool  `json:"dry_run"`
	RequireApproval *bool `json:"require_approval"`
}

// handleRebalance triggers a rebalance for an account.
// POST /api/accounts/{accountID}/rebalance
func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	// The body is optional; an empty body means no overrides
	var req rebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.rebalancer.Run(r.Context(), accountID, rebalance.RunOptions{
		Force:           req.Force,
		DryRun:          req.DryRun,
		RequireApproval: req.RequireApproval,
	})
	if err != nil {
		status := errorKindStatus(domain.KindOf(err))
		if result != nil {
			// The structured result carries the error kind and any
			// partial progress; return it alongside the status
			s.writeJSON(w, status, result)
			return
		}
		s.writeError(w, status, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleGetBatch returns a batch with its trades and transition history.
// GET /api/batches/{batchID}
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	batch, err := s.batchRepo.Get(batchID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if batch == nil {
		http.Error(w, "batch not found", http.StatusNotFound)
		return
	}

	history, err := s.batchRepo.Events(batchID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch":  batchView(batch),
		"events": history,
	})
}

// handleApproveBatch approves a pending batch and executes it.
// POST /api/batches/{batchID}/approve
func (s *Server) handleApproveBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	if err := s.orders.Approve(batchID); err != nil {
		s.writeError(w, errorKindStatus(domain.KindOf(err)), err)
		return
	}

	batch, err := s.rebalancer.ExecuteApproved(r.Context(), batchID)
	if err != nil {
		s.writeError(w, errorKindStatus(domain.KindOf(err)), err)
		return
	}
	s.writeJSON(w, http.StatusOK, batchView(batch))
}

// handleRejectBatch rejects a pending batch.
// POST /api/batches/{batchID}/reject
func (s *Server) handleRejectBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	if err := s.orders.Reject(batchID); err != nil {
		s.writeError(w, errorKindStatus(domain.KindOf(err)), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"batch_id": batchID, "status": string(orders.StatusRejected)})
}

// handleListBatches returns recent batches for an account.
// GET /api/accounts/{accountID}/batches
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	limit := queryInt(r, "limit", 20)

	batches, err := s.batchRepo.ListByAccount(accountID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"batches": batches})
}

// handleRecentRuns returns recent rebalance summaries for an account.
// GET /api/accounts/{accountID}/runs
func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	limit := queryInt(r, "limit", 20)

	runs, err := s.auditor.RecentRuns(accountID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleRunTrace returns the full audit trace of one run.
// GET /api/runs/{runID}/trace
func (s *Server) handleRunTrace(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	trace, err := s.auditor.RunTrace(runID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"trace": trace})
}

// handleRegime returns regime history for a benchmark.
// GET /api/regime?benchmark=SPY&limit=30
func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	benchmark := r.URL.Query().Get("benchmark")
	if benchmark == "" && len(s.cfg.Engine.Accounts) > 0 {
		benchmark = s.cfg.Engine.Accounts[0].Benchmark
	}
	limit := queryInt(r, "limit", 30)

	history, err := s.regimeRepo.History(benchmark, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"benchmark": benchmark,
		"snapshots": history,
	})
}

// handleHealth is the basic liveness probe.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSystemHealth reports database and host health.
// GET /api/system/health
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := make(map[string]string, len(s.databases))
	healthy := true
	for _, db := range s.databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			dbStatus[db.Name()] = err.Error()
			healthy = false
		} else {
			dbStatus[db.Name()] = "ok"
		}
	}

	cpuAvg := 0.0
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	memUsed := 0.0
	if memStat, err := mem.VirtualMemory(); err == nil {
		memUsed = memStat.UsedPercent
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":          overall,
		"databases":       dbStatus,
		"cpu_percent":     cpuAvg,
		"memory_percent":  memUsed,
	})
}

// batchView shapes a batch for JSON responses
func batchView(batch *orders.Batch) map[string]interface{} {
	trades := make([]map[string]interface{}, len(batch.Trades))
	for i, trade := range batch.Trades {
		trades[i] = map[string]interface{}{
			"ticker":          trade.Ticker,
			"side":            string(trade.Side),
			"quantity":        trade.Quantity,
			"reference_price": trade.ReferencePrice,
			"client_order_id": trade.ClientOrderID,
			"status":          string(trade.Status),
			"order_id":        trade.OrderID,
			"error":           trade.Error,
		}
	}
	return map[string]interface{}{
		"batch_id":    batch.BatchID,
		"account_id":  batch.AccountID,
		"status":      string(batch.Status),
		"mode":        string(batch.Mode),
		"trades":      trades,
		"created_at":  batch.CreatedAt,
		"decided_at":  batch.DecidedAt,
		"executed_at": batch.ExecutedAt,
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
