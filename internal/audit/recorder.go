// Package audit persists the immutable decision trace of every
// rebalance run to the ledger database.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/domain"
)

// Recorder appends audit rows. Rows are never updated or deleted; a
// failed stage is recorded with its error before the error propagates.
type Recorder struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRecorder creates a new audit recorder
func NewRecorder(db *database.DB, log zerolog.Logger) *Recorder {
	return &Recorder{
		db:  db,
		log: log.With().Str("service", "audit").Logger(),
	}
}

// RecordStage appends one stage's output for a run. The payload is
// marshalled to JSON; an unmarshallable payload is recorded as an error
// string rather than dropped.
func (r *Recorder) RecordStage(runID, accountID, stage string, payload interface{}, stageErr error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		payloadJSON = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}

	var errStr interface{}
	if stageErr != nil {
		errStr = stageErr.Error()
	}

	_, err = r.db.Exec(`
		INSERT INTO audit_events (run_id, account_id, stage, payload, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, accountID, stage, string(payloadJSON), errStr, time.Now().Unix())
	if err != nil {
		// Audit failures are logged, never allowed to abort a run that
		// has already moved money
		r.log.Error().Err(err).
			Str("run_id", runID).
			Str("stage", stage).
			Msg("Failed to record audit event")
	}
}

// RecordRun appends the summary row for a finished rebalance attempt
func (r *Recorder) RecordRun(rec *domain.RebalanceRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO rebalance_records
			(run_id, account_id, started_at, finished_at, regime_label,
			 strategy, batch_id, status, error_kind, error_msg, weights_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.AccountID, rec.StartedAt.Unix(), rec.FinishedAt.Unix(),
		rec.RegimeLabel, rec.Strategy, rec.BatchID, rec.Status,
		rec.ErrorKind, rec.ErrorMsg, rec.WeightsJSON)
	if err != nil {
		return fmt.Errorf("failed to record rebalance summary: %w", err)
	}
	return nil
}

// StageEvent is one recorded audit row
type StageEvent struct {
	RunID     string          `json:"run_id"`
	AccountID string          `json:"account_id"`
	Stage     string          `json:"stage"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// RunTrace returns the full stage trace of one run, in record order
func (r *Recorder) RunTrace(runID string) ([]StageEvent, error) {
	rows, err := r.db.Query(`
		SELECT run_id, account_id, stage, payload, COALESCE(error, ''), created_at
		FROM audit_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trace: %w", err)
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var ev StageEvent
		var payload string
		if err := rows.Scan(&ev.RunID, &ev.AccountID, &ev.Stage, &payload, &ev.Error, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecentRuns returns the latest rebalance summaries for an account
func (r *Recorder) RecentRuns(accountID string, limit int) ([]domain.RebalanceRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, run_id, account_id, started_at, finished_at,
		       COALESCE(regime_label, ''), COALESCE(strategy, ''), COALESCE(batch_id, ''),
		       status, COALESCE(error_kind, ''), COALESCE(error_msg, ''), COALESCE(weights_json, '')
		FROM rebalance_records WHERE account_id = ?
		ORDER BY started_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance records: %w", err)
	}
	defer rows.Close()

	var records []domain.RebalanceRecord
	for rows.Next() {
		var rec domain.RebalanceRecord
		var started, finished int64
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.AccountID, &started, &finished,
			&rec.RegimeLabel, &rec.Strategy, &rec.BatchID, &rec.Status,
			&rec.ErrorKind, &rec.ErrorMsg, &rec.WeightsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan rebalance record: %w", err)
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.FinishedAt = time.Unix(finished, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}
