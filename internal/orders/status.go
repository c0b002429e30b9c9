// Package orders owns the order batch lifecycle: the approval/execution
// state machine and dispatch to the brokerage.
package orders

import (
	"fmt"

	"github.com/aristath/steward/internal/domain"
)

// BatchStatus is a node in the batch lifecycle state machine
type BatchStatus string

const (
	StatusDraft             BatchStatus = "DRAFT"
	StatusPendingApproval   BatchStatus = "PENDING_APPROVAL"
	StatusApproved          BatchStatus = "APPROVED"
	StatusRejected          BatchStatus = "REJECTED"
	StatusExecuting         BatchStatus = "EXECUTING"
	StatusExecuted          BatchStatus = "EXECUTED"
	StatusPartiallyExecuted BatchStatus = "PARTIALLY_EXECUTED"
	StatusFailed            BatchStatus = "FAILED"
)

// allowedTransitions is the lifecycle DAG. Terminal states (REJECTED,
// EXECUTED, PARTIALLY_EXECUTED, FAILED) have no outgoing edges.
var allowedTransitions = map[BatchStatus][]BatchStatus{
	StatusDraft:           {StatusPendingApproval, StatusApproved},
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusExecuting},
	StatusExecuting:       {StatusExecuted, StatusPartiallyExecuted, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the DAG
func CanTransition(from, to BatchStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions
func IsTerminal(status BatchStatus) bool {
	return len(allowedTransitions[status]) == 0
}

// validateTransition returns a structured error for an illegal edge
func validateTransition(from, to BatchStatus) error {
	if !CanTransition(from, to) {
		return domain.NewError(domain.KindInternal, "orders",
			fmt.Sprintf("illegal batch transition %s -> %s", from, to))
	}
	return nil
}

// TradeStatus is the per-trade outcome inside a batch
type TradeStatus string

const (
	TradePending TradeStatus = "pending"
	TradeFilled  TradeStatus = "filled"
	TradeFailed  TradeStatus = "failed"
)

// BatchTrade is one trade inside a batch with its individual outcome.
// Brokerage orders cannot be rolled back, so outcomes are tracked per
// trade rather than per batch.
type BatchTrade struct {
	domain.TradeIntent
	Status  TradeStatus
	OrderID string
	Error   string
}

// Batch is one proposed or executed set of trades
type Batch struct {
	BatchID    string
	AccountID  string
	Status     BatchStatus
	Mode       domain.ExecutionMode
	Trades     []BatchTrade
	CreatedAt  int64
	DecidedAt  int64
	ExecutedAt int64
}
