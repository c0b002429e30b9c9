package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_AllowedEdges(t *testing.T) {
	allowed := [][2]BatchStatus{
		{StatusDraft, StatusPendingApproval},
		{StatusDraft, StatusApproved},
		{StatusPendingApproval, StatusApproved},
		{StatusPendingApproval, StatusRejected},
		{StatusApproved, StatusExecuting},
		{StatusExecuting, StatusExecuted},
		{StatusExecuting, StatusPartiallyExecuted},
		{StatusExecuting, StatusFailed},
	}
	for _, edge := range allowed {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}
}

func TestCanTransition_IllegalEdgesRejected(t *testing.T) {
	illegal := [][2]BatchStatus{
		{StatusExecuted, StatusPendingApproval},
		{StatusExecuted, StatusExecuting},
		{StatusRejected, StatusApproved},
		{StatusFailed, StatusExecuting},
		{StatusPartiallyExecuted, StatusExecuting},
		{StatusDraft, StatusExecuting},
		{StatusDraft, StatusExecuted},
		{StatusApproved, StatusExecuted},
		{StatusExecuting, StatusApproved},
		{StatusPendingApproval, StatusExecuting},
	}
	for _, edge := range illegal {
		assert.False(t, CanTransition(edge[0], edge[1]), "%s -> %s must be rejected", edge[0], edge[1])
		assert.Error(t, validateTransition(edge[0], edge[1]))
	}
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []BatchStatus{StatusRejected, StatusExecuted, StatusPartiallyExecuted, StatusFailed} {
		assert.True(t, IsTerminal(status), "%s is terminal", status)
	}
	for _, status := range []BatchStatus{StatusDraft, StatusPendingApproval, StatusApproved, StatusExecuting} {
		assert.False(t, IsTerminal(status), "%s is not terminal", status)
	}
}
