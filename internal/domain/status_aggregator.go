package domain

import (
	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/pkg/constants"
)

// FlowStatusAggregator derives the whole-flow lifecycle status from the set
// of per-phase states plus operational flags. Pure and side-effect free so
// it can be called for diagnostics at any time.
//
// The precedence order below is a chosen total order over conditions that
// can hold simultaneously (e.g. one phase RETRY_NEEDED while another is
// WAITING_APPROVAL). It is policy, not physics: an aggregator with a
// different rule order is constructible for tenants that need one.
type FlowStatusAggregator struct {
	rules []aggregationRule
}

type aggregationRule func(in AggregationInput) (models.FlowLifecycleStatus, bool)

// AggregationInput carries everything status derivation may consult
type AggregationInput struct {
	PhaseStates   map[string]*models.PhaseStatus
	Flags         map[string]interface{}
	Control       string // constants.ControlPaused / ControlCancelled / ""
	TerminalPhase string
	// Started is false until any phase has left NOT_STARTED
	Started bool
}

// NewFlowStatusAggregator creates an aggregator with the default precedence:
//  1. conflict_resolution_pending flag -> WAITING_APPROVAL (flag over status)
//  2. user cancel -> CANCELLED (overrides everything but rule 1)
//  3. user pause -> PAUSED (overrides everything but rule 1)
//  4. non-retryable FAILED phase -> FAILED
//  5. any RETRY_NEEDED phase -> RETRY_PENDING
//  6. any WAITING_APPROVAL phase -> WAITING_APPROVAL
//  7. terminal phase COMPLETED and no phase still open -> COMPLETED
//  8. nothing started yet -> INITIALIZED, otherwise ACTIVE
//
// WAITING_VALIDATION is deliberately treated as ACTIVE: validation is a
// routine stage, not an error state.
func NewFlowStatusAggregator() *FlowStatusAggregator {
	return &FlowStatusAggregator{
		rules: []aggregationRule{
			ruleConflictPending,
			ruleCancelled,
			rulePaused,
			ruleAnyFailed,
			ruleAnyRetryNeeded,
			ruleAnyWaitingApproval,
			ruleAllTerminalCompleted,
		},
	}
}

// Aggregate evaluates the rules top to bottom; first match wins
func (a *FlowStatusAggregator) Aggregate(in AggregationInput) models.FlowLifecycleStatus {
	for _, rule := range a.rules {
		if status, ok := rule(in); ok {
			return status
		}
	}
	if !in.Started {
		return models.FlowInitialized
	}
	return models.FlowActive
}

// Rule 1: a pending conflict always dominates, regardless of any phase's
// own state. Gating logic must consult flags, never only lifecycle status.
func ruleConflictPending(in AggregationInput) (models.FlowLifecycleStatus, bool) {
	if v, ok := in.Flags[constants.FlagConflictResolutionPending]; ok {
		if b, _ := v.(bool); b {
			return models.FlowWaitingApproval, true
		}
	}
	return "", false
}

// Cancel overrides everything except rule 1; it is terminal.
func ruleCancelled(in AggregationInput) (models.FlowLifecycleStatus, bool) {
	if in.Control == constants.ControlCancelled {
		return models.FlowCancelled, true
	}
	return "", false
}

// A FAILED phase state means the executor classified the error
// non-retryable; retryable failures arrive as RETRY_NEEDED instead.
func ruleAnyFailed(in AggregationInput) (models.FlowLifecycleStatus, bool) {
	for _, st := range in.PhaseStates {
		if st.State == models.PhaseFailed {
			return models.FlowFailed, true
		}
	}
	return "", false
}

func ruleAnyRetryNeeded(in AggregationInput) (models.FlowLifecycleStatus, bool) {
	for _, st := range in.PhaseStates {
		if st.State == models.PhaseRetryNeeded {
			return models.FlowRetryPending, true
		}
	}
	return "", false
}

func ruleAnyWaitingApproval(in AggregationInput) (models.FlowLifecycleStatus, bool) {
	for _, st := range in.PhaseStates {
		if st.State == models.PhaseWaitingApproval {
			return models.FlowWaitingApproval, true
		}
	}
	return "", false
}

// The flow is complete when its terminal phase is COMPLETED and every
// tracked phase has settled as COMPLETED or ROLLED_BACK.
func ruleAllTerminalCompleted(in AggregationInput) (models.FlowLifecycleStatus, bool) {
	terminal, ok := in.PhaseStates[in.TerminalPhase]
	if !ok || terminal.State != models.PhaseCompleted {
		return "", false
	}
	for _, st := range in.PhaseStates {
		if st.State != models.PhaseCompleted && st.State != models.PhaseRolledBack {
			return "", false
		}
	}
	return models.FlowCompleted, true
}

func rulePaused(in AggregationInput) (models.FlowLifecycleStatus, bool) {
	if in.Control == constants.ControlPaused {
		return models.FlowPaused, true
	}
	return "", false
}
