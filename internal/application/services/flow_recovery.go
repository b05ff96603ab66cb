package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/pkg/constants"
	"github.com/migratehub/backend/pkg/errors"
)

// RollbackPhase reverts a completed phase to ROLLED_BACK, re-opening it
// for execution. With cascade enabled, every phase declared after it is
// reset to NOT_STARTED - which downstream phases depend on a rolled-back
// one is the caller's declaration, not a guess by the core.
func (s *OrchestrationService) RollbackPhase(ctx context.Context, scope models.TenantScope, flowID, phase, reason, actor string, cascade bool) (*models.MasterFlowRecord, *models.ChildFlowRecord, error) {
	return s.mutate(ctx, scope, flowID, func(cfg models.FlowTypeConfig, master *models.MasterFlowRecord, child *models.ChildFlowRecord) ([]models.TransitionRecord, error) {
		st := child.Phase(phase)
		if st == nil {
			return nil, errors.NewValidationError("phase", fmt.Sprintf("phase '%s' has not been tracked for this flow", phase))
		}
		// Only legal from COMPLETED; the state machine rejection carries
		// the valid alternatives.
		if err := s.stateMachine.ValidateTransition(phase, st.State, models.PhaseRolledBack); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		from := st.State
		st.State = models.PhaseRolledBack
		st.CompletedAt = nil
		st.UpdatedAt = now

		transitions := []models.TransitionRecord{transition(flowID, phase, from, models.PhaseRolledBack, actor, reason)}

		if cascade {
			transitions = append(transitions, s.cascadeReset(flowID, cfg, child, phase, actor)...)
		}

		// The operational cursor reverts to the re-executable phase
		child.CurrentPhase = phase
		return transitions, nil
	})
}

// cascadeReset resets every phase declared after the rolled-back one back
// to NOT_STARTED, clearing its result. Untracked downstream phases are
// left untracked.
func (s *OrchestrationService) cascadeReset(flowID string, cfg models.FlowTypeConfig, child *models.ChildFlowRecord, phase, actor string) []models.TransitionRecord {
	var transitions []models.TransitionRecord
	now := time.Now().UTC()

	for _, name := range cfg.PhasesAfter(phase) {
		st := child.Phase(name)
		if st == nil || st.State == models.PhaseNotStarted {
			continue
		}
		from := st.State
		child.PhaseStates[name] = &models.PhaseStatus{State: models.PhaseNotStarted, UpdatedAt: now}
		delete(child.PhaseResults, name)
		transitions = append(transitions, transition(flowID, name, from, models.PhaseNotStarted, actor,
			fmt.Sprintf("cascade reset after rollback of '%s'", phase)))
	}
	return transitions
}

// RetryFailedPhase books another attempt for a phase in FAILED or
// RETRY_NEEDED. The idempotency key makes retried network calls safe: the
// same key never increments the counter twice. The configured budget is
// enforced with RetryLimitExceeded.
func (s *OrchestrationService) RetryFailedPhase(ctx context.Context, scope models.TenantScope, flowID, phase, actor, idempotencyKey string) (*models.ChildFlowRecord, error) {
	_, child, err := s.mutate(ctx, scope, flowID, func(cfg models.FlowTypeConfig, master *models.MasterFlowRecord, child *models.ChildFlowRecord) ([]models.TransitionRecord, error) {
		st := child.Phase(phase)
		if st == nil {
			return nil, errors.NewValidationError("phase", fmt.Sprintf("phase '%s' has not been tracked for this flow", phase))
		}
		if st.State != models.PhaseFailed && st.State != models.PhaseRetryNeeded {
			return nil, &errors.InvalidTransitionError{
				Phase:        phase,
				FromState:    string(st.State),
				ToState:      string(models.PhaseRetryNeeded),
				ValidTargets: s.stateMachine.ValidTargets(st.State),
			}
		}

		// Same logical retry replayed over the network: not double-counted
		if idempotencyKey != "" && child.RetryKeys[phase] == idempotencyKey {
			return nil, nil
		}

		maxRetries := s.registry.MaxRetries(master.FlowType)
		if st.RetryCount >= maxRetries {
			return nil, &errors.RetryLimitExceeded{Phase: phase, RetryCount: st.RetryCount, MaxRetries: maxRetries}
		}

		now := time.Now().UTC()
		from := st.State
		st.RetryCount++
		st.LastError = ""
		st.UpdatedAt = now
		if idempotencyKey != "" {
			if child.RetryKeys == nil {
				child.RetryKeys = make(map[string]string)
			}
			child.RetryKeys[phase] = idempotencyKey
		}

		if st.State == models.PhaseFailed {
			st.State = models.PhaseRetryNeeded
			return []models.TransitionRecord{transition(flowID, phase, from, models.PhaseRetryNeeded, actor, "manual retry")}, nil
		}
		// Already RETRY_NEEDED: only the counter moves, but consuming
		// retry budget is still a mutation the trail must show
		reason := fmt.Sprintf("retry %d of %d booked", st.RetryCount, maxRetries)
		return []models.TransitionRecord{transition(flowID, phase, from, st.State, actor, reason)}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🔁 Retry booked for flow %s phase %s (count=%d)", flowID, phase, child.Phase(phase).RetryCount)
	return child, nil
}

// ConflictResolution is the outcome of ResolveConflict
type ConflictResolution struct {
	Cleared            bool `json:"cleared"`
	RemainingConflicts int  `json:"remaining_conflicts"`
}

// ResolveConflict clears the pending-conflict flag atomically with storing
// the resolution payload against the conflicted phase. The flag is
// re-validated under the mutation lock: if it is no longer set (a
// concurrent resolution won), the call is a no-op reporting cleared=false.
func (s *OrchestrationService) ResolveConflict(ctx context.Context, scope models.TenantScope, flowID string, payload interface{}, actor string) (*ConflictResolution, error) {
	res := &ConflictResolution{}

	_, _, err := s.mutate(ctx, scope, flowID, func(cfg models.FlowTypeConfig, master *models.MasterFlowRecord, child *models.ChildFlowRecord) ([]models.TransitionRecord, error) {
		if !child.FlagBool(constants.FlagConflictResolutionPending) {
			res.Cleared = false
			res.RemainingConflicts = intFlag(child, constants.FlagConflictCount)
			return nil, nil
		}

		phase, _ := child.OperationalFlags[constants.FlagConflictPhase].(string)
		from := master.LifecycleStatus

		child.ClearFlag(constants.FlagConflictResolutionPending)
		child.ClearFlag(constants.FlagConflictCount)
		child.ClearFlag(constants.FlagConflictPhase)

		if payload != nil && phase != "" {
			if child.PhaseResults == nil {
				child.PhaseResults = make(map[string]interface{})
			}
			child.PhaseResults[phase+".conflict_resolution"] = payload
		}

		res.Cleared = true
		res.RemainingConflicts = 0
		return []models.TransitionRecord{lifecycleTransition(flowID, from, models.FlowActive, actor, "conflict resolved")}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func intFlag(child *models.ChildFlowRecord, key string) int {
	switch v := child.OperationalFlags[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		// JSON round trip stores numbers as float64
		return int(v)
	default:
		return 0
	}
}

// RecoveryOptions lists which recovery actions are currently legal, so
// callers can render available actions without re-deriving the transition
// table.
type RecoveryOptions struct {
	Retry    []string `json:"retry"`    // phases eligible for retry
	Rollback []string `json:"rollback"` // phases eligible for rollback
	Pause    bool     `json:"pause"`
	Resume   bool     `json:"resume"`
	Cancel   bool     `json:"cancel"`
}

// GetRecoveryOptions is a pure read-side helper over the current records
func (s *OrchestrationService) GetRecoveryOptions(ctx context.Context, scope models.TenantScope, flowID string) (*RecoveryOptions, error) {
	master, child, err := s.store.Read(ctx, scope, flowID)
	if err != nil {
		return nil, err
	}

	opts := &RecoveryOptions{}
	if child.Control == constants.ControlCancelled {
		return opts, nil
	}

	cfg, err := s.registry.Config(master.FlowType)
	if err != nil {
		return nil, err
	}
	maxRetries := s.registry.MaxRetries(master.FlowType)

	for _, name := range cfg.PhaseNames() {
		st := child.Phase(name)
		if st == nil {
			continue
		}
		if (st.State == models.PhaseFailed || st.State == models.PhaseRetryNeeded) && st.RetryCount < maxRetries {
			opts.Retry = append(opts.Retry, name)
		}
		if s.stateMachine.CanTransition(st.State, models.PhaseRolledBack) {
			opts.Rollback = append(opts.Rollback, name)
		}
	}

	opts.Cancel = true
	if child.Control == constants.ControlPaused {
		opts.Resume = true
	} else {
		opts.Pause = true
	}
	return opts, nil
}
