package services

import (
	"context"
	"log"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/pkg/constants"
	"github.com/migratehub/backend/pkg/errors"
)

// Lifecycle commands operate on the flow as a whole, independent of phase
// internals. They are recorded in the transition history as flow-level
// entries (empty phase) so the audit trail stays complete.

// Pause suspends a flow. Phase states are untouched; external executors
// observe the PAUSED status and stop reporting work.
func (s *OrchestrationService) Pause(ctx context.Context, scope models.TenantScope, flowID, actor string) (*models.MasterFlowRecord, error) {
	master, _, err := s.mutate(ctx, scope, flowID, func(cfg models.FlowTypeConfig, master *models.MasterFlowRecord, child *models.ChildFlowRecord) ([]models.TransitionRecord, error) {
		if child.Control == constants.ControlPaused {
			return nil, errors.NewValidationError("flow", "flow is already paused")
		}
		from := master.LifecycleStatus
		child.Control = constants.ControlPaused
		return []models.TransitionRecord{lifecycleTransition(flowID, from, models.FlowPaused, actor, "user pause")}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("⏸️ Flow paused: %s", flowID)
	return master, nil
}

// Resume lifts a pause. The lifecycle status is re-derived from the phase
// states, so a resumed flow lands wherever its phases actually are.
func (s *OrchestrationService) Resume(ctx context.Context, scope models.TenantScope, flowID, actor string) (*models.MasterFlowRecord, error) {
	master, _, err := s.mutate(ctx, scope, flowID, func(cfg models.FlowTypeConfig, master *models.MasterFlowRecord, child *models.ChildFlowRecord) ([]models.TransitionRecord, error) {
		if child.Control != constants.ControlPaused {
			return nil, errors.NewValidationError("flow", "flow is not paused")
		}
		from := master.LifecycleStatus
		child.Control = constants.ControlNone
		child.ControlReason = ""
		// Target status is recomputed by aggregation after this returns;
		// the audit entry records the command, not the derived status.
		return []models.TransitionRecord{lifecycleTransition(flowID, from, models.FlowActive, actor, "user resume")}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("▶️ Flow resumed: %s now %s", flowID, master.LifecycleStatus)
	return master, nil
}

// Cancel terminates a flow irreversibly. Timeout-based auto-cancellation
// is implemented by the scheduler calling this same command; the core
// runs no timers itself.
func (s *OrchestrationService) Cancel(ctx context.Context, scope models.TenantScope, flowID, reason, actor string) (*models.MasterFlowRecord, error) {
	master, _, err := s.mutate(ctx, scope, flowID, func(cfg models.FlowTypeConfig, master *models.MasterFlowRecord, child *models.ChildFlowRecord) ([]models.TransitionRecord, error) {
		from := master.LifecycleStatus
		child.Control = constants.ControlCancelled
		child.ControlReason = reason
		return []models.TransitionRecord{lifecycleTransition(flowID, from, models.FlowCancelled, actor, reason)}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🛑 Flow cancelled: %s (%s)", flowID, reason)
	return master, nil
}

// ReportConflict raises the conflict_resolution_pending flag on behalf of
// an executor that detected conflicting data mid-phase. The phase's own
// state is left untouched: the flag, not the status, gates user action.
func (s *OrchestrationService) ReportConflict(ctx context.Context, scope models.TenantScope, flowID, phase string, conflictCount int, actor string) (*models.MasterFlowRecord, error) {
	master, _, err := s.mutate(ctx, scope, flowID, func(cfg models.FlowTypeConfig, master *models.MasterFlowRecord, child *models.ChildFlowRecord) ([]models.TransitionRecord, error) {
		if !cfg.HasPhase(phase) {
			return nil, errors.NewValidationError("phase", "unknown phase for this flow type")
		}
		if conflictCount < 1 {
			conflictCount = 1
		}
		from := master.LifecycleStatus
		child.SetFlag(constants.FlagConflictResolutionPending, true)
		child.SetFlag(constants.FlagConflictCount, conflictCount)
		child.SetFlag(constants.FlagConflictPhase, phase)
		return []models.TransitionRecord{lifecycleTransition(flowID, from, models.FlowWaitingApproval, actor, "conflict reported")}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("⚠️ Conflict reported on flow %s phase %s (%d items)", flowID, phase, conflictCount)
	return master, nil
}

// lifecycleTransition builds a flow-level audit entry (empty phase)
func lifecycleTransition(flowID string, from, to models.FlowLifecycleStatus, actor, reason string) models.TransitionRecord {
	t := transition(flowID, "", models.PhaseState(from), models.PhaseState(to), actor, reason)
	return t
}
