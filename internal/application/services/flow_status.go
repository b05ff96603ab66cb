package services

import (
	"context"
	"math"
	"time"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/internal/domain/ports"
)

// FlowStatusView is the read-model for one flow. Lifecycle status and
// operational flags are reported independently: "is user action required"
// is answered by the flags, never inferred from the status alone.
type FlowStatusView struct {
	FlowID             string                         `json:"flow_id"`
	FlowType           string                         `json:"flow_type"`
	LifecycleStatus    models.FlowLifecycleStatus     `json:"lifecycle_status"`
	CurrentPhase       string                         `json:"current_phase"`
	PhaseStates        map[string]*models.PhaseStatus `json:"phase_states"`
	OperationalFlags   map[string]interface{}         `json:"operational_flags"`
	ProgressPercentage float64                        `json:"progress_percentage"`
	CreatedAt          time.Time                      `json:"created_at"`
	UpdatedAt          time.Time                      `json:"updated_at"`
}

// GetStatus returns the current snapshot of a flow with computed progress
func (s *OrchestrationService) GetStatus(ctx context.Context, scope models.TenantScope, flowID string) (*FlowStatusView, error) {
	master, child, err := s.store.Read(ctx, scope, flowID)
	if err != nil {
		return nil, err
	}

	cfg, err := s.registry.Config(master.FlowType)
	if err != nil {
		return nil, err
	}

	progress := s.stateMachine.FlowProgress(cfg.PhaseNames(), child.PhaseStates)

	return &FlowStatusView{
		FlowID:             master.FlowID,
		FlowType:           master.FlowType,
		LifecycleStatus:    master.LifecycleStatus,
		CurrentPhase:       child.CurrentPhase,
		PhaseStates:        child.PhaseStates,
		OperationalFlags:   child.OperationalFlags,
		ProgressPercentage: math.Round(progress*1000) / 10, // one decimal place
		CreatedAt:          master.CreatedAt,
		UpdatedAt:          master.UpdatedAt,
	}, nil
}

// FlowListPage is one page of a tenant's flows
type FlowListPage struct {
	Flows  []*models.MasterFlowRecord `json:"flows"`
	Total  int                        `json:"total"`
	Limit  int                        `json:"limit"`
	Offset int                        `json:"offset"`
}

// ListFlows returns the tenant's flows, filtered and paged
func (s *OrchestrationService) ListFlows(ctx context.Context, scope models.TenantScope, filter ports.ListFilter) (*FlowListPage, error) {
	flows, total, err := s.store.List(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	return &FlowListPage{
		Flows:  flows,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// GetHistory returns the append-only transition trail for diagnostics
func (s *OrchestrationService) GetHistory(ctx context.Context, scope models.TenantScope, flowID string) ([]models.TransitionRecord, error) {
	return s.store.History(ctx, scope, flowID)
}
