package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/migratehub/backend/internal/domain"
	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/internal/domain/ports"
	"github.com/migratehub/backend/pkg/constants"
	"github.com/migratehub/backend/pkg/errors"
	"github.com/migratehub/backend/pkg/utils"
)

// OrchestrationService is the sole writer of flow records. Every operation
// wraps the same cycle: load both records, validate the phase transition,
// recompute the lifecycle status, commit atomically, audit. Concurrency
// conflicts are surfaced to the caller, never retried internally.
type OrchestrationService struct {
	store        ports.FlowRecordStore
	registry     *FlowTypeRegistry
	stateMachine *domain.PhaseStateMachine
	aggregator   *domain.FlowStatusAggregator
	events       ports.EventPublisher
}

// NewOrchestrationService creates a new OrchestrationService
func NewOrchestrationService(store ports.FlowRecordStore, registry *FlowTypeRegistry, events ports.EventPublisher) *OrchestrationService {
	return &OrchestrationService{
		store:        store,
		registry:     registry,
		stateMachine: domain.NewPhaseStateMachine(),
		aggregator:   domain.NewFlowStatusAggregator(),
		events:       events,
	}
}

// Initialize creates the master and child records atomically, pointing
// current_phase at the first configured phase. Returns the new flow ID.
func (s *OrchestrationService) Initialize(ctx context.Context, scope models.TenantScope, flowType string) (string, error) {
	cfg, err := s.registry.Config(flowType)
	if err != nil {
		return "", err
	}
	if scope.TenantID == "" {
		return "", errors.NewValidationError("tenant_id", "tenant scope is required")
	}

	now := time.Now().UTC()
	flowID := utils.GenerateFlowID()
	firstPhase := cfg.Phases[0].Name

	master := &models.MasterFlowRecord{
		FlowID:          flowID,
		FlowType:        flowType,
		TenantID:        scope.TenantID,
		SubTenantID:     scope.SubTenantID,
		LifecycleStatus: models.FlowInitialized,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	child := &models.ChildFlowRecord{
		FlowID:       flowID,
		CurrentPhase: firstPhase,
		PhaseStates: map[string]*models.PhaseStatus{
			firstPhase: {State: models.PhaseNotStarted, UpdatedAt: now},
		},
		Version: 1,
	}

	if err := s.store.CreateFlow(ctx, scope, master, child); err != nil {
		return "", fmt.Errorf("failed to create flow: %w", err)
	}

	log.Printf("✅ Flow created: %s type=%s tenant=%s/%s", flowID, flowType, scope.TenantID, scope.SubTenantID)
	return flowID, nil
}

// BeginPhase moves a phase into IN_PROGRESS. Legal from NOT_STARTED,
// RETRY_NEEDED, and ROLLED_BACK; the phase's entry condition (if any) is
// checked against prior phase results first.
func (s *OrchestrationService) BeginPhase(ctx context.Context, scope models.TenantScope, flowID, phase, actor string) (*models.MasterFlowRecord, *models.ChildFlowRecord, error) {
	return s.mutate(ctx, scope, flowID, func(cfg models.FlowTypeConfig, master *models.MasterFlowRecord, child *models.ChildFlowRecord) ([]models.TransitionRecord, error) {
		if !cfg.HasPhase(phase) {
			return nil, errors.NewValidationError("phase", fmt.Sprintf("phase '%s' is not part of flow type '%s'", phase, cfg.FlowType))
		}

		st := s.ensurePhase(child, phase)
		if err := s.stateMachine.ValidateTransition(phase, st.State, models.PhaseInProgress); err != nil {
			return nil, err
		}
		if err := s.registry.CheckEntryCondition(cfg, phase, child); err != nil {
			return nil, err
		}

		from := st.State
		now := time.Now().UTC()
		st.State = models.PhaseInProgress
		st.Attempts++
		st.UpdatedAt = now
		if st.StartedAt == nil {
			st.StartedAt = &now
		}

		return []models.TransitionRecord{transition(flowID, phase, from, models.PhaseInProgress, actor, "")}, nil
	})
}

// CompletePhase applies the terminal transition reported by the external
// executor. A FAILED outcome classified retryable lands in RETRY_NEEDED
// instead; COMPLETED stores the result and advances current_phase when a
// next phase exists.
func (s *OrchestrationService) CompletePhase(ctx context.Context, scope models.TenantScope, req CompletePhaseRequest) (*models.MasterFlowRecord, *models.ChildFlowRecord, error) {
	target, err := outcomeToState(req.Outcome, req.Retryable)
	if err != nil {
		return nil, nil, err
	}

	return s.mutate(ctx, scope, req.FlowID, func(cfg models.FlowTypeConfig, master *models.MasterFlowRecord, child *models.ChildFlowRecord) ([]models.TransitionRecord, error) {
		st := child.Phase(req.Phase)
		if st == nil {
			return nil, errors.NewValidationError("phase", fmt.Sprintf("phase '%s' has not been tracked for this flow", req.Phase))
		}
		if err := s.stateMachine.ValidateTransition(req.Phase, st.State, target); err != nil {
			return nil, err
		}

		from := st.State
		now := time.Now().UTC()
		st.State = target
		st.UpdatedAt = now
		st.LastError = ""

		switch target {
		case models.PhaseCompleted:
			st.CompletedAt = &now
			if req.Result != nil {
				if child.PhaseResults == nil {
					child.PhaseResults = make(map[string]interface{})
				}
				child.PhaseResults[req.Phase] = req.Result
			}
			// Advance the operational cursor when the current phase
			// completes and a successor exists.
			if child.CurrentPhase == req.Phase {
				if next := cfg.NextPhase(req.Phase); next != "" {
					child.CurrentPhase = next
					s.ensurePhase(child, next)
				}
			}
		case models.PhaseFailed, models.PhaseRetryNeeded:
			st.LastError = req.ErrorMessage
		}

		reason := req.ErrorMessage
		return []models.TransitionRecord{transition(req.FlowID, req.Phase, from, target, req.Actor, reason)}, nil
	})
}

// CompletePhaseRequest carries an executor's declared outcome for a phase
type CompletePhaseRequest struct {
	FlowID       string
	Phase        string
	Outcome      string // constants.Outcome*
	Retryable    bool   // classification of a FAILED outcome
	Result       interface{}
	ErrorMessage string
	Actor        string
}

// outcomeToState maps a declared executor outcome to the target phase state
func outcomeToState(outcome string, retryable bool) (models.PhaseState, error) {
	switch outcome {
	case constants.OutcomeCompleted:
		return models.PhaseCompleted, nil
	case constants.OutcomeWaitingValidation:
		return models.PhaseWaitingValidation, nil
	case constants.OutcomeWaitingApproval:
		return models.PhaseWaitingApproval, nil
	case constants.OutcomeFailed:
		if retryable {
			return models.PhaseRetryNeeded, nil
		}
		return models.PhaseFailed, nil
	default:
		return "", errors.NewValidationError("outcome", fmt.Sprintf("unknown outcome '%s'", outcome))
	}
}

// mutate runs one load -> apply -> aggregate -> commit cycle. The applied
// function returns the transition records to audit. The commit is a single
// attempt: a ConcurrentModificationError propagates to the caller, which
// owns the bounded retry loop.
func (s *OrchestrationService) mutate(ctx context.Context, scope models.TenantScope, flowID string, fn func(cfg models.FlowTypeConfig, master *models.MasterFlowRecord, child *models.ChildFlowRecord) ([]models.TransitionRecord, error)) (*models.MasterFlowRecord, *models.ChildFlowRecord, error) {
	master, child, token, err := s.store.LoadForMutation(ctx, scope, flowID)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := s.registry.Config(master.FlowType)
	if err != nil {
		return nil, nil, err
	}

	// Cancellation is terminal: no mutation may follow it.
	if child.Control == constants.ControlCancelled {
		return nil, nil, errors.NewValidationError("flow", "flow has been cancelled and accepts no further operations")
	}

	transitions, err := fn(cfg, master, child)
	if err != nil {
		return nil, nil, err
	}

	master.LifecycleStatus = s.aggregate(cfg, child)
	master.UpdatedAt = time.Now().UTC()

	if err := s.store.Commit(ctx, scope, token, master, child, transitions); err != nil {
		return nil, nil, err
	}

	// Versions the store just assigned
	master.Version = token.MasterVersion + 1
	child.Version = token.ChildVersion + 1

	s.publish(ctx, scope, master, transitions)
	return master, child, nil
}

// aggregate recomputes the lifecycle status from the child record
func (s *OrchestrationService) aggregate(cfg models.FlowTypeConfig, child *models.ChildFlowRecord) models.FlowLifecycleStatus {
	return s.aggregator.Aggregate(domain.AggregationInput{
		PhaseStates:   child.PhaseStates,
		Flags:         child.OperationalFlags,
		Control:       child.Control,
		TerminalPhase: cfg.ResolvedTerminalPhase(),
		Started:       flowStarted(child),
	})
}

// flowStarted reports whether any phase has left NOT_STARTED
func flowStarted(child *models.ChildFlowRecord) bool {
	for _, st := range child.PhaseStates {
		if st.State != models.PhaseNotStarted {
			return true
		}
	}
	return false
}

// ensurePhase returns the phase's status entry, seeding NOT_STARTED on
// first touch. Only called for phases already validated against the config.
func (s *OrchestrationService) ensurePhase(child *models.ChildFlowRecord, phase string) *models.PhaseStatus {
	if child.PhaseStates == nil {
		child.PhaseStates = make(map[string]*models.PhaseStatus)
	}
	st, ok := child.PhaseStates[phase]
	if !ok {
		st = &models.PhaseStatus{State: models.PhaseNotStarted, UpdatedAt: time.Now().UTC()}
		child.PhaseStates[phase] = st
	}
	return st
}

// publish emits transition events on the in-process bus, post-commit.
// The transactional outbox carries the same events for external relays.
func (s *OrchestrationService) publish(ctx context.Context, scope models.TenantScope, master *models.MasterFlowRecord, transitions []models.TransitionRecord) {
	if s.events == nil || len(transitions) == 0 {
		return
	}
	s.events.Publish(ctx, ports.EventFlowTransition, FlowTransitionEvent{
		FlowID:          master.FlowID,
		FlowType:        master.FlowType,
		TenantID:        scope.TenantID,
		SubTenantID:     scope.SubTenantID,
		LifecycleStatus: master.LifecycleStatus,
		Transitions:     transitions,
	})
}

// FlowTransitionEvent is the in-process event payload per committed mutation
type FlowTransitionEvent struct {
	FlowID          string                     `json:"flow_id"`
	FlowType        string                     `json:"flow_type"`
	TenantID        string                     `json:"tenant_id"`
	SubTenantID     string                     `json:"sub_tenant_id"`
	LifecycleStatus models.FlowLifecycleStatus `json:"lifecycle_status"`
	Transitions     []models.TransitionRecord  `json:"transitions"`
}

func transition(flowID, phase string, from, to models.PhaseState, actor, reason string) models.TransitionRecord {
	if actor == "" {
		actor = constants.ActorSystem
	}
	return models.TransitionRecord{
		FlowID:    flowID,
		Phase:     phase,
		FromState: string(from),
		ToState:   string(to),
		Actor:     actor,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}
