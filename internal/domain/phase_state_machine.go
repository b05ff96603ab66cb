package domain

import (
	"sort"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/pkg/errors"
)

// PhaseStateMachine enforces valid state transitions for individual flow
// phases. Invalid transitions return an error carrying the currently valid
// target set (fail-fast, never silently coerced).
//
// State diagram:
//
//	 [NOT_STARTED]
//	       │
//	       ▼
//	 [IN_PROGRESS] ◄────────────┐
//	   │ │ │ │ │                │
//	   │ │ │ │ └► [RETRY_NEEDED]┤
//	   │ │ │ └──► [FAILED] ─────┘ (retryable only)
//	   │ │ └────► [WAITING_VALIDATION] ─► COMPLETED | FAILED
//	   │ └──────► [WAITING_APPROVAL]   ─► COMPLETED | FAILED
//	   ▼
//	 [COMPLETED] ─► ROLLED_BACK | RETRY_NEEDED (re-opening)
//	 [ROLLED_BACK] ─► IN_PROGRESS (re-execution)
type PhaseStateMachine struct {
	// transitions maps (current state, target state) -> allowed
	transitions map[phaseTransitionKey]bool
}

type phaseTransitionKey struct {
	from models.PhaseState
	to   models.PhaseState
}

// NewPhaseStateMachine creates a state machine with the phase lifecycle rules
func NewPhaseStateMachine() *PhaseStateMachine {
	sm := &PhaseStateMachine{
		transitions: make(map[phaseTransitionKey]bool),
	}

	sm.allow(models.PhaseNotStarted, models.PhaseInProgress)
	sm.allow(models.PhaseInProgress, models.PhaseWaitingValidation)
	sm.allow(models.PhaseInProgress, models.PhaseWaitingApproval)
	sm.allow(models.PhaseInProgress, models.PhaseCompleted)
	sm.allow(models.PhaseInProgress, models.PhaseFailed)
	sm.allow(models.PhaseInProgress, models.PhaseRetryNeeded)
	sm.allow(models.PhaseWaitingValidation, models.PhaseCompleted)
	sm.allow(models.PhaseWaitingValidation, models.PhaseFailed)
	sm.allow(models.PhaseWaitingApproval, models.PhaseCompleted)
	sm.allow(models.PhaseWaitingApproval, models.PhaseFailed)
	// Re-opening a completed phase, e.g. upstream data changed
	sm.allow(models.PhaseCompleted, models.PhaseRolledBack)
	sm.allow(models.PhaseCompleted, models.PhaseRetryNeeded)
	// FAILED -> RETRY_NEEDED only when the error was classified retryable;
	// that classification is the caller's job, the table just permits it.
	sm.allow(models.PhaseFailed, models.PhaseRetryNeeded)
	sm.allow(models.PhaseRetryNeeded, models.PhaseInProgress)
	sm.allow(models.PhaseRolledBack, models.PhaseInProgress)

	return sm
}

func (sm *PhaseStateMachine) allow(from, to models.PhaseState) {
	sm.transitions[phaseTransitionKey{from: from, to: to}] = true
}

// ValidateTransition checks that a phase may move from current to target.
// Returns an InvalidTransitionError listing the valid targets otherwise.
func (sm *PhaseStateMachine) ValidateTransition(phase string, current, target models.PhaseState) error {
	if sm.transitions[phaseTransitionKey{from: current, to: target}] {
		return nil
	}
	return &errors.InvalidTransitionError{
		Phase:        phase,
		FromState:    string(current),
		ToState:      string(target),
		ValidTargets: sm.ValidTargets(current),
	}
}

// CanTransition checks if a transition is valid without building an error
func (sm *PhaseStateMachine) CanTransition(current, target models.PhaseState) bool {
	return sm.transitions[phaseTransitionKey{from: current, to: target}]
}

// ValidTargets returns all states reachable from the given state, sorted
// for stable error messages.
func (sm *PhaseStateMachine) ValidTargets(current models.PhaseState) []string {
	var result []string
	for key := range sm.transitions {
		if key.from == current {
			result = append(result, string(key.to))
		}
	}
	sort.Strings(result)
	return result
}

// IsTerminal returns true if the phase state accepts no forward progress
// until explicitly reopened by rollback or retry.
func (sm *PhaseStateMachine) IsTerminal(state models.PhaseState) bool {
	return state == models.PhaseCompleted || state == models.PhaseRolledBack
}

// progressWeights assigns each phase state its contribution to overall
// flow progress. Failure and rollback reset the phase's contribution.
var progressWeights = map[models.PhaseState]float64{
	models.PhaseNotStarted:        0.0,
	models.PhaseInProgress:        0.3,
	models.PhaseWaitingValidation: 0.7,
	models.PhaseWaitingApproval:   0.8,
	models.PhaseCompleted:         1.0,
	models.PhaseFailed:            0.0,
	models.PhaseRetryNeeded:       0.1,
	models.PhaseRolledBack:        0.0,
}

// ProgressWeight returns the progress contribution of a phase state in [0,1]
func (sm *PhaseStateMachine) ProgressWeight(state models.PhaseState) float64 {
	return progressWeights[state]
}

// FlowProgress computes overall flow progress as the mean of per-phase
// weights across the ordered phase list. Phases without a status entry
// count as NOT_STARTED.
func (sm *PhaseStateMachine) FlowProgress(phases []string, states map[string]*models.PhaseStatus) float64 {
	if len(phases) == 0 {
		return 0
	}
	var sum float64
	for _, name := range phases {
		if st, ok := states[name]; ok {
			sum += progressWeights[st.State]
		}
	}
	return sum / float64(len(phases))
}
