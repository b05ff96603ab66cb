package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/pkg/constants"
)

func phaseMap(states map[string]models.PhaseState) map[string]*models.PhaseStatus {
	out := make(map[string]*models.PhaseStatus, len(states))
	for k, v := range states {
		out[k] = &models.PhaseStatus{State: v}
	}
	return out
}

func TestAggregator_Precedence(t *testing.T) {
	agg := NewFlowStatusAggregator()

	tests := []struct {
		name     string
		in       AggregationInput
		expected models.FlowLifecycleStatus
	}{
		{
			name: "conflict flag dominates everything, even a failed phase",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"inventory": models.PhaseFailed,
				}),
				Flags:   map[string]interface{}{constants.FlagConflictResolutionPending: true},
				Control: constants.ControlCancelled,
				Started: true,
			},
			expected: models.FlowWaitingApproval,
		},
		{
			name: "conflict flag dominates while phase itself is still in progress",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"inventory": models.PhaseInProgress,
				}),
				Flags:   map[string]interface{}{constants.FlagConflictResolutionPending: true},
				Started: true,
			},
			expected: models.FlowWaitingApproval,
		},
		{
			name: "cancel overrides failure",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"collect": models.PhaseFailed,
				}),
				Control: constants.ControlCancelled,
				Started: true,
			},
			expected: models.FlowCancelled,
		},
		{
			name: "pause overrides retry-pending",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"collect": models.PhaseRetryNeeded,
				}),
				Control: constants.ControlPaused,
				Started: true,
			},
			expected: models.FlowPaused,
		},
		{
			name: "failed beats retry-pending and waiting-approval",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"a": models.PhaseFailed,
					"b": models.PhaseRetryNeeded,
					"c": models.PhaseWaitingApproval,
				}),
				Started: true,
			},
			expected: models.FlowFailed,
		},
		{
			name: "retry-pending beats waiting-approval",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"b": models.PhaseRetryNeeded,
					"c": models.PhaseWaitingApproval,
				}),
				Started: true,
			},
			expected: models.FlowRetryPending,
		},
		{
			name: "waiting approval from phase state",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"b": models.PhaseCompleted,
					"c": models.PhaseWaitingApproval,
				}),
				Started: true,
			},
			expected: models.FlowWaitingApproval,
		},
		{
			name: "waiting validation is routine, not an error state",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"b": models.PhaseWaitingValidation,
				}),
				Started: true,
			},
			expected: models.FlowActive,
		},
		{
			name: "all completed or rolled back with terminal phase completed",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"a": models.PhaseRolledBack,
					"b": models.PhaseCompleted,
					"c": models.PhaseCompleted,
				}),
				TerminalPhase: "c",
				Started:       true,
			},
			expected: models.FlowCompleted,
		},
		{
			name: "terminal phase rolled back is not completion",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"a": models.PhaseCompleted,
					"c": models.PhaseRolledBack,
				}),
				TerminalPhase: "c",
				Started:       true,
			},
			expected: models.FlowActive,
		},
		{
			name: "nothing started",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"a": models.PhaseNotStarted,
				}),
			},
			expected: models.FlowInitialized,
		},
		{
			name: "default active",
			in: AggregationInput{
				PhaseStates: phaseMap(map[string]models.PhaseState{
					"a": models.PhaseInProgress,
				}),
				Started: true,
			},
			expected: models.FlowActive,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, agg.Aggregate(tc.in))
		})
	}
}

func TestAggregator_ClearedConflictFlagDoesNotGate(t *testing.T) {
	agg := NewFlowStatusAggregator()

	in := AggregationInput{
		PhaseStates: phaseMap(map[string]models.PhaseState{
			"inventory": models.PhaseInProgress,
		}),
		Flags:   map[string]interface{}{constants.FlagConflictResolutionPending: false},
		Started: true,
	}
	assert.Equal(t, models.FlowActive, agg.Aggregate(in))
}

func TestAggregator_IsPure(t *testing.T) {
	agg := NewFlowStatusAggregator()

	states := phaseMap(map[string]models.PhaseState{"a": models.PhaseInProgress})
	in := AggregationInput{PhaseStates: states, Started: true}

	first := agg.Aggregate(in)
	second := agg.Aggregate(in)
	assert.Equal(t, first, second)
	assert.Equal(t, models.PhaseInProgress, states["a"].State, "aggregation must not mutate input")
}
