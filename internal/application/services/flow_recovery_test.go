package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/pkg/constants"
	"github.com/migratehub/backend/pkg/errors"
)

// failPhase drives a phase through begin -> retryable failure
func failPhase(t *testing.T, svc *OrchestrationService, flowID, phase string) {
	t.Helper()
	_, _, err := svc.BeginPhase(context.Background(), testScope(), flowID, phase, "executor-1")
	require.NoError(t, err)
	_, _, err = svc.CompletePhase(context.Background(), testScope(), CompletePhaseRequest{
		FlowID: flowID, Phase: phase, Outcome: constants.OutcomeFailed, Retryable: true,
		ErrorMessage: "connection reset", Actor: "executor-1",
	})
	require.NoError(t, err)
}

func completePhase(t *testing.T, svc *OrchestrationService, flowID, phase string) {
	t.Helper()
	_, _, err := svc.BeginPhase(context.Background(), testScope(), flowID, phase, "executor-1")
	require.NoError(t, err)
	_, _, err = svc.CompletePhase(context.Background(), testScope(), CompletePhaseRequest{
		FlowID: flowID, Phase: phase, Outcome: constants.OutcomeCompleted, Actor: "executor-1",
	})
	require.NoError(t, err)
}

func TestRetryBudgetIsEnforced(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	scope := testScope()

	flowID := mustInitialize(t, svc, constants.FlowTypeAssessment)
	failPhase(t, svc, flowID, "readiness")

	status, err := svc.GetStatus(ctx, scope, flowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowRetryPending, status.LifecycleStatus)
	assert.Equal(t, "connection reset", status.PhaseStates["readiness"].LastError)

	// Burn through the default budget of 3
	for i := 1; i <= constants.DefaultMaxPhaseRetries; i++ {
		child, err := svc.RetryFailedPhase(ctx, scope, flowID, "readiness", "user-1", "")
		require.NoError(t, err)
		assert.Equal(t, i, child.Phase("readiness").RetryCount)

		failPhase(t, svc, flowID, "readiness")
	}

	_, err = svc.RetryFailedPhase(ctx, scope, flowID, "readiness", "user-1", "")
	assert.True(t, errors.IsRetryLimitExceeded(err))

	var rle *errors.RetryLimitExceeded
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "readiness", rle.Phase)
	assert.Equal(t, constants.DefaultMaxPhaseRetries, rle.RetryCount)
}

func TestRetryIdempotencyKeyPreventsDoubleCount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	scope := testScope()

	flowID := mustInitialize(t, svc, constants.FlowTypeAssessment)
	failPhase(t, svc, flowID, "readiness")

	child, err := svc.RetryFailedPhase(ctx, scope, flowID, "readiness", "user-1", "req-42")
	require.NoError(t, err)
	assert.Equal(t, 1, child.Phase("readiness").RetryCount)

	// The same request replayed over the network counts once
	child, err = svc.RetryFailedPhase(ctx, scope, flowID, "readiness", "user-1", "req-42")
	require.NoError(t, err)
	assert.Equal(t, 1, child.Phase("readiness").RetryCount)

	child, err = svc.RetryFailedPhase(ctx, scope, flowID, "readiness", "user-1", "req-43")
	require.NoError(t, err)
	assert.Equal(t, 2, child.Phase("readiness").RetryCount)
}

func TestRetryFromRetryNeededWritesHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	scope := testScope()

	flowID := mustInitialize(t, svc, constants.FlowTypeAssessment)
	failPhase(t, svc, flowID, "readiness")

	before, err := svc.GetHistory(ctx, scope, flowID)
	require.NoError(t, err)

	// A retry booked from RETRY_NEEDED changes no phase state, but
	// consuming budget must still leave a trail entry
	_, err = svc.RetryFailedPhase(ctx, scope, flowID, "readiness", "user-1", "")
	require.NoError(t, err)

	after, err := svc.GetHistory(ctx, scope, flowID)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)

	last := after[len(after)-1]
	assert.Equal(t, "readiness", last.Phase)
	assert.Equal(t, string(models.PhaseRetryNeeded), last.FromState)
	assert.Equal(t, string(models.PhaseRetryNeeded), last.ToState)
	assert.Equal(t, "user-1", last.Actor)
	assert.Contains(t, last.Reason, "retry 1 of")
}

func TestRetryMovesNonRetryableFailureBackToRetryNeeded(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	scope := testScope()

	flowID := mustInitialize(t, svc, constants.FlowTypeAssessment)
	_, _, err := svc.BeginPhase(ctx, scope, flowID, "readiness", "executor-1")
	require.NoError(t, err)
	_, _, err = svc.CompletePhase(ctx, scope, CompletePhaseRequest{
		FlowID: flowID, Phase: "readiness", Outcome: constants.OutcomeFailed, Retryable: false,
		ErrorMessage: "schema mismatch", Actor: "executor-1",
	})
	require.NoError(t, err)

	status, err := svc.GetStatus(ctx, scope, flowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowFailed, status.LifecycleStatus)

	// Manual retry reopens a hard failure
	child, err := svc.RetryFailedPhase(ctx, scope, flowID, "readiness", "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseRetryNeeded, child.Phase("readiness").State)
	assert.Empty(t, child.Phase("readiness").LastError)
}

func TestRetryRejectedOutsideFailureStates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	scope := testScope()

	flowID := mustInitialize(t, svc, constants.FlowTypeAssessment)

	_, err := svc.RetryFailedPhase(ctx, scope, flowID, "readiness", "user-1", "")
	assert.True(t, errors.IsInvalidTransition(err))
}

func TestRollbackRequiresCompletedPhase(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	scope := testScope()

	flowID := mustInitialize(t, svc, constants.FlowTypeCollection)
	_, _, err := svc.BeginPhase(ctx, scope, flowID, "field_mapping", "executor-1")
	require.NoError(t, err)

	_, _, err = svc.RollbackPhase(ctx, scope, flowID, "field_mapping", "bad mapping", "user-1", false)
	assert.True(t, errors.IsInvalidTransition(err))
}

func TestRollbackWithCascadeResetsDownstream(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	scope := testScope()

	flowID := mustInitialize(t, svc, constants.FlowTypeCollection)
	completePhase(t, svc, flowID, "field_mapping")
	completePhase(t, svc, flowID, "extract")
	_, _, err := svc.BeginPhase(ctx, scope, flowID, "validate", "executor-1")
	require.NoError(t, err)

	_, child, err := svc.RollbackPhase(ctx, scope, flowID, "field_mapping", "wrong target schema", "user-1", true)
	require.NoError(t, err)

	assert.Equal(t, models.PhaseRolledBack, child.Phase("field_mapping").State)
	assert.Nil(t, child.Phase("field_mapping").CompletedAt)
	assert.Equal(t, models.PhaseNotStarted, child.Phase("extract").State)
	assert.Equal(t, models.PhaseNotStarted, child.Phase("validate").State)
	assert.Equal(t, "field_mapping", child.CurrentPhase)
	assert.NotContains(t, child.PhaseResults, "extract")

	// ROLLED_BACK re-opens for execution
	_, _, err = svc.BeginPhase(ctx, scope, flowID, "field_mapping", "executor-1")
	assert.NoError(t, err)

	// Cascade entries land in the audit trail alongside the rollback
	history, err := svc.GetHistory(ctx, scope, flowID)
	require.NoError(t, err)
	var cascaded int
	for _, rec := range history {
		if rec.ToState == string(models.PhaseNotStarted) && rec.FromState != "" {
			cascaded++
		}
	}
	assert.Equal(t, 2, cascaded, "extract and validate must each record a reset")
}

func TestRollbackWithoutCascadeLeavesDownstreamAlone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	scope := testScope()

	flowID := mustInitialize(t, svc, constants.FlowTypeCollection)
	completePhase(t, svc, flowID, "field_mapping")
	completePhase(t, svc, flowID, "extract")

	_, child, err := svc.RollbackPhase(ctx, scope, flowID, "field_mapping", "remap one field", "user-1", false)
	require.NoError(t, err)

	assert.Equal(t, models.PhaseRolledBack, child.Phase("field_mapping").State)
	assert.Equal(t, models.PhaseCompleted, child.Phase("extract").State)
}

func TestGetRecoveryOptionsReflectsState(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	scope := testScope()

	flowID := mustInitialize(t, svc, constants.FlowTypeCollection)
	completePhase(t, svc, flowID, "field_mapping")
	failPhase(t, svc, flowID, "extract")

	opts, err := svc.GetRecoveryOptions(ctx, scope, flowID)
	require.NoError(t, err)
	assert.Equal(t, []string{"extract"}, opts.Retry)
	assert.Equal(t, []string{"field_mapping"}, opts.Rollback)
	assert.True(t, opts.Pause)
	assert.False(t, opts.Resume)
	assert.True(t, opts.Cancel)

	_, err = svc.Pause(ctx, scope, flowID, "user-1")
	require.NoError(t, err)

	opts, err = svc.GetRecoveryOptions(ctx, scope, flowID)
	require.NoError(t, err)
	assert.True(t, opts.Resume)
	assert.False(t, opts.Pause)
}
