package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/internal/infrastructure/persistence"
	"github.com/migratehub/backend/pkg/constants"
)

// seedFlow inserts a flow pair directly so tests control UpdatedAt
func seedFlow(t *testing.T, store *persistence.MemoryFlowRecordStore, flowID string, status models.FlowLifecycleStatus, updatedAt time.Time) {
	t.Helper()
	scope := testScope()
	master := &models.MasterFlowRecord{
		FlowID:          flowID,
		FlowType:        constants.FlowTypeAssessment,
		TenantID:        scope.TenantID,
		SubTenantID:     scope.SubTenantID,
		LifecycleStatus: status,
		CreatedAt:       updatedAt,
		UpdatedAt:       updatedAt,
		Version:         1,
	}
	child := &models.ChildFlowRecord{
		FlowID:       flowID,
		CurrentPhase: "readiness",
		PhaseStates: map[string]*models.PhaseStatus{
			"readiness": {State: models.PhaseNotStarted, UpdatedAt: updatedAt},
		},
		Version: 1,
	}
	require.NoError(t, store.CreateFlow(context.Background(), scope, master, child))
}

func TestSweepCancelsOnlyStaleFlows(t *testing.T) {
	registry, err := NewFlowTypeRegistry(DefaultFlowTypeConfigs())
	require.NoError(t, err)
	store := persistence.NewMemoryFlowRecordStore()
	svc := NewOrchestrationService(store, registry, NewEventBus())
	scheduler := NewSchedulerService(store, svc, 72*time.Hour)

	now := time.Now().UTC()
	seedFlow(t, store, "flow-stale", models.FlowActive, now.Add(-100*time.Hour))
	seedFlow(t, store, "flow-fresh", models.FlowActive, now.Add(-1*time.Hour))
	seedFlow(t, store, "flow-done", models.FlowCompleted, now.Add(-200*time.Hour))

	cancelled := scheduler.SweepStaleFlows(context.Background())
	assert.Equal(t, 1, cancelled)

	scope := testScope()
	stale, _, err := store.Read(context.Background(), scope, "flow-stale")
	require.NoError(t, err)
	assert.Equal(t, models.FlowCancelled, stale.LifecycleStatus)

	fresh, _, err := store.Read(context.Background(), scope, "flow-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.FlowActive, fresh.LifecycleStatus)

	// Terminal flows are never touched
	done, _, err := store.Read(context.Background(), scope, "flow-done")
	require.NoError(t, err)
	assert.Equal(t, models.FlowCompleted, done.LifecycleStatus)
}

func TestSweepRecordsAuditEntry(t *testing.T) {
	registry, err := NewFlowTypeRegistry(DefaultFlowTypeConfigs())
	require.NoError(t, err)
	store := persistence.NewMemoryFlowRecordStore()
	svc := NewOrchestrationService(store, registry, NewEventBus())
	scheduler := NewSchedulerService(store, svc, 72*time.Hour)

	seedFlow(t, store, "flow-idle", models.FlowActive, time.Now().UTC().Add(-80*time.Hour))
	require.Equal(t, 1, scheduler.SweepStaleFlows(context.Background()))

	history, err := store.History(context.Background(), testScope(), "flow-idle")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, constants.ActorScheduler, history[0].Actor)
	assert.Equal(t, string(models.FlowCancelled), history[0].ToState)
}
