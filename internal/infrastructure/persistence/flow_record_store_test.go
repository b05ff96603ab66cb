package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/internal/domain/ports"
	"github.com/migratehub/backend/pkg/errors"
)

func newMockStore(t *testing.T) (*SQLFlowRecordStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	return NewSQLFlowRecordStore(db), mock, func() { _ = db.Close() }
}

func fixtureRecords() (*models.MasterFlowRecord, *models.ChildFlowRecord) {
	now := time.Now().UTC()
	master := &models.MasterFlowRecord{
		FlowID:          "flow-1",
		FlowType:        "assessment",
		TenantID:        "tenant-a",
		SubTenantID:     "env-prod",
		LifecycleStatus: models.FlowActive,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         3,
	}
	child := &models.ChildFlowRecord{
		FlowID:       "flow-1",
		CurrentPhase: "readiness",
		PhaseStates: map[string]*models.PhaseStatus{
			"readiness": {State: models.PhaseInProgress, Attempts: 1, UpdatedAt: now},
		},
		Version: 3,
	}
	return master, child
}

func fixtureScope() models.TenantScope {
	return models.TenantScope{TenantID: "tenant-a", SubTenantID: "env-prod"}
}

func TestCreateFlowRollsBackWhenChildInsertFails(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	master, child := fixtureRecords()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO _System_MasterFlow").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO _System_ChildFlow").
		WillReturnError(fmt.Errorf("duplicate entry"))
	mock.ExpectRollback()

	err := store.CreateFlow(context.Background(), fixtureScope(), master, child)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "master insert must be rolled back, never committed alone")
}

func TestCommitRejectsStaleVersion(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	master, child := fixtureRecords()
	token := ports.LockToken{FlowID: "flow-1", MasterVersion: 2, ChildVersion: 2}

	mock.ExpectBegin()
	// Another writer already bumped the version: zero rows match
	mock.ExpectExec("UPDATE _System_MasterFlow SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// Classifier finds the row in scope, so this is a version race
	mock.ExpectQuery("SELECT tenant_id, sub_tenant_id FROM _System_MasterFlow").
		WithArgs("flow-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "sub_tenant_id"}).AddRow("tenant-a", "env-prod"))
	mock.ExpectRollback()

	err := store.Commit(context.Background(), fixtureScope(), token, master, child, nil)
	assert.True(t, errors.IsConcurrentModification(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitClassifiesCrossTenantAsScopeViolation(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	master, child := fixtureRecords()
	token := ports.LockToken{FlowID: "flow-1", MasterVersion: 3, ChildVersion: 3}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE _System_MasterFlow SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT tenant_id, sub_tenant_id FROM _System_MasterFlow").
		WithArgs("flow-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "sub_tenant_id"}).AddRow("tenant-z", "env-prod"))
	mock.ExpectRollback()

	err := store.Commit(context.Background(), fixtureScope(), token, master, child, nil)
	assert.True(t, errors.IsTenantScopeViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitWritesAuditAndOutboxInSameTransaction(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	master, child := fixtureRecords()
	token := ports.LockToken{FlowID: "flow-1", MasterVersion: 3, ChildVersion: 3}
	transitions := []models.TransitionRecord{{
		FlowID: "flow-1", Phase: "readiness",
		FromState: "NOT_STARTED", ToState: "IN_PROGRESS",
		Actor: "executor-1", Timestamp: time.Now().UTC(),
	}}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE _System_MasterFlow SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE _System_ChildFlow SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO _System_FlowTransitionHistory").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO _System_OutboxEvent").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Commit(context.Background(), fixtureScope(), token, master, child, transitions)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadDetectsOrphanMaster(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT flow_id, flow_type, tenant_id, sub_tenant_id, lifecycle_status").
		WithArgs("flow-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"flow_id", "flow_type", "tenant_id", "sub_tenant_id", "lifecycle_status", "created_at", "updated_at", "version",
		}).AddRow("flow-1", "assessment", "tenant-a", "env-prod", "ACTIVE", now, now, 3))
	// Child row is gone: corrupt pair, surfaced rather than repaired
	mock.ExpectQuery("SELECT flow_id, current_phase, phase_states").
		WithArgs("flow-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"flow_id", "current_phase", "phase_states", "phase_results", "operational_flags", "control", "control_reason", "retry_keys", "version",
		}))
	mock.ExpectRollback()

	_, _, err := store.Read(context.Background(), fixtureScope(), "flow-1")
	assert.True(t, errors.IsOrphanRecord(err))

	var orphan *errors.OrphanRecordError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, "child", orphan.Missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}
