package ports

import (
	"context"
	"time"

	"github.com/migratehub/backend/internal/domain/models"
)

// LockToken captures the record versions observed at LoadForMutation.
// Commit checks both versions; a mismatch means another mutation won the
// race and the caller must reload and retry.
type LockToken struct {
	FlowID        string
	MasterVersion int64
	ChildVersion  int64
}

// ListFilter narrows a tenant-scoped flow listing
type ListFilter struct {
	Status   models.FlowLifecycleStatus
	FlowType string
	Limit    int
	Offset   int
}

// FlowRecordStore persists the master (lifecycle) and child (operational)
// flow records. Implementations must guarantee:
//
//   - CreateFlow writes both records in one atomic unit: no code path can
//     produce a master without its child or commit a child without its master.
//   - Commit is an atomic dual write serialized per flow via optimistic
//     versioning; version mismatch yields ConcurrentModificationError.
//   - Reads are snapshot-consistent and never return half of a record pair;
//     a missing half is surfaced as OrphanRecordError, never repaired by
//     guessing missing data.
//   - Every operation is tenant scoped: access from a non-matching scope
//     yields TenantScopeViolation.
type FlowRecordStore interface {
	// CreateFlow atomically creates the master and child records
	CreateFlow(ctx context.Context, scope models.TenantScope, master *models.MasterFlowRecord, child *models.ChildFlowRecord) error

	// LoadForMutation reads both records and returns the version token
	// the subsequent Commit must present.
	LoadForMutation(ctx context.Context, scope models.TenantScope, flowID string) (*models.MasterFlowRecord, *models.ChildFlowRecord, LockToken, error)

	// Commit atomically writes both records and appends the given
	// transition records to the audit trail in the same unit.
	Commit(ctx context.Context, scope models.TenantScope, token LockToken, master *models.MasterFlowRecord, child *models.ChildFlowRecord, transitions []models.TransitionRecord) error

	// Read is the lock-free snapshot path for status queries
	Read(ctx context.Context, scope models.TenantScope, flowID string) (*models.MasterFlowRecord, *models.ChildFlowRecord, error)

	// List returns tenant-scoped masters plus the total count for pagination
	List(ctx context.Context, scope models.TenantScope, filter ListFilter) ([]*models.MasterFlowRecord, int, error)

	// History returns the append-only transition trail for a flow
	History(ctx context.Context, scope models.TenantScope, flowID string) ([]models.TransitionRecord, error)

	// ListStale returns non-terminal masters across all tenants that have
	// not been updated since the cutoff. Used only by the maintenance
	// sweeper; tenant scoping is re-applied per flow when acting on them.
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.MasterFlowRecord, error)
}
