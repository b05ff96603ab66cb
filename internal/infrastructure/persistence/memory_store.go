package persistence

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/internal/domain/ports"
	"github.com/migratehub/backend/pkg/errors"
)

// MemoryFlowRecordStore is an in-memory FlowRecordStore with the exact
// semantics of the SQL store: atomic master+child creation, optimistic
// versioning on commit, snapshot reads, tenant scoping. Used by service
// tests and local development without a database.
type MemoryFlowRecordStore struct {
	mu       sync.RWMutex
	masters  map[string]*models.MasterFlowRecord
	children map[string]*models.ChildFlowRecord
	history  map[string][]models.TransitionRecord

	// FailChildInsert simulates a mid-creation fault after the master
	// write would have happened. CreateFlow must still leave no orphan.
	FailChildInsert bool
}

var _ ports.FlowRecordStore = (*MemoryFlowRecordStore)(nil)

// NewMemoryFlowRecordStore creates an empty in-memory store
func NewMemoryFlowRecordStore() *MemoryFlowRecordStore {
	return &MemoryFlowRecordStore{
		masters:  make(map[string]*models.MasterFlowRecord),
		children: make(map[string]*models.ChildFlowRecord),
		history:  make(map[string][]models.TransitionRecord),
	}
}

// CreateFlow atomically creates both records under one lock; the fault
// injection path rolls the master back before releasing it.
func (s *MemoryFlowRecordStore) CreateFlow(ctx context.Context, scope models.TenantScope, master *models.MasterFlowRecord, child *models.ChildFlowRecord) error {
	if !scope.Matches(master.Scope()) {
		return &errors.TenantScopeViolation{FlowID: master.FlowID, TenantID: scope.TenantID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.masters[master.FlowID]; exists {
		return errors.NewValidationError("flow_id", "flow already exists")
	}

	s.masters[master.FlowID] = master.Clone()
	if s.FailChildInsert {
		delete(s.masters, master.FlowID)
		return errors.NewInternalError("simulated child insert failure", nil)
	}
	s.children[child.FlowID] = child.Clone()
	return nil
}

// LoadForMutation reads both records and the version token
func (s *MemoryFlowRecordStore) LoadForMutation(ctx context.Context, scope models.TenantScope, flowID string) (*models.MasterFlowRecord, *models.ChildFlowRecord, ports.LockToken, error) {
	master, child, err := s.Read(ctx, scope, flowID)
	if err != nil {
		return nil, nil, ports.LockToken{}, err
	}
	return master, child, ports.LockToken{
		FlowID:        flowID,
		MasterVersion: master.Version,
		ChildVersion:  child.Version,
	}, nil
}

// Commit applies the optimistic dual write under one lock
func (s *MemoryFlowRecordStore) Commit(ctx context.Context, scope models.TenantScope, token ports.LockToken, master *models.MasterFlowRecord, child *models.ChildFlowRecord, transitions []models.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.masters[token.FlowID]
	if !ok {
		return errors.NewNotFoundError("Flow", token.FlowID)
	}
	if !scope.Matches(current.Scope()) {
		log.Printf("🔒 SECURITY tenant %s/%s attempted commit on flow %s outside its scope",
			scope.TenantID, scope.SubTenantID, token.FlowID)
		return &errors.TenantScopeViolation{FlowID: token.FlowID, TenantID: scope.TenantID}
	}
	currentChild, ok := s.children[token.FlowID]
	if !ok {
		return &errors.OrphanRecordError{FlowID: token.FlowID, Missing: "child"}
	}
	if current.Version != token.MasterVersion || currentChild.Version != token.ChildVersion {
		return &errors.ConcurrentModificationError{FlowID: token.FlowID, ExpectedVersion: token.MasterVersion}
	}

	newMaster := master.Clone()
	newMaster.Version = token.MasterVersion + 1
	newChild := child.Clone()
	newChild.Version = token.ChildVersion + 1

	s.masters[token.FlowID] = newMaster
	s.children[token.FlowID] = newChild
	s.history[token.FlowID] = append(s.history[token.FlowID], transitions...)
	return nil
}

// Read returns cloned snapshots so callers can never mutate stored state
func (s *MemoryFlowRecordStore) Read(ctx context.Context, scope models.TenantScope, flowID string) (*models.MasterFlowRecord, *models.ChildFlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	master, ok := s.masters[flowID]
	if !ok {
		if _, orphan := s.children[flowID]; orphan {
			return nil, nil, &errors.OrphanRecordError{FlowID: flowID, Missing: "master"}
		}
		return nil, nil, errors.NewNotFoundError("Flow", flowID)
	}
	if !scope.Matches(master.Scope()) {
		return nil, nil, &errors.TenantScopeViolation{FlowID: flowID, TenantID: scope.TenantID}
	}
	child, ok := s.children[flowID]
	if !ok {
		return nil, nil, &errors.OrphanRecordError{FlowID: flowID, Missing: "child"}
	}
	return master.Clone(), child.Clone(), nil
}

// List filters and pages the tenant's flows, newest first
func (s *MemoryFlowRecordStore) List(ctx context.Context, scope models.TenantScope, filter ports.ListFilter) ([]*models.MasterFlowRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.MasterFlowRecord
	for _, m := range s.masters {
		if !scope.Matches(m.Scope()) {
			continue
		}
		if filter.Status != "" && m.LifecycleStatus != filter.Status {
			continue
		}
		if filter.FlowType != "" && m.FlowType != filter.FlowType {
			continue
		}
		matched = append(matched, m.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = total
	}
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// ListStale returns non-terminal masters last updated before the cutoff
func (s *MemoryFlowRecordStore) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.MasterFlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*models.MasterFlowRecord
	for _, m := range s.masters {
		if m.LifecycleStatus == models.FlowCompleted || m.LifecycleStatus == models.FlowCancelled {
			continue
		}
		if !m.UpdatedAt.Before(updatedBefore) {
			continue
		}
		stale = append(stale, m.Clone())
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// History returns the recorded transition trail for a flow
func (s *MemoryFlowRecordStore) History(ctx context.Context, scope models.TenantScope, flowID string) ([]models.TransitionRecord, error) {
	if _, _, err := s.Read(ctx, scope, flowID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TransitionRecord, len(s.history[flowID]))
	copy(out, s.history[flowID])
	return out, nil
}
