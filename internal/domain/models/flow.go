package models

import (
	"time"
)

// PhaseState represents the state of one phase within a flow
type PhaseState string

const (
	PhaseNotStarted        PhaseState = "NOT_STARTED"
	PhaseInProgress        PhaseState = "IN_PROGRESS"
	PhaseWaitingValidation PhaseState = "WAITING_VALIDATION"
	PhaseWaitingApproval   PhaseState = "WAITING_APPROVAL"
	PhaseCompleted         PhaseState = "COMPLETED"
	PhaseFailed            PhaseState = "FAILED"
	PhaseRetryNeeded       PhaseState = "RETRY_NEEDED"
	PhaseRolledBack        PhaseState = "ROLLED_BACK"
)

// FlowLifecycleStatus represents the whole-flow lifecycle status derived
// from the set of phase states plus operational flags.
type FlowLifecycleStatus string

const (
	FlowInitialized     FlowLifecycleStatus = "INITIALIZED"
	FlowActive          FlowLifecycleStatus = "ACTIVE"
	FlowWaitingApproval FlowLifecycleStatus = "WAITING_APPROVAL"
	FlowRetryPending    FlowLifecycleStatus = "RETRY_PENDING"
	FlowErrorRecovery   FlowLifecycleStatus = "ERROR_RECOVERY"
	FlowCompleted       FlowLifecycleStatus = "COMPLETED"
	FlowFailed          FlowLifecycleStatus = "FAILED"
	FlowPaused          FlowLifecycleStatus = "PAUSED"
	FlowCancelled       FlowLifecycleStatus = "CANCELLED"
)

// TenantScope is the two-level tenant identifier every record access is
// restricted to. Immutable after flow creation.
type TenantScope struct {
	TenantID    string `json:"tenant_id"`
	SubTenantID string `json:"sub_tenant_id"`
}

// Matches reports whether another scope refers to the same tenant
func (t TenantScope) Matches(other TenantScope) bool {
	return t.TenantID == other.TenantID && t.SubTenantID == other.SubTenantID
}

// MasterFlowRecord is the lifecycle anchor, one per workflow instance.
// Created atomically with its ChildFlowRecord; a master without its child
// is an orphan and a defect state the store must never produce.
type MasterFlowRecord struct {
	FlowID          string              `json:"flow_id"`
	FlowType        string              `json:"flow_type"`
	TenantID        string              `json:"tenant_id"`
	SubTenantID     string              `json:"sub_tenant_id"`
	LifecycleStatus FlowLifecycleStatus `json:"lifecycle_status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Version         int64               `json:"version"`
}

// Scope returns the record's tenant scope
func (m *MasterFlowRecord) Scope() TenantScope {
	return TenantScope{TenantID: m.TenantID, SubTenantID: m.SubTenantID}
}

// Clone returns a deep copy
func (m *MasterFlowRecord) Clone() *MasterFlowRecord {
	cp := *m
	return &cp
}

// PhaseStatus holds the state and metadata of one phase
type PhaseStatus struct {
	State       PhaseState `json:"state"`
	Attempts    int        `json:"attempts"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a deep copy
func (p *PhaseStatus) Clone() *PhaseStatus {
	cp := *p
	if p.StartedAt != nil {
		t := *p.StartedAt
		cp.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// TransitionRecord is one append-only audit entry per phase transition
type TransitionRecord struct {
	FlowID    string    `json:"flow_id"`
	Phase     string    `json:"phase"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChildFlowRecord is the operational record for a flow: phase states,
// results reported by external executors, and operational flags.
// Mutated exclusively through the orchestration service.
type ChildFlowRecord struct {
	FlowID           string                  `json:"flow_id"`
	CurrentPhase     string                  `json:"current_phase"`
	PhaseStates      map[string]*PhaseStatus `json:"phase_states"`
	PhaseResults     map[string]interface{}  `json:"phase_results,omitempty"`
	OperationalFlags map[string]interface{}  `json:"operational_flags,omitempty"`
	// Control records user-issued pause/cancel independently of phase
	// states so lifecycle commands never clobber phase data.
	Control       string `json:"control,omitempty"`
	ControlReason string `json:"control_reason,omitempty"`
	// RetryKeys maps phase -> last idempotency key so a retried network
	// call carrying the same key is not double-counted.
	RetryKeys map[string]string `json:"retry_keys,omitempty"`
	Version   int64             `json:"version"`
}

// Phase returns the status entry for a phase, or nil if absent
func (c *ChildFlowRecord) Phase(name string) *PhaseStatus {
	if c.PhaseStates == nil {
		return nil
	}
	return c.PhaseStates[name]
}

// FlagBool reads an operational flag as a boolean; missing flags are false
func (c *ChildFlowRecord) FlagBool(key string) bool {
	if c.OperationalFlags == nil {
		return false
	}
	v, ok := c.OperationalFlags[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SetFlag sets an operational flag, allocating the map on first use
func (c *ChildFlowRecord) SetFlag(key string, value interface{}) {
	if c.OperationalFlags == nil {
		c.OperationalFlags = make(map[string]interface{})
	}
	c.OperationalFlags[key] = value
}

// ClearFlag removes an operational flag
func (c *ChildFlowRecord) ClearFlag(key string) {
	delete(c.OperationalFlags, key)
}

// Clone returns a deep copy. Phase results and flag values are shared
// structurally; callers treat result payloads as opaque and immutable.
func (c *ChildFlowRecord) Clone() *ChildFlowRecord {
	cp := *c
	cp.PhaseStates = make(map[string]*PhaseStatus, len(c.PhaseStates))
	for k, v := range c.PhaseStates {
		cp.PhaseStates[k] = v.Clone()
	}
	if c.PhaseResults != nil {
		cp.PhaseResults = make(map[string]interface{}, len(c.PhaseResults))
		for k, v := range c.PhaseResults {
			cp.PhaseResults[k] = v
		}
	}
	if c.OperationalFlags != nil {
		cp.OperationalFlags = make(map[string]interface{}, len(c.OperationalFlags))
		for k, v := range c.OperationalFlags {
			cp.OperationalFlags[k] = v
		}
	}
	if c.RetryKeys != nil {
		cp.RetryKeys = make(map[string]string, len(c.RetryKeys))
		for k, v := range c.RetryKeys {
			cp.RetryKeys[k] = v
		}
	}
	return &cp
}
