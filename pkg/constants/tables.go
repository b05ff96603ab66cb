package constants

// System table names for the orchestration store
const (
	TableMasterFlow        = "_System_MasterFlow"
	TableChildFlow         = "_System_ChildFlow"
	TableTransitionHistory = "_System_FlowTransitionHistory"
	TableOutboxEvent       = "_System_OutboxEvent"
)

// Common fields shared by both flow records
const (
	FieldFlowID      = "flow_id"
	FieldTenantID    = "tenant_id"
	FieldSubTenantID = "sub_tenant_id"
	FieldVersion     = "version"
	FieldCreatedAt   = "created_at"
	FieldUpdatedAt   = "updated_at"
)

// Master flow record fields
const (
	FieldMasterFlow_FlowType        = "flow_type"
	FieldMasterFlow_LifecycleStatus = "lifecycle_status"
)

// Child flow record fields
const (
	FieldChildFlow_CurrentPhase     = "current_phase"
	FieldChildFlow_PhaseStates      = "phase_states"
	FieldChildFlow_PhaseResults     = "phase_results"
	FieldChildFlow_OperationalFlags = "operational_flags"
	FieldChildFlow_Control          = "control"
	FieldChildFlow_ControlReason    = "control_reason"
	FieldChildFlow_RetryKeys        = "retry_keys"
)

// Transition history fields
const (
	FieldHistory_ID        = "id"
	FieldHistory_Phase     = "phase"
	FieldHistory_FromState = "from_state"
	FieldHistory_ToState   = "to_state"
	FieldHistory_Actor     = "actor"
	FieldHistory_Reason    = "reason"
	FieldHistory_Timestamp = "timestamp"
)
