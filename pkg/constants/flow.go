package constants

// Flow type constants. Each flow type carries its own ordered phase set,
// declared in the FlowTypeConfig passed to the orchestration service.
const (
	FlowTypeDiscovery    = "discovery"
	FlowTypeAssessment   = "assessment"
	FlowTypeCollection   = "collection"
	FlowTypePlanning     = "planning"
	FlowTypeDecommission = "decommission"
)

// Phase outcome constants reported by external executors via the
// complete-phase command.
const (
	OutcomeCompleted         = "COMPLETED"
	OutcomeFailed            = "FAILED"
	OutcomeWaitingValidation = "WAITING_VALIDATION"
	OutcomeWaitingApproval   = "WAITING_APPROVAL"
)

// Operational flag keys stored in the child record. Flags gate user
// interaction independently of lifecycle status: callers must consult
// flags first, never only the status field.
const (
	FlagConflictResolutionPending = "conflict_resolution_pending"
	FlagConflictCount             = "conflict_count"
	FlagConflictPhase             = "conflict_phase"
)

// Flow control markers for user-issued lifecycle commands, persisted
// separately from phase states so pause/cancel never clobber phase data.
const (
	ControlNone      = ""
	ControlPaused    = "paused"
	ControlCancelled = "cancelled"
)

// Actor recorded in the transition history when no user session is
// attached to the mutation (scheduler sweeps, executor callbacks).
const (
	ActorSystem    = "system"
	ActorScheduler = "scheduler"
	ActorExecutor  = "executor"
)
