package constants

// Default operational limits. All of these can be overridden per flow type
// through FlowTypeConfig; these values apply when the config leaves them zero.
const (
	// DefaultMaxPhaseRetries bounds retryFailedPhase attempts per phase.
	DefaultMaxPhaseRetries = 3

	// DefaultCommitRetries bounds the optimistic retry loop run by REST
	// handlers on ConcurrentModificationError.
	DefaultCommitRetries = 3

	// DefaultListLimit caps flow list page size.
	DefaultListLimit = 50

	// MaxListLimit is the hard ceiling for flow list page size.
	MaxListLimit = 200

	// DefaultStaleFlowHours is the idle age after which the scheduler
	// sweep cancels a non-terminal flow.
	DefaultStaleFlowHours = 72

	// SchedulerSweepSpec is the cron spec for the stale-flow sweep.
	SchedulerSweepSpec = "@every 15m"
)

// HTTP header and gin context keys
const (
	HeaderAuthorization  = "Authorization"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	ContextKeyUser       = "user"
)

// Response envelope keys
const (
	ResponseError = "error"
	FieldMessage  = "message"
)
