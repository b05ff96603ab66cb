package rest

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/migratehub/backend/internal/application/services"
	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/internal/domain/ports"
	"github.com/migratehub/backend/pkg/constants"
)

// FlowHandler exposes the orchestration commands over HTTP. Handlers own
// the bounded optimistic-retry loop; the service commits exactly once per
// attempt.
type FlowHandler struct {
	svc *services.OrchestrationService
}

// NewFlowHandler creates a new FlowHandler
func NewFlowHandler(svc *services.OrchestrationService) *FlowHandler {
	return &FlowHandler{svc: svc}
}

// RegisterRoutes registers all flow routes on an authenticated group
func (h *FlowHandler) RegisterRoutes(rg *gin.RouterGroup) {
	flows := rg.Group("/flows")
	{
		flows.POST("/initialize", h.Initialize)
		flows.GET("", h.List)
		flows.GET("/:id/status", h.Status)
		flows.GET("/:id/history", h.History)
		flows.GET("/:id/recovery-options", h.RecoveryOptions)

		flows.POST("/:id/phase/begin", h.BeginPhase)
		flows.POST("/:id/phase/complete", h.CompletePhase)
		flows.POST("/:id/pause", h.Pause)
		flows.POST("/:id/resume", h.Resume)
		flows.POST("/:id/cancel", h.Cancel)
		flows.POST("/:id/rollback", h.Rollback)
		flows.POST("/:id/retry", h.Retry)
		flows.POST("/:id/report-conflict", h.ReportConflict)
		flows.POST("/:id/resolve-conflict", h.ResolveConflict)
	}
}

func actorFrom(c *gin.Context) string {
	if user := GetUserFromContext(c); user != nil {
		return user.ID
	}
	return constants.ActorSystem
}

// Initialize creates a new flow of the requested type
func (h *FlowHandler) Initialize(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}

	var req struct {
		FlowType string `json:"flow_type" binding:"required"`
	}
	if !BindJSON(c, &req) {
		return
	}

	HandleCommandEnvelope(c, "data", "Flow initialized", func() (interface{}, error) {
		flowID, err := h.svc.Initialize(c.Request.Context(), scope, req.FlowType)
		if err != nil {
			return nil, err
		}
		return gin.H{"flow_id": flowID}, nil
	})
}

// BeginPhase moves a phase into IN_PROGRESS
func (h *FlowHandler) BeginPhase(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}
	flowID := c.Param("id")

	var req struct {
		Phase string `json:"phase" binding:"required"`
	}
	if !BindJSON(c, &req) {
		return
	}

	HandleCommandEnvelope(c, "data", "Phase started", func() (interface{}, error) {
		master, child, err := h.svc.BeginPhase(c.Request.Context(), scope, flowID, req.Phase, actorFrom(c))
		if err != nil {
			return nil, err
		}
		return gin.H{
			"phase_state":      child.Phase(req.Phase).State,
			"lifecycle_status": master.LifecycleStatus,
		}, nil
	})
}

// CompletePhase records the outcome an external executor reports
func (h *FlowHandler) CompletePhase(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}
	flowID := c.Param("id")

	var req struct {
		Phase        string      `json:"phase" binding:"required"`
		Outcome      string      `json:"outcome" binding:"required"`
		Retryable    bool        `json:"retryable"`
		Result       interface{} `json:"result"`
		ErrorMessage string      `json:"error_message"`
	}
	if !BindJSON(c, &req) {
		return
	}

	HandleCommandEnvelope(c, "data", "Phase outcome recorded", func() (interface{}, error) {
		master, child, err := h.svc.CompletePhase(c.Request.Context(), scope, services.CompletePhaseRequest{
			FlowID:       flowID,
			Phase:        req.Phase,
			Outcome:      req.Outcome,
			Retryable:    req.Retryable,
			Result:       req.Result,
			ErrorMessage: req.ErrorMessage,
			Actor:        actorFrom(c),
		})
		if err != nil {
			return nil, err
		}
		return gin.H{
			"phase_state":      child.Phase(req.Phase).State,
			"lifecycle_status": master.LifecycleStatus,
			"current_phase":    child.CurrentPhase,
		}, nil
	})
}

// Pause suspends the flow
func (h *FlowHandler) Pause(c *gin.Context) {
	h.lifecycleCommand(c, "Flow paused", func(scope models.TenantScope, flowID string) (*models.MasterFlowRecord, error) {
		return h.svc.Pause(c.Request.Context(), scope, flowID, actorFrom(c))
	})
}

// Resume lifts a pause
func (h *FlowHandler) Resume(c *gin.Context) {
	h.lifecycleCommand(c, "Flow resumed", func(scope models.TenantScope, flowID string) (*models.MasterFlowRecord, error) {
		return h.svc.Resume(c.Request.Context(), scope, flowID, actorFrom(c))
	})
}

// Cancel terminates the flow irreversibly
func (h *FlowHandler) Cancel(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancel
	_ = c.ShouldBindJSON(&req)

	h.lifecycleCommand(c, "Flow cancelled", func(scope models.TenantScope, flowID string) (*models.MasterFlowRecord, error) {
		return h.svc.Cancel(c.Request.Context(), scope, flowID, req.Reason, actorFrom(c))
	})
}

func (h *FlowHandler) lifecycleCommand(c *gin.Context, successMsg string, cmd func(models.TenantScope, string) (*models.MasterFlowRecord, error)) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}
	flowID := c.Param("id")

	HandleCommandEnvelope(c, "data", successMsg, func() (interface{}, error) {
		master, err := cmd(scope, flowID)
		if err != nil {
			return nil, err
		}
		return gin.H{"lifecycle_status": master.LifecycleStatus}, nil
	})
}

// Rollback reverts a completed phase, optionally cascading downstream
func (h *FlowHandler) Rollback(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}
	flowID := c.Param("id")

	var req struct {
		Phase   string `json:"phase" binding:"required"`
		Reason  string `json:"reason"`
		Cascade bool   `json:"cascade"`
	}
	if !BindJSON(c, &req) {
		return
	}

	HandleCommandEnvelope(c, "data", "Phase rolled back", func() (interface{}, error) {
		master, child, err := h.svc.RollbackPhase(c.Request.Context(), scope, flowID, req.Phase, req.Reason, actorFrom(c), req.Cascade)
		if err != nil {
			return nil, err
		}
		return gin.H{
			"phase_state":      child.Phase(req.Phase).State,
			"lifecycle_status": master.LifecycleStatus,
		}, nil
	})
}

// Retry books another attempt for a failed phase. The X-Idempotency-Key
// header makes network replays safe.
func (h *FlowHandler) Retry(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}
	flowID := c.Param("id")
	idempotencyKey := c.GetHeader(constants.HeaderIdempotencyKey)

	var req struct {
		Phase string `json:"phase" binding:"required"`
	}
	if !BindJSON(c, &req) {
		return
	}

	HandleCommandEnvelope(c, "data", "Retry booked", func() (interface{}, error) {
		child, err := h.svc.RetryFailedPhase(c.Request.Context(), scope, flowID, req.Phase, actorFrom(c), idempotencyKey)
		if err != nil {
			return nil, err
		}
		return gin.H{
			"phase_state": child.Phase(req.Phase).State,
			"retry_count": child.Phase(req.Phase).RetryCount,
		}, nil
	})
}

// ReportConflict raises the conflict flag on behalf of an executor
func (h *FlowHandler) ReportConflict(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}
	flowID := c.Param("id")

	var req struct {
		Phase         string `json:"phase" binding:"required"`
		ConflictCount int    `json:"conflict_count"`
	}
	if !BindJSON(c, &req) {
		return
	}

	HandleCommandEnvelope(c, "data", "Conflict reported", func() (interface{}, error) {
		master, err := h.svc.ReportConflict(c.Request.Context(), scope, flowID, req.Phase, req.ConflictCount, actorFrom(c))
		if err != nil {
			return nil, err
		}
		return gin.H{"lifecycle_status": master.LifecycleStatus}, nil
	})
}

// ResolveConflict clears the pending-conflict flag with a resolution payload
func (h *FlowHandler) ResolveConflict(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}
	flowID := c.Param("id")

	var req struct {
		Payload interface{} `json:"payload"`
	}
	if !BindJSON(c, &req) {
		return
	}

	HandleCommandEnvelope(c, "data", "Conflict resolution applied", func() (interface{}, error) {
		return h.svc.ResolveConflict(c.Request.Context(), scope, flowID, req.Payload, actorFrom(c))
	})
}

// Status returns the flow snapshot with computed progress
func (h *FlowHandler) Status(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}
	flowID := c.Param("id")

	HandleGetEnvelope(c, "flow", func() (interface{}, error) {
		return h.svc.GetStatus(c.Request.Context(), scope, flowID)
	})
}

// List returns the tenant's flows with pagination
func (h *FlowHandler) List(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(constants.DefaultListLimit)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = constants.DefaultListLimit
	}
	if limit > constants.MaxListLimit {
		limit = constants.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	filter := ports.ListFilter{
		Status:   models.FlowLifecycleStatus(c.Query("status")),
		FlowType: c.Query("flow_type"),
		Limit:    limit,
		Offset:   offset,
	}

	HandleGetEnvelope(c, "data", func() (interface{}, error) {
		return h.svc.ListFlows(c.Request.Context(), scope, filter)
	})
}

// History returns the append-only transition trail
func (h *FlowHandler) History(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}
	flowID := c.Param("id")

	HandleGetEnvelope(c, "history", func() (interface{}, error) {
		return h.svc.GetHistory(c.Request.Context(), scope, flowID)
	})
}

// RecoveryOptions reports which recovery actions are currently legal
func (h *FlowHandler) RecoveryOptions(c *gin.Context) {
	scope, ok := ScopeFromContext(c)
	if !ok {
		return
	}
	flowID := c.Param("id")

	HandleGetEnvelope(c, "options", func() (interface{}, error) {
		return h.svc.GetRecoveryOptions(c.Request.Context(), scope, flowID)
	})
}
