package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/migratehub/backend/internal/application/services"
	"github.com/migratehub/backend/internal/interfaces/middleware"
)

// OperatorHandler exposes platform-operator maintenance commands. These
// run outside any single tenant scope, so every route sits behind
// RequireOperator in addition to the normal session middleware.
type OperatorHandler struct {
	scheduler *services.SchedulerService
}

// NewOperatorHandler creates a new OperatorHandler
func NewOperatorHandler(scheduler *services.SchedulerService) *OperatorHandler {
	return &OperatorHandler{scheduler: scheduler}
}

// RegisterRoutes registers operator routes on an authenticated group
func (h *OperatorHandler) RegisterRoutes(rg *gin.RouterGroup) {
	ops := rg.Group("/operator")
	ops.Use(middleware.RequireOperator())
	{
		ops.POST("/sweep", h.Sweep)
	}
}

// Sweep runs the stale-flow sweep immediately instead of waiting for the
// next scheduled run
func (h *OperatorHandler) Sweep(c *gin.Context) {
	HandleCommandEnvelope(c, "data", "Stale-flow sweep completed", func() (interface{}, error) {
		cancelled := h.scheduler.SweepStaleFlows(c.Request.Context())
		return gin.H{"cancelled": cancelled}, nil
	})
}
