package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migratehub/backend/internal/application/services"
	"github.com/migratehub/backend/internal/infrastructure/persistence"
	"github.com/migratehub/backend/internal/interfaces/rest"
	"github.com/migratehub/backend/pkg/auth"
	"github.com/migratehub/backend/pkg/constants"
)

// newTestRouter wires the handler against a fresh in-memory store with a
// middleware injecting the given user, bypassing JWT validation.
func newTestRouter(t *testing.T, user auth.UserSession) *gin.Engine {
	t.Helper()
	return routerOverStore(t, user, persistence.NewMemoryFlowRecordStore())
}

func routerOverStore(t *testing.T, user auth.UserSession, store *persistence.MemoryFlowRecordStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := services.NewFlowTypeRegistry(services.DefaultFlowTypeConfigs())
	require.NoError(t, err)
	svc := services.NewOrchestrationService(store, registry, services.NewEventBus())

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(constants.ContextKeyUser, user)
		c.Next()
	})
	rest.NewFlowHandler(svc).RegisterRoutes(router.Group("/api"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func testUser() auth.UserSession {
	return auth.UserSession{ID: "user-1", Name: "Migration Admin", TenantID: "tenant-a", SubTenantID: "env-prod"}
}

func initializeFlow(t *testing.T, router *gin.Engine, flowType string) string {
	t.Helper()
	w, resp := doJSON(t, router, http.MethodPost, "/api/flows/initialize",
		gin.H{"flow_type": flowType}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := resp["data"].(map[string]interface{})
	return data["flow_id"].(string)
}

func TestFlowLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t, testUser())
	flowID := initializeFlow(t, router, constants.FlowTypeAssessment)

	w, resp := doJSON(t, router, http.MethodPost, "/api/flows/"+flowID+"/phase/begin",
		gin.H{"phase": "readiness"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "IN_PROGRESS", data["phase_state"])
	assert.Equal(t, "ACTIVE", data["lifecycle_status"])

	w, resp = doJSON(t, router, http.MethodPost, "/api/flows/"+flowID+"/phase/complete",
		gin.H{"phase": "readiness", "outcome": constants.OutcomeCompleted, "result": gin.H{"score": 91}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data = resp["data"].(map[string]interface{})
	assert.Equal(t, "COMPLETED", data["phase_state"])
	assert.Equal(t, "tech_debt", data["current_phase"])

	w, resp = doJSON(t, router, http.MethodGet, "/api/flows/"+flowID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	flow := resp["flow"].(map[string]interface{})
	assert.Equal(t, "ACTIVE", flow["lifecycle_status"])
	assert.Equal(t, "tech_debt", flow["current_phase"])
	assert.InDelta(t, 33.3, flow["progress_percentage"].(float64), 0.1)
}

func TestInvalidTransitionReturns422(t *testing.T) {
	router := newTestRouter(t, testUser())
	flowID := initializeFlow(t, router, constants.FlowTypeAssessment)

	// Complete without begin
	w, resp := doJSON(t, router, http.MethodPost, "/api/flows/"+flowID+"/phase/complete",
		gin.H{"phase": "readiness", "outcome": constants.OutcomeCompleted}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", resp["code"])
}

func TestUnknownFlowReturns404(t *testing.T) {
	router := newTestRouter(t, testUser())

	w, resp := doJSON(t, router, http.MethodGet, "/api/flows/flow-nope/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", resp["code"])
}

func TestRetryEndpointHonorsIdempotencyKey(t *testing.T) {
	router := newTestRouter(t, testUser())
	flowID := initializeFlow(t, router, constants.FlowTypeAssessment)

	w, _ := doJSON(t, router, http.MethodPost, "/api/flows/"+flowID+"/phase/begin",
		gin.H{"phase": "readiness"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, router, http.MethodPost, "/api/flows/"+flowID+"/phase/complete",
		gin.H{"phase": "readiness", "outcome": constants.OutcomeFailed, "retryable": true, "error_message": "timeout"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	headers := map[string]string{constants.HeaderIdempotencyKey: "req-7"}
	w, resp := doJSON(t, router, http.MethodPost, "/api/flows/"+flowID+"/retry",
		gin.H{"phase": "readiness"}, headers)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["retry_count"])

	// Replay with the same key: counted once
	w, resp = doJSON(t, router, http.MethodPost, "/api/flows/"+flowID+"/retry",
		gin.H{"phase": "readiness"}, headers)
	require.Equal(t, http.StatusOK, w.Code)
	data = resp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["retry_count"])
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	store := persistence.NewMemoryFlowRecordStore()
	ownerRouter := routerOverStore(t, testUser(), store)
	intruderRouter := routerOverStore(t, auth.UserSession{
		ID: "user-2", TenantID: "tenant-b", SubTenantID: "env-prod",
	}, store)

	flowID := initializeFlow(t, ownerRouter, constants.FlowTypeAssessment)

	w, resp := doJSON(t, intruderRouter, http.MethodGet, "/api/flows/"+flowID+"/status", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "TENANT_SCOPE_VIOLATION", resp["code"])

	w, _ = doJSON(t, intruderRouter, http.MethodPost, "/api/flows/"+flowID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Listings never leak across tenants
	w, resp = doJSON(t, intruderRouter, http.MethodGet, "/api/flows", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(0), page["total"])

	w, resp = doJSON(t, ownerRouter, http.MethodGet, "/api/flows", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = resp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), page["total"])
}
