package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migratehub/backend/internal/interfaces/middleware"
	"github.com/migratehub/backend/pkg/auth"
	"github.com/migratehub/backend/pkg/constants"
)

func newAuthRouter(t *testing.T, keys *auth.APIKeyRegistry) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/whoami", middleware.RequireAuth(keys), func(c *gin.Context) {
		user := c.MustGet(constants.ContextKeyUser).(auth.UserSession)
		c.JSON(http.StatusOK, gin.H{
			"id":            user.ID,
			"tenant_id":     user.TenantID,
			"sub_tenant_id": user.SubTenantID,
		})
	})
	return r
}

func doWhoami(r *gin.Engine, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if bearer != "" {
		req.Header.Set(constants.HeaderAuthorization, "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestExecutorAPIKeyResolvesTenantSession(t *testing.T) {
	key := "mh_tenant-a_0f8b2c41d7e6a395"
	hash, err := auth.HashAPIKey(key)
	require.NoError(t, err)

	keys := auth.NewAPIKeyRegistry()
	keys.Register("tenant-a", "env-prod", hash)
	r := newAuthRouter(t, keys)

	w := doWhoami(r, key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"executor"`)
	assert.Contains(t, w.Body.String(), `"tenant_id":"tenant-a"`)
	assert.Contains(t, w.Body.String(), `"sub_tenant_id":"env-prod"`)
}

func TestExecutorAPIKeyRejectsWrongSecret(t *testing.T) {
	hash, err := auth.HashAPIKey("mh_tenant-a_0f8b2c41d7e6a395")
	require.NoError(t, err)

	keys := auth.NewAPIKeyRegistry()
	keys.Register("tenant-a", "env-prod", hash)
	r := newAuthRouter(t, keys)

	w := doWhoami(r, "mh_tenant-a_wrongsecretwrongsecret")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Unknown tenant segment fails without touching bcrypt
	w = doWhoami(r, "mh_tenant-z_0f8b2c41d7e6a395")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyRejectedWhenRegistryDisabled(t *testing.T) {
	r := newAuthRouter(t, nil)

	w := doWhoami(r, "mh_tenant-a_0f8b2c41d7e6a395")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTSessionStillAccepted(t *testing.T) {
	token, err := auth.GenerateToken(auth.UserSession{
		ID: "user-1", Name: "User One", TenantID: "tenant-a", SubTenantID: "env-prod",
	})
	require.NoError(t, err)

	r := newAuthRouter(t, auth.NewAPIKeyRegistry())
	w := doWhoami(r, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"user-1"`)
}
