package rest

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/pkg/auth"
	"github.com/migratehub/backend/pkg/constants"
	"github.com/migratehub/backend/pkg/errors"
)

// GetUserFromContext extracts the authenticated user from gin.Context
func GetUserFromContext(c *gin.Context) *auth.UserSession {
	userInterface, exists := c.Get(constants.ContextKeyUser)
	if !exists {
		return nil
	}
	user := userInterface.(auth.UserSession)
	return &user
}

// ScopeFromContext derives the tenant scope every store call requires.
// The scope comes from the validated token, never from request input.
func ScopeFromContext(c *gin.Context) (models.TenantScope, bool) {
	user := GetUserFromContext(c)
	if user == nil {
		RespondAppError(c, errors.NewUnauthorizedError("not authenticated"))
		return models.TenantScope{}, false
	}
	return models.TenantScope{TenantID: user.TenantID, SubTenantID: user.SubTenantID}, true
}

// RespondAppError sends a standardised JSON error response using pkg/errors
func RespondAppError(c *gin.Context, err error) {
	code := errors.GetHTTPStatus(err)
	errorCode := errors.GetErrorCode(err)
	message := err.Error()

	if code >= 500 {
		log.Printf("❌ ERROR [%d] %s %s: %s", code, c.Request.Method, c.Request.URL.Path, message)
	}

	c.JSON(code, gin.H{
		constants.ResponseError: message,
		constants.FieldMessage:  message,
		"code":                  errorCode,
		"data":                  nil,
	})
}

// BindJSON binds JSON and returns true if successful. If failed, it sends bad request error.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondAppError(c, errors.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// HandleGetEnvelope executes a read action and returns the result wrapped in a JSON key
// Response: { [key]: result }
func HandleGetEnvelope(c *gin.Context, key string, action func() (interface{}, error)) {
	result, err := action()
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{key: result})
}

// HandleCommandEnvelope executes a mutating action with a bounded retry on
// optimistic-concurrency conflicts. The service layer commits exactly once
// per attempt; this loop is the only place conflicts are retried, so a
// saturated flow surfaces 409 to the client instead of spinning.
// Response: { constants.FieldMessage: successMsg, [key]: result }
func HandleCommandEnvelope(c *gin.Context, key, successMsg string, action func() (interface{}, error)) {
	var result interface{}
	var err error
	for attempt := 0; attempt < constants.DefaultCommitRetries; attempt++ {
		result, err = action()
		if err == nil || !errors.IsConcurrentModification(err) {
			break
		}
		log.Printf("🔁 Commit conflict on %s %s (attempt %d/%d)",
			c.Request.Method, c.Request.URL.Path, attempt+1, constants.DefaultCommitRetries)
	}
	if err != nil {
		RespondAppError(c, err)
		return
	}

	response := gin.H{constants.FieldMessage: successMsg}
	if key != "" {
		response[key] = result
	}
	c.JSON(http.StatusOK, response)
}
