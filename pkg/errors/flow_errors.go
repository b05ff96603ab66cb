package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// InvalidTransitionError rejects a phase transition that is not in the
// authorized table. The requested transition is never silently coerced;
// the valid target states are included so callers can correct the request.
type InvalidTransitionError struct {
	Phase        string
	FromState    string
	ToState      string
	ValidTargets []string
}

func (e *InvalidTransitionError) Error() string {
	if len(e.ValidTargets) == 0 {
		return fmt.Sprintf("invalid transition for phase '%s': %s -> %s (no transitions allowed from %s)",
			e.Phase, e.FromState, e.ToState, e.FromState)
	}
	return fmt.Sprintf("invalid transition for phase '%s': %s -> %s (valid targets: %s)",
		e.Phase, e.FromState, e.ToState, strings.Join(e.ValidTargets, ", "))
}

func (e *InvalidTransitionError) HTTPStatus() int {
	return http.StatusUnprocessableEntity
}

func (e *InvalidTransitionError) Code() string {
	return "INVALID_TRANSITION"
}

// ConcurrentModificationError signals an optimistic version mismatch:
// another mutation committed between loadForMutation and commit.
// Retryable - the caller should reload and reapply the operation.
type ConcurrentModificationError struct {
	FlowID          string
	ExpectedVersion int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("flow '%s' was modified concurrently (expected version %d)", e.FlowID, e.ExpectedVersion)
}

func (e *ConcurrentModificationError) HTTPStatus() int {
	return http.StatusConflict
}

func (e *ConcurrentModificationError) Code() string {
	return "CONCURRENT_MODIFICATION"
}

// TenantScopeViolation rejects a cross-tenant access attempt. Fatal to the
// request, logged as a security event, never retried.
type TenantScopeViolation struct {
	FlowID   string
	TenantID string
}

func (e *TenantScopeViolation) Error() string {
	return fmt.Sprintf("flow '%s' is not accessible in tenant scope '%s'", e.FlowID, e.TenantID)
}

func (e *TenantScopeViolation) HTTPStatus() int {
	return http.StatusForbidden
}

func (e *TenantScopeViolation) Code() string {
	return "TENANT_SCOPE_VIOLATION"
}

// RetryLimitExceeded signals that a phase has exhausted its configured
// retry budget and needs manual intervention.
type RetryLimitExceeded struct {
	Phase      string
	RetryCount int
	MaxRetries int
}

func (e *RetryLimitExceeded) Error() string {
	return fmt.Sprintf("phase '%s' exceeded retry limit (%d of %d attempts used)", e.Phase, e.RetryCount, e.MaxRetries)
}

func (e *RetryLimitExceeded) HTTPStatus() int {
	return http.StatusConflict
}

func (e *RetryLimitExceeded) Code() string {
	return "RETRY_LIMIT_EXCEEDED"
}

// OrphanRecordError reports a master flow record without its child (or
// vice versa). This is a data-integrity defect: it is surfaced for operator
// remediation and never auto-healed by guessing the missing half.
type OrphanRecordError struct {
	FlowID  string
	Missing string // "master" or "child"
}

func (e *OrphanRecordError) Error() string {
	return fmt.Sprintf("flow '%s' is missing its %s record; data integrity defect, manual repair required", e.FlowID, e.Missing)
}

func (e *OrphanRecordError) HTTPStatus() int {
	return http.StatusInternalServerError
}

func (e *OrphanRecordError) Code() string {
	return "ORPHAN_RECORD"
}

// IsConcurrentModification checks if an error is a ConcurrentModificationError
func IsConcurrentModification(err error) bool {
	var cme *ConcurrentModificationError
	return errors.As(err, &cme)
}

// IsInvalidTransition checks if an error is an InvalidTransitionError
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// IsTenantScopeViolation checks if an error is a TenantScopeViolation
func IsTenantScopeViolation(err error) bool {
	var tsv *TenantScopeViolation
	return errors.As(err, &tsv)
}

// IsRetryLimitExceeded checks if an error is a RetryLimitExceeded
func IsRetryLimitExceeded(err error) bool {
	var rle *RetryLimitExceeded
	return errors.As(err, &rle)
}

// IsOrphanRecord checks if an error is an OrphanRecordError
func IsOrphanRecord(err error) bool {
	var ore *OrphanRecordError
	return errors.As(err, &ore)
}
