// Package errors provides standardized error handling for the HTTP API and BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed       ErrorCode = "VALIDATION_FAILED"
	ErrCodeAuthentication         ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeForbidden              ErrorCode = "FORBIDDEN"
	ErrCodeAccountLocked          ErrorCode = "ACCOUNT_LOCKED"
	ErrCodeAccountSuspended       ErrorCode = "ACCOUNT_SUSPENDED"
	ErrCodeWeakPassword           ErrorCode = "WEAK_PASSWORD"
	ErrCodeEmailTaken             ErrorCode = "EMAIL_TAKEN"
	ErrCodeResourceNotFound       ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeDuplicateApplication   ErrorCode = "DUPLICATE_APPLICATION"
	ErrCodeDuplicateReview        ErrorCode = "DUPLICATE_REVIEW"
	ErrCodeRateLimited            ErrorCode = "RATE_LIMITED"

	ErrCodePaymentProcessorError ErrorCode = "PAYMENT_PROCESSOR_ERROR"
	ErrCodePaymentDeclined       ErrorCode = "PAYMENT_DECLINED"
	ErrCodeEscrowNotFunded       ErrorCode = "ESCROW_NOT_FUNDED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"

	ErrCodeSearchQueryFailed ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeSearchTimeout     ErrorCode = "SEARCH_TIMEOUT"
	ErrCodeIndexNotFound     ErrorCode = "INDEX_NOT_FOUND"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"

	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout         ErrorCode = "TIMEOUT_ERROR"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key to the error's metadata and returns the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewValidationError creates a non-retryable input validation error.
func NewValidationError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Request validation failed", details, false, nil)
}

func NewAuthenticationError(details string) *StandardError {
	return newError(ErrCodeAuthentication, "Authentication failed", details, false, nil)
}

func NewForbiddenError(details string) *StandardError {
	return newError(ErrCodeForbidden, "You do not have access to this resource", details, false, nil)
}

// NewAccountLockedError reports a lockout; retryAfter is exposed to clients as seconds.
func NewAccountLockedError(retryAfter time.Duration) *StandardError {
	return newError(ErrCodeAccountLocked, "Too many failed login attempts, account temporarily locked", "", false, nil).
		WithMetadata("retryAfterSeconds", int(retryAfter.Round(time.Second).Seconds()))
}

func NewAccountSuspendedError() *StandardError {
	return newError(ErrCodeAccountSuspended, "Account is suspended", "", false, nil)
}

func NewWeakPasswordError(feedback []string) *StandardError {
	return newError(ErrCodeWeakPassword, "Password does not meet strength requirements", strings.Join(feedback, "; "), false, nil).
		WithMetadata("feedback", feedback)
}

func NewEmailTakenError() *StandardError {
	return newError(ErrCodeEmailTaken, "Email is already registered", "", false, nil)
}

func NewResourceNotFoundError(resource, details string) *StandardError {
	return newError(ErrCodeResourceNotFound, fmt.Sprintf("%s not found", resource), details, false, nil)
}

// NewInvalidStateTransitionError creates a non-retryable error for a status change that is not allowed.
func NewInvalidStateTransitionError(resource, from, to string) *StandardError {
	return newError(ErrCodeInvalidStateTransition,
		fmt.Sprintf("%s cannot move from %s to %s", resource, from, to), "", false, nil).
		WithMetadata("from", from).
		WithMetadata("to", to)
}

func NewDuplicateApplicationError(jobID string) *StandardError {
	return newError(ErrCodeDuplicateApplication, "You have already applied to this job", fmt.Sprintf("jobId: %s", jobID), false, nil)
}

func NewDuplicateReviewError(jobID string) *StandardError {
	return newError(ErrCodeDuplicateReview, "You have already reviewed this job", fmt.Sprintf("jobId: %s", jobID), false, nil)
}

func NewRateLimitedError() *StandardError {
	return newError(ErrCodeRateLimited, "Too many requests", "", true, nil)
}

// NewPaymentProcessorError creates a retryable error for processor outages.
func NewPaymentProcessorError(operation string, err error) *StandardError {
	return newError(ErrCodePaymentProcessorError, "Payment processor error",
		fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), true, err)
}

func NewPaymentDeclinedError(details string) *StandardError {
	return newError(ErrCodePaymentDeclined, "Payment was declined", details, false, nil)
}

func NewEscrowNotFundedError(jobID string) *StandardError {
	return newError(ErrCodeEscrowNotFunded, "Escrow is not funded", fmt.Sprintf("jobId: %s", jobID), false, nil)
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true, err)
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error",
		fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()), true, err)
}

func NewQueryTimeoutError(queryType string) *StandardError {
	return newError(ErrCodeQueryTimeout, "Database query timeout", fmt.Sprintf("queryType: %s", queryType), true, nil)
}

func NewDatabaseInsertFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseInsertFailed, "Database insert failed", err.Error(), true, err)
}

func NewSearchQueryFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, "Search query failed",
		fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()), true, err)
}

func NewSearchTimeoutError(queryType string) *StandardError {
	return newError(ErrCodeSearchTimeout, "Search query timeout", fmt.Sprintf("queryType: %s", queryType), true, nil)
}

func NewIndexNotFoundError(indexName string) *StandardError {
	return newError(ErrCodeIndexNotFound, "Search index not found", fmt.Sprintf("index: %s", indexName), false, nil)
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true, err)
}

func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), err.Error(), true, err)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), err.Error(), true, err)
}

func NewInternalError(err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return newError(ErrCodeInternal, "Something went wrong, please try again", details, false, err)
}

// ==========================
// 4. Error Conversion
// ==========================

// AsStandardError finds a StandardError in err's chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// Normalize always returns a StandardError, wrapping unknown errors as INTERNAL_ERROR.
func Normalize(err error) *StandardError {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return NewInternalError(err)
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandardError(err)
	return ok && stdErr.Code == code
}

var httpStatus = map[ErrorCode]int{
	ErrCodeValidationFailed:         http.StatusBadRequest,
	ErrCodeWeakPassword:             http.StatusBadRequest,
	ErrCodeAuthentication:           http.StatusUnauthorized,
	ErrCodeForbidden:                http.StatusForbidden,
	ErrCodeAccountSuspended:         http.StatusForbidden,
	ErrCodeResourceNotFound:         http.StatusNotFound,
	ErrCodeIndexNotFound:            http.StatusNotFound,
	ErrCodeEmailTaken:               http.StatusConflict,
	ErrCodeDuplicateApplication:     http.StatusConflict,
	ErrCodeDuplicateReview:          http.StatusConflict,
	ErrCodeInvalidStateTransition:   http.StatusConflict,
	ErrCodeEscrowNotFunded:          http.StatusConflict,
	ErrCodePaymentDeclined:          http.StatusUnprocessableEntity,
	ErrCodeAccountLocked:            http.StatusLocked,
	ErrCodeRateLimited:              http.StatusTooManyRequests,
	ErrCodePaymentProcessorError:    http.StatusBadGateway,
	ErrCodeNotificationSendFailed:   http.StatusBadGateway,
	ErrCodeDatabaseConnectionFailed: http.StatusServiceUnavailable,
	ErrCodeQueryTimeout:             http.StatusServiceUnavailable,
	ErrCodeSearchTimeout:            http.StatusServiceUnavailable,
	ErrCodeExternalService:          http.StatusBadGateway,
	ErrCodeTimeout:                  http.StatusGatewayTimeout,
}

// HTTPStatus maps an error code to the status the API responds with.
func HTTPStatus(code ErrorCode) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// GetRetryCount returns the recommended retry count for a worker failure.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeDatabaseInsertFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeNotificationSendFailed,
		ErrCodePaymentProcessorError,
		ErrCodeExternalService:
		return 3 // Retryable technical errors

	case ErrCodeQueryTimeout,
		ErrCodeSearchTimeout,
		ErrCodeTimeout:
		return 2 // Partial retry for timeouts

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "AUTH") || strings.Contains(codeStr, "ACCOUNT") ||
		strings.Contains(codeStr, "PASSWORD") || code == ErrCodeForbidden:
		return "AUTH"
	case strings.Contains(codeStr, "PAYMENT") || strings.Contains(codeStr, "ESCROW"):
		return "PAYMENT"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY_"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH") || strings.Contains(codeStr, "INDEX"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION") ||
		strings.Contains(codeStr, "DUPLICATE") || strings.Contains(codeStr, "TAKEN"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
