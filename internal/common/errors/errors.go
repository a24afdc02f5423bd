// Package errors provides standardized error handling for the entitlement
// ledger and its external collaborators.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Configuration errors are fatal for the component they concern: the
	// primary storage choice fails over to the file backend, a provider with
	// bad credentials stays disabled for the process lifetime.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// Transient I/O talking to storage or external providers. Never retried
	// inside the core; surfaced as a "try later" outcome.
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeProviderTimeout    ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeProviderError      ErrorCode = "PROVIDER_ERROR"
	ErrCodeProviderBalance    ErrorCode = "PROVIDER_BALANCE"

	// Duplicate-create race, recovered by re-reading the existing record.
	ErrCodeDuplicateUser ErrorCode = "DUPLICATE_USER"

	ErrCodeUnknownPlan   ErrorCode = "UNKNOWN_PLAN"
	ErrCodePaymentFailed ErrorCode = "PAYMENT_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewConfigurationError creates a non-retryable configuration error.
func NewConfigurationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfiguration,
		Message:   "Missing or invalid configuration",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStorageUnavailableError creates a retryable storage error.
func NewStorageUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageUnavailable,
		Message:   "Storage backend unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderTimeoutError creates a retryable provider timeout error.
func NewProviderTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTimeout,
		Message:   fmt.Sprintf("Timeout calling %s", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderError creates a retryable external-provider error.
func NewProviderError(service, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderError,
		Message:   fmt.Sprintf("Provider %s returned an error", service),
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDuplicateUserError marks a duplicate-create race on the users table.
func NewDuplicateUserError(userID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateUser,
		Message:   "User record already exists",
		Details:   fmt.Sprintf("user_id=%d", userID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPaymentFailedError marks a payment the provider rejected or could not
// process. Not retryable: the user starts a fresh payment instead.
func NewPaymentFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePaymentFailed,
		Message:   "Payment was not accepted",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownPlanError creates a non-retryable plan lookup error.
func NewUnknownPlanError(plan string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownPlan,
		Message:   "Plan is not present in the catalog",
		Details:   plan,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
