// Package kernelerrors provides the closed error-kind enum and the
// structured KernelError shared by every kernel component. The HTTP
// result envelope built from these errors lives in internal/kernel/result.
package kernelerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one of the kernel's closed set of error kinds.
type Code string

const (
	// Startup
	CodeBootstrapFailed       Code = "BOOTSTRAP_FAILED"
	CodeMetadataConflict      Code = "METADATA_CONFLICT"
	CodeDuplicateService      Code = "DUPLICATE_SERVICE"
	CodeUnknownDependency     Code = "UNKNOWN_DEPENDENCY"
	CodeCyclicPhase2          Code = "CYCLIC_PHASE2"
	CodeMissingIntegrityBase  Code = "MISSING_INTEGRITY_BASE"

	// Runtime setup
	CodePhase1Failed              Code = "PHASE1_FAILED"
	CodeRequiredServiceMissing     Code = "REQUIRED_SERVICE_MISSING"
	CodeSettingsValidationFailed   Code = "SETTINGS_VALIDATION_FAILED"

	// Scheduler
	CodeFunctionNotFound Code = "FUNCTION_NOT_FOUND"
	CodeParameterInvalid Code = "PARAMETER_INVALID"
	CodeTimeout          Code = "TIMEOUT"
	CodeHandlerError     Code = "HANDLER_ERROR"
	CodeStorageError     Code = "STORAGE_ERROR"
	CodeAlreadyRunning   Code = "ALREADY_RUNNING"
	CodeCrashRecovery    Code = "CRASH_RECOVERY"

	// Housekeeper
	CodeDirectoryMissing  Code = "DIRECTORY_MISSING"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeFileDeleteFailed  Code = "FILE_DELETE_FAILED"

	// Shutdown
	CodeShutdownTimeout Code = "SHUTDOWN_TIMEOUT"

	// Generic, used by HTTP handlers for request-shape problems the spec
	// itself doesn't name (malformed JSON, unknown route parameter, etc).
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeNotFound       Code = "NOT_FOUND"
)

// httpStatus maps each closed error kind to the HTTP status spec.md §7
// assigns it: 400 validation, 404 not found, 409 state conflict, 500
// storage/handler, 503 required-service-missing.
var httpStatus = map[Code]int{
	CodeBootstrapFailed:         http.StatusInternalServerError,
	CodeMetadataConflict:        http.StatusBadRequest,
	CodeDuplicateService:        http.StatusConflict,
	CodeUnknownDependency:       http.StatusBadRequest,
	CodeCyclicPhase2:            http.StatusBadRequest,
	CodeMissingIntegrityBase:    http.StatusBadRequest,
	CodePhase1Failed:            http.StatusInternalServerError,
	CodeRequiredServiceMissing:  http.StatusServiceUnavailable,
	CodeSettingsValidationFailed: http.StatusBadRequest,
	CodeFunctionNotFound:        http.StatusBadRequest,
	CodeParameterInvalid:        http.StatusBadRequest,
	CodeTimeout:                 http.StatusGatewayTimeout,
	CodeHandlerError:            http.StatusInternalServerError,
	CodeStorageError:            http.StatusInternalServerError,
	CodeAlreadyRunning:          http.StatusConflict,
	CodeCrashRecovery:           http.StatusInternalServerError,
	CodeDirectoryMissing:        http.StatusInternalServerError,
	CodePermissionDenied:        http.StatusInternalServerError,
	CodeFileDeleteFailed:        http.StatusInternalServerError,
	CodeShutdownTimeout:         http.StatusInternalServerError,
	CodeInvalidRequest:          http.StatusBadRequest,
	CodeNotFound:                http.StatusNotFound,
}

// KernelError is a structured error with a closed code, a human message,
// an HTTP status, optional machine-readable details, and an optional
// wrapped cause.
type KernelError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *KernelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *KernelError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value detail and returns the same error for
// chaining.
func (e *KernelError) WithDetails(key string, value interface{}) *KernelError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New builds a KernelError for the given code with no wrapped cause.
func New(code Code, message string) *KernelError {
	return &KernelError{Code: code, Message: message, HTTPStatus: statusFor(code)}
}

// Wrap builds a KernelError for the given code around an existing error.
func Wrap(code Code, message string, err error) *KernelError {
	return &KernelError{Code: code, Message: message, HTTPStatus: statusFor(code), Err: err}
}

func statusFor(code Code) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Is reports whether any KernelError in err's chain carries the given
// code, so an inner code stays visible through Wrap.
func Is(err error, code Code) bool {
	for err != nil {
		var ke *KernelError
		if !errors.As(err, &ke) {
			return false
		}
		if ke.Code == code {
			return true
		}
		err = ke.Err
	}
	return false
}

// As extracts a *KernelError from an error chain, if present.
func As(err error) *KernelError {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke
	}
	return nil
}

// HTTPStatus returns the HTTP status code associated with err, defaulting
// to 500 when err is not (or does not wrap) a KernelError.
func HTTPStatus(err error) int {
	if ke := As(err); ke != nil {
		return ke.HTTPStatus
	}
	return http.StatusInternalServerError
}
