/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package errors provides structured error handling for kvdb.

Error categories and how they surface:
  - ProtocolError: malformed request, bad path, unknown method (400)
  - AuthError: missing or wrong private-namespace credential (401)
  - StorageError: key not found (404) or internal store fault (500)
  - ConnectionError: admission rejection (503) or lost stream
  - ConfigError: startup failures, each with its own process exit status

Per-request errors are always recovered locally and answered with the
status returned by Status. Only ConfigError values are fatal; main prints
FatalMessage and exits with ExitCode.
*/
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error identifier.
type ErrorCode int

const (
	// Protocol errors (1000-1999)
	ErrCodeProtocol         ErrorCode = 1000
	ErrCodeMalformedRequest ErrorCode = 1001
	ErrCodeInvalidPath      ErrorCode = 1002
	ErrCodeUnknownMethod    ErrorCode = 1003

	// Auth errors (2000-2999)
	ErrCodeAuth       ErrorCode = 2000
	ErrCodeAuthFailed ErrorCode = 2001

	// Storage errors (3000-3999)
	ErrCodeStorage    ErrorCode = 3000
	ErrCodeNotFound   ErrorCode = 3001
	ErrCodeStoreFault ErrorCode = 3002

	// Connection errors (4000-4999)
	ErrCodeConnection         ErrorCode = 4000
	ErrCodeServiceUnavailable ErrorCode = 4001
	ErrCodeConnectionLost     ErrorCode = 4002

	// Config errors (5000-5999)
	ErrCodeConfig           ErrorCode = 5000
	ErrCodeInvalidUsage     ErrorCode = 5001
	ErrCodeSecretUnreadable ErrorCode = 5002
	ErrCodeListenFailed     ErrorCode = 5003
)

// Category represents the error category.
type Category string

const (
	CategoryProtocol   Category = "PROTOCOL"
	CategoryAuth       Category = "AUTH"
	CategoryStorage    Category = "STORAGE"
	CategoryConnection Category = "CONNECTION"
	CategoryConfig     Category = "CONFIG"
)

// Process exit statuses for fatal startup errors.
const (
	ExitUsage  = 1
	ExitSecret = 2
	ExitListen = 3
)

// KVError represents a structured error in kvdb.
type KVError struct {
	Code     ErrorCode
	Category Category
	Message  string
	Detail   string
	Cause    error
}

// Error implements the error interface.
func (e *KVError) Error() string {
	msg := fmt.Sprintf("%s %d: %s", e.Category, e.Code, e.Message)
	if e.Detail != "" {
		msg += " - " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *KVError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a KVError with the same code.
func (e *KVError) Is(target error) bool {
	t, ok := target.(*KVError)
	return ok && t.Code == e.Code
}

// WithDetail adds detail to the error.
func (e *KVError) WithDetail(detail string) *KVError {
	e.Detail = detail
	return e
}

// WithCause adds a cause to the error.
func (e *KVError) WithCause(cause error) *KVError {
	e.Cause = cause
	return e
}

// Status returns the response status a client sees for this error.
func (e *KVError) Status() int {
	switch e.Code {
	case ErrCodeMalformedRequest, ErrCodeInvalidPath, ErrCodeUnknownMethod, ErrCodeProtocol:
		return http.StatusBadRequest
	case ErrCodeAuth, ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode returns the process exit status for a fatal startup error.
func (e *KVError) ExitCode() int {
	switch e.Code {
	case ErrCodeSecretUnreadable:
		return ExitSecret
	case ErrCodeListenFailed:
		return ExitListen
	default:
		return ExitUsage
	}
}

// FatalMessage returns the fixed one-line message printed before exiting.
func (e *KVError) FatalMessage() string {
	switch e.Code {
	case ErrCodeSecretUnreadable:
		return "dbserver: unable to read authentication string"
	case ErrCodeListenFailed:
		return "dbserver: unable to open socket for listening"
	default:
		return "Usage: dbserver authfile connections [portnum]"
	}
}

// ============================================================================
// Protocol Error Constructors
// ============================================================================

// MalformedRequest creates an error for an unparsable request message.
func MalformedRequest(cause error) *KVError {
	return &KVError{
		Code:     ErrCodeMalformedRequest,
		Category: CategoryProtocol,
		Message:  "malformed request",
		Cause:    cause,
	}
}

// InvalidPath creates an error for a path that is not /NAMESPACE/KEY.
func InvalidPath(path string) *KVError {
	return &KVError{
		Code:     ErrCodeInvalidPath,
		Category: CategoryProtocol,
		Message:  "invalid request path",
		Detail:   fmt.Sprintf("Path: %q", path),
	}
}

// UnknownMethod creates an error for a method other than GET, PUT, DELETE.
func UnknownMethod(method string) *KVError {
	return &KVError{
		Code:     ErrCodeUnknownMethod,
		Category: CategoryProtocol,
		Message:  "unsupported method",
		Detail:   fmt.Sprintf("Method: %s", method),
	}
}

// ============================================================================
// Auth Error Constructors
// ============================================================================

// AuthenticationFailed creates an error for a missing or wrong credential.
func AuthenticationFailed() *KVError {
	return &KVError{
		Code:     ErrCodeAuthFailed,
		Category: CategoryAuth,
		Message:  "authentication failed",
	}
}

// ============================================================================
// Storage Error Constructors
// ============================================================================

// KeyNotFound creates an error for a GET or DELETE on an absent key.
func KeyNotFound(key string) *KVError {
	return &KVError{
		Code:     ErrCodeNotFound,
		Category: CategoryStorage,
		Message:  "key not found",
		Detail:   fmt.Sprintf("Key: %s", key),
	}
}

// StoreFault creates an error for an internal store failure.
func StoreFault(cause error) *KVError {
	return &KVError{
		Code:     ErrCodeStoreFault,
		Category: CategoryStorage,
		Message:  "store operation failed",
		Cause:    cause,
	}
}

// ============================================================================
// Connection Error Constructors
// ============================================================================

// ServiceUnavailable creates an error for a connection refused by admission.
func ServiceUnavailable(limit int) *KVError {
	return &KVError{
		Code:     ErrCodeServiceUnavailable,
		Category: CategoryConnection,
		Message:  "connection limit reached",
		Detail:   fmt.Sprintf("Limit: %d", limit),
	}
}

// ConnectionLost creates an error for a stream that failed mid-session.
func ConnectionLost(cause error) *KVError {
	return &KVError{
		Code:     ErrCodeConnectionLost,
		Category: CategoryConnection,
		Message:  "connection lost",
		Cause:    cause,
	}
}

// ============================================================================
// Config Error Constructors
// ============================================================================

// InvalidUsage creates an error for a bad command line or configuration.
func InvalidUsage(detail string) *KVError {
	return &KVError{
		Code:     ErrCodeInvalidUsage,
		Category: CategoryConfig,
		Message:  "invalid command line",
		Detail:   detail,
	}
}

// SecretUnreadable creates an error for an authentication file that
// cannot be opened or holds no line.
func SecretUnreadable(path string, cause error) *KVError {
	return &KVError{
		Code:     ErrCodeSecretUnreadable,
		Category: CategoryConfig,
		Message:  "unable to read authentication string",
		Detail:   fmt.Sprintf("File: %s", path),
		Cause:    cause,
	}
}

// ListenFailed creates an error for a port that cannot be bound.
func ListenFailed(addr string, cause error) *KVError {
	return &KVError{
		Code:     ErrCodeListenFailed,
		Category: CategoryConfig,
		Message:  "unable to open socket for listening",
		Detail:   fmt.Sprintf("Address: %s", addr),
		Cause:    cause,
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

// As returns the first KVError in err's chain.
func As(err error) (*KVError, bool) {
	var e *KVError
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsAuthError checks if an error is an auth error.
func IsAuthError(err error) bool {
	e, ok := As(err)
	return ok && e.Category == CategoryAuth
}

// IsConfigError checks if an error is a fatal configuration error.
func IsConfigError(err error) bool {
	e, ok := As(err)
	return ok && e.Category == CategoryConfig
}

// GetCode returns the error code if err wraps a KVError, or 0 otherwise.
func GetCode(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return 0
}

// StatusOf returns the response status for err. Errors that are not a
// KVError are internal faults.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
