// Package errors provides custom error types and error handling utilities.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Caller errors.
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"

	// Cluster errors.
	CodeTransport   = "TRANSPORT_ERROR"
	CodeHTTP        = "HTTP_ERROR"
	CodeBulkPartial = "BULK_PARTIAL"
	CodeBulkReject  = "BULK_REJECTED"
	CodeQuery       = "QUERY_ERROR"
	CodeParse       = "PARSE_ERROR"

	// Local errors.
	CodeInternal  = "INTERNAL_ERROR"
	CodeTimeout   = "TIMEOUT"
	CodeDataset   = "DATASET_ERROR"
	CodeIngestion = "INGESTION_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Status  int               `json:"status,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may resubmit the same request.
// Failed bulk responses qualify, whether partial or rejected with a non-2xx
// status. Transport errors propagate unmodified.
func (e *AppError) Retryable() bool {
	return e.Code == CodeBulkPartial || e.Code == CodeBulkReject
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithStatus records the HTTP status returned by the cluster.
func (e *AppError) WithStatus(status int) *AppError {
	e.Status = status
	return e
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// TransportError creates a network level error. The cause stays reachable
// through errors.Is / errors.As.
func TransportError(operation string, err error) *AppError {
	return Wrap(CodeTransport, fmt.Sprintf("%s failed", operation), err)
}

// HTTPError creates an error for a non-2xx cluster response.
func HTTPError(operation string, status int, reason string) *AppError {
	msg := fmt.Sprintf("%s returned HTTP %d", operation, status)
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	err := New(CodeHTTP, msg).WithStatus(status)
	if status == http.StatusNotFound {
		err.Code = CodeNotFound
	}
	return err
}

// BulkPartialError creates an error for a bulk response reporting errors=true.
func BulkPartialError(failed, total int) *AppError {
	return New(CodeBulkPartial, fmt.Sprintf("%d of %d bulk actions failed", failed, total))
}

// BulkRejectedError creates an error for a bulk request answered with a
// non-2xx status. Unlike HTTPError it keeps its code for every status.
func BulkRejectedError(status int, reason string) *AppError {
	msg := fmt.Sprintf("bulk returned HTTP %d", status)
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return New(CodeBulkReject, msg).WithStatus(status)
}

// QueryError creates an error for an error-bearing search response.
func QueryError(message string, err error) *AppError {
	return Wrap(CodeQuery, message, err)
}

// ParseError creates an error for a malformed cluster response.
func ParseError(message string, err error) *AppError {
	return Wrap(CodeParse, message, err)
}

// DatasetError creates an error for unreadable benchmark data.
func DatasetError(message string, err error) *AppError {
	return Wrap(CodeDataset, message, err)
}

// IngestionError creates a fatal ingestion error.
func IngestionError(message string, err error) *AppError {
	return Wrap(CodeIngestion, message, err)
}

// TimeoutError creates a timeout error for a specific operation.
func TimeoutError(operation string) *AppError {
	message := "operation timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeTimeout, message)
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool {
	return CodeOf(err) == CodeValidation
}

// IsTransport checks if error is a network level error.
func IsTransport(err error) bool {
	return CodeOf(err) == CodeTransport
}

// IsBulkPartial checks if error is a partial bulk failure.
func IsBulkPartial(err error) bool {
	return CodeOf(err) == CodeBulkPartial
}

// IsBulkRejected checks if error is a bulk request refused with a non-2xx status.
func IsBulkRejected(err error) bool {
	return CodeOf(err) == CodeBulkReject
}

// IsParse checks if error is a malformed response error.
func IsParse(err error) bool {
	return CodeOf(err) == CodeParse
}

// IsRetryable checks if the error allows resubmitting the same request.
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable()
	}
	return false
}
