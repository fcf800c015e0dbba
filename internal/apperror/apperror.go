package apperror

import (
	"errors"
	"fmt"
)

// Error kinds shared by every service. Handlers translate them to HTTP statuses.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("unique constraint violation")
	ErrNoFieldsToUpdate  = errors.New("no fields to update")
	ErrPersistence       = errors.New("persistence failure")
	ErrMissingCredential = errors.New("api key required")
	ErrInvalidCredential = errors.New("invalid api key")
	ErrInsufficientRole  = errors.New("insufficient role")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// ServiceError carries a stable operation.reason code together with the error kind and its cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ServiceError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.kind != nil {
		unwrapped = append(unwrapped, e.kind)
	}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the error kind, or nil for an unclassified failure.
func (e *ServiceError) Kind() error {
	return e.kind
}

// New builds a ServiceError coded as "<operation>.<reason>".
func New(operation, reason string, kind, cause error) error {
	return &ServiceError{
		code: fmt.Sprintf("%s.%s", operation, reason),
		kind: kind,
		err:  cause,
	}
}

// Wrap re-codes err under "<operation>.<reason>" and keeps the kind of the wrapped ServiceError.
func Wrap(operation, reason string, err error) error {
	var kind error
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		kind = serviceErr.Kind()
	}
	return New(operation, reason, kind, err)
}

// CodeOf returns the service code carried by err, if any.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

// ConflictError names the field and value that collided with another record.
type ConflictError struct {
	Field string
	Value any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s '%v' already exists", e.Field, e.Value)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Detail returns the innermost client-facing message of err, skipping service codes.
func Detail(err error) string {
	for err != nil {
		var serviceErr *ServiceError
		if !errors.As(err, &serviceErr) {
			return err.Error()
		}
		if serviceErr.err == nil {
			if serviceErr.kind != nil {
				return serviceErr.kind.Error()
			}
			return serviceErr.code
		}
		err = serviceErr.err
	}
	return ""
}
