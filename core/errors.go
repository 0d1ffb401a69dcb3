package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotFound             = errors.New("not found")
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	ErrEmbeddingService     = errors.New("embedding service error")
	ErrIndexUnavailable     = errors.New("vector index unavailable")
	ErrIndex                = errors.New("vector index error")
	ErrTimeout              = errors.New("operation timed out")
)

// ServiceError describes a failed call to an external collaborator.
// Kind is one of the package sentinels; errors.Is matches both Kind and Err.
type ServiceError struct {
	Op     string
	Key    string
	Status int
	Kind   error
	Err    error
}

func (e *ServiceError) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg += fmt.Sprintf(" [key=%s]", e.Key)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewServiceError builds a ServiceError of the given kind.
func NewServiceError(op string, kind, err error) *ServiceError {
	return &ServiceError{Op: op, Kind: kind, Err: err}
}

// Unavailable wraps a transport failure. Timeouts additionally match ErrTimeout.
func Unavailable(op string, kind, err error) *ServiceError {
	if IsTimeout(err) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &ServiceError{Op: op, Kind: kind, Err: err}
}

// StatusError reports a call that completed with a non-success status.
func StatusError(op string, kind error, status int, body string) *ServiceError {
	var err error
	if body != "" {
		err = errors.New(truncate(body, 200))
	}
	return &ServiceError{Op: op, Kind: kind, Status: status, Err: err}
}

func WithKey(err *ServiceError, key string) *ServiceError {
	err.Key = key
	return err
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Recoverable reports whether err came from an embedding or index call.
func Recoverable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrEmbeddingService) ||
		errors.Is(err, ErrIndexUnavailable) ||
		errors.Is(err, ErrIndex)
}

// Invalid returns an ErrInvalidArgument carrying msg.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
