package tasks

import (
	"errors"
	"fmt"

	"github.com/desertthunder/ncx/internal/shared"
)

// FallbackError aggregates the REST failure and the SOAP failure that followed it.
type FallbackError struct {
	Primary   error
	Secondary error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("REST failed: %v; SOAP fallback failed: %v", e.Primary, e.Secondary)
}

// Is matches [shared.ErrFallbackFailed].
func (e *FallbackError) Is(target error) bool { return target == shared.ErrFallbackFailed }

// Unwrap exposes both causes to [errors.Is] and [errors.As].
func (e *FallbackError) Unwrap() []error {
	return []error{e.Primary, e.Secondary}
}

// Result holds the outcome of a primary attempt.
type Result[T any] struct {
	value T
	err   error
}

// Attempt runs the primary operation.
func Attempt[T any](fn func() (T, error)) Result[T] {
	v, err := fn()
	return Result[T]{value: v, err: err}
}

// OrElse runs fallback only when the primary failed. When fallback is nil or also fails, the error
// is a [FallbackError] carrying both causes.
//
// A primary that reports [shared.ErrCreatedWithoutID] is returned as is: the server accepted the
// write, so running the fallback would create the entity a second time.
func (r Result[T]) OrElse(fallback func() (T, error)) (T, error) {
	if r.err == nil {
		return r.value, nil
	}
	var zero T
	if errors.Is(r.err, shared.ErrCreatedWithoutID) {
		return zero, r.err
	}
	if fallback == nil {
		return zero, &FallbackError{Primary: r.err, Secondary: errNoFallback}
	}
	v, err := fallback()
	if err != nil {
		return zero, &FallbackError{Primary: r.err, Secondary: err}
	}
	return v, nil
}

// UsedFallback reports whether OrElse would run the fallback.
func (r Result[T]) UsedFallback() bool {
	return r.err != nil && !errors.Is(r.err, shared.ErrCreatedWithoutID)
}

var errNoFallback = errors.New("no SOAP client configured")
