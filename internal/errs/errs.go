// Package errs defines the error taxonomy shared by the mapping, job and
// export packages. Producers wrap these sentinels with fmt.Errorf("...: %w");
// callers classify with errors.Is.
package errs

import "errors"

var (
	// ErrValidation marks bad caller input (unknown format, missing field).
	// It is always rejected synchronously and never enters a job.
	ErrValidation = errors.New("validation error")

	// ErrPreconditionFailed marks a write whose referential precondition does
	// not hold, e.g. a value mapping without a parent attribute mapping.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNotFound marks an unknown job id, mapping id or missing artifact file.
	ErrNotFound = errors.New("not found")

	// ErrNotReady marks an artifact request for a job that has not completed.
	ErrNotReady = errors.New("not ready")

	// ErrTransientIO marks catalog fetch or artifact write failures during a
	// running job. Jobs are not retried; the error ends up on the descriptor.
	ErrTransientIO = errors.New("transient i/o error")
)

// IsValidation reports whether err is (or wraps) ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsPreconditionFailed reports whether err is (or wraps) ErrPreconditionFailed.
func IsPreconditionFailed(err error) bool { return errors.Is(err, ErrPreconditionFailed) }

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsNotReady reports whether err is (or wraps) ErrNotReady.
func IsNotReady(err error) bool { return errors.Is(err, ErrNotReady) }
