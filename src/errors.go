package src

import "github.com/pkg/errors"

var (
	ErrNumericalDegeneracy = errors.New("numerical degeneracy in membership weights")
	ErrConfiguration       = errors.New("invalid optimizer configuration")
	ErrEmptyDataSet        = errors.New("empty data set")
	ErrNotInitialized      = errors.New("optimizer is not initialized")
	ErrOptimizerFailed     = errors.New("optimizer stopped after a fatal error")
)

// failedError is returned by every call on an optimizer that hit a fatal
// error. It matches ErrOptimizerFailed and unwraps to the original cause.
type failedError struct {
	cause error
}

func (e *failedError) Error() string {
	return ErrOptimizerFailed.Error() + ": " + e.cause.Error()
}

func (e *failedError) Is(target error) bool {
	return target == ErrOptimizerFailed
}

func (e *failedError) Unwrap() error {
	return e.cause
}
