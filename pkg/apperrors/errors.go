package apperrors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrSelfParent     = errors.New("supplier cannot be its own parent")
	ErrCycleDetected  = errors.New("circular supplier hierarchy detected")
	ErrParentNotFound = errors.New("parent supplier not found")
	ErrInvalidFactor  = errors.New("invalid emission factor")
	ErrInvalidInput   = errors.New("invalid input")
)

// IsStructuralViolation reports whether err rejects a hierarchy mutation.
func IsStructuralViolation(err error) bool {
	return errors.Is(err, ErrSelfParent) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrParentNotFound)
}
