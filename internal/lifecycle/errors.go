// Package lifecycle defines the error taxonomy shared by the scheduling,
// publishing and tracking components.
//
// NOTE: This lives outside those packages to avoid import cycles between the
// scheduler, publisher and HTTP handlers.
package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both unknown and not-owned entities. Callers can
	// never distinguish the two, so ownership is not leaked.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means the operation is not valid for the draft's
	// current lifecycle state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrPastTime means the resolved schedule time is not strictly in the future.
	ErrPastTime = errors.New("schedule time must be in the future")

	// ErrNoPlatformClient means the owner has no connected, active client for
	// the draft's platform.
	ErrNoPlatformClient = errors.New("no connected platform client")

	// ErrUnsupported means the platform lacks the requested capability.
	ErrUnsupported = errors.New("platform capability not supported")
)

// PlatformError wraps a downstream publish or metrics failure. It is
// retryable: the draft or post it concerns is left unchanged.
type PlatformError struct {
	Platform string
	Op       string
	Err      error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform %s: %s failed: %v", e.Platform, e.Op, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// NewPlatformError wraps err as a retryable platform failure.
func NewPlatformError(platform, op string, err error) *PlatformError {
	return &PlatformError{Platform: platform, Op: op, Err: err}
}

// IsPlatformError reports whether err is (or wraps) a PlatformError.
func IsPlatformError(err error) bool {
	var pe *PlatformError
	return errors.As(err, &pe)
}
