package syncengine

import (
	"errors"
	"fmt"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrReadOnly      = errors.New("read-only: a version preview is active")
	ErrRemoteFailure = errors.New("remote failure")
	ErrCorruptData   = errors.New("corrupt data")
	ErrNothingToUndo = errors.New("nothing to undo")
)

// MutationError carries the failure kind (one of the sentinels above) and the
// underlying cause. errors.Is matches both.
type MutationError struct {
	Op   string
	Kind error
	Err  error
}

func (e *MutationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *MutationError) Is(target error) bool {
	return target == e.Kind
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

func newMutationError(op string, kind, cause error) *MutationError {
	return &MutationError{Op: op, Kind: kind, Err: cause}
}

// classifyLocal maps an error from a local rule evaluation to its kind.
func classifyLocal(err error) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, catalog.ErrCorruptData):
		return ErrCorruptData
	default:
		return ErrValidation
	}
}
