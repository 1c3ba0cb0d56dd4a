package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flexinfer/goalflow/pkg/types"
)

// ErrExecutorTimeout marks an executor that did not settle within the
// per-agent deadline. Classified as non-critical unless wrapped critical.
var ErrExecutorTimeout = errors.New("executor timeout")

// CriticalError marks an executor failure that must abort the whole run.
type CriticalError struct {
	Err error
}

func (e *CriticalError) Error() string {
	return "critical: " + e.Err.Error()
}

func (e *CriticalError) Unwrap() error { return e.Err }

// Critical wraps err so the engine aborts the run instead of skipping.
func Critical(err error) error {
	if err == nil {
		return nil
	}
	return &CriticalError{Err: err}
}

// IsCritical classifies an executor failure. Typed wrapping is preferred;
// a literal "critical" in the message is honored for executors that only
// return flat errors.
func IsCritical(err error) bool {
	var ce *CriticalError
	if errors.As(err, &ce) {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "critical")
}

// PreconditionViolation reports a plan action whose precondition does not
// hold in the state accumulated at its position. This indicates a
// programming or configuration error and is always fatal.
type PreconditionViolation struct {
	Action string
	Field  string
}

func (e *PreconditionViolation) Error() string {
	return fmt.Sprintf("precondition violation: action %q requires %s", e.Action, e.Field)
}

// RunError carries the failing phase and, for execution-phase failures, the
// partial trace accumulated before the abort.
type RunError struct {
	Phase string // "planning" or "execution"
	Err   error
	Trace *types.Trace // partial trace for execution failures; nil for planning
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
