package engine

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// maxWatchExpressionLength limits expression size for security.
const maxWatchExpressionLength = 4096

// WatchSet holds replan watch conditions: boolean expressions over the
// world state, evaluated after every state merge. A condition that flips
// true forces a replan from the current state (e.g. "confidence < 0.5").
// Expressions are compiled once and cached for reuse.
type WatchSet struct {
	expressions []string
	compiled    map[string]*vm.Program
	mu          sync.RWMutex
}

// NewWatchSet compiles the given expressions eagerly so malformed watches
// fail at startup rather than mid-run.
func NewWatchSet(expressions []string) (*WatchSet, error) {
	w := &WatchSet{
		expressions: append([]string(nil), expressions...),
		compiled:    make(map[string]*vm.Program, len(expressions)),
	}
	for _, e := range expressions {
		if len(e) > maxWatchExpressionLength {
			return nil, fmt.Errorf("watch expression exceeds maximum length of %d characters", maxWatchExpressionLength)
		}
		prog, err := expr.Compile(e, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("compile watch expression %q: %w", e, err)
		}
		w.compiled[e] = prog
	}
	return w, nil
}

// Len returns the number of watch conditions.
func (w *WatchSet) Len() int {
	if w == nil {
		return 0
	}
	return len(w.expressions)
}

// Fired evaluates every condition against the state environment and returns
// the expressions that evaluated true. Evaluation errors are reported, not
// swallowed: a watch that cannot be evaluated should not silently stop
// guarding the run.
func (w *WatchSet) Fired(env map[string]any) ([]string, error) {
	if w.Len() == 0 {
		return nil, nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	var fired []string
	for _, e := range w.expressions {
		result, err := expr.Run(w.compiled[e], env)
		if err != nil {
			return nil, fmt.Errorf("evaluate watch expression %q: %w", e, err)
		}
		if b, ok := result.(bool); ok && b {
			fired = append(fired, e)
		}
	}
	return fired, nil
}
