// Package engine drives plans to completion against real executors,
// enforcing timeouts, classifying failures, and replanning mid-run when an
// executor reports that the situation has changed.
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/flexinfer/goalflow/internal/catalog"
	"github.com/flexinfer/goalflow/pkg/types"
)

// ExecContext is what an executor receives: a read snapshot of the world
// state, the action being executed, and the opaque environment bundle the
// caller threads through every invocation (model clients, buffers, keys).
// Executors must not assume they can mutate the state; they return
// descriptions of desired changes instead.
type ExecContext struct {
	RunID  string
	Action types.Action
	State  types.State
	Env    map[string]any
}

// Result is what an executor returns on success.
type Result struct {
	// Metadata is a free-form diagnostic payload recorded in the trace.
	Metadata map[string]any

	// StateUpdates is an additional state delta beyond the action's static
	// effects, used when the real outcome (e.g. a measured confidence) is
	// only known after running the step.
	StateUpdates types.Partial

	// Replan signals that the just-observed state change may invalidate
	// the remainder of the current plan.
	Replan bool
}

// Executor is the external implementation of one agent's real work. The
// engine passes ctx for cooperative cancellation; an executor that ignores
// it keeps running detached after its deadline.
type Executor func(ctx context.Context, ec *ExecContext) (*Result, error)

// Registry maps each agent id to its executor.
type Registry map[string]Executor

// Validate checks the registry exhaustively against the catalog: every
// agent id any action references must have an executor. Missing
// registrations surface at startup, not mid-run.
func (r Registry) Validate(cat *catalog.Catalog) error {
	var missing []string
	for _, id := range cat.AgentIDs() {
		if _, ok := r[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("engine: no executor registered for agents %v", missing)
	}
	return nil
}
