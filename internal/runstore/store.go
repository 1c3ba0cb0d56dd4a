// Package runstore provides run state persistence and event streaming.
package runstore

import (
	"context"
	"errors"

	"github.com/flexinfer/goalflow/pkg/types"
)

// Common errors returned by RunStore implementations.
var (
	ErrRunNotFound   = errors.New("run not found")
	ErrTraceNotFound = errors.New("trace not found")
)

// RunStore persists run metadata, the execution trace, and the append-only
// event stream observers consume. Plans are deliberately not persisted: a
// process restart loses in-flight runs. Implementations must be safe for
// concurrent use.
type RunStore interface {
	// Run lifecycle
	CreateRun(ctx context.Context, name string) (string, error)
	GetRunMeta(ctx context.Context, runID string) (*types.RunMeta, error)
	ListRuns(ctx context.Context) ([]string, error)

	// UpdateRunStatus transitions the run. Moving to running stamps
	// StartedAt; moving to a terminal status stamps FinishedAt.
	UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error

	// Trace snapshots. The engine writes the trace as it grows; readers
	// always observe a consistent snapshot.
	PutTrace(ctx context.Context, runID string, trace *types.Trace) error
	GetTrace(ctx context.Context, runID string) (*types.Trace, error)

	// Event streaming
	// AppendEvent adds an event to the run's event stream and returns the
	// created event.
	AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error)

	// GetEventsSince returns events after the given event ID (exclusive).
	// If lastEventID is empty, returns all events from the beginning.
	GetEventsSince(ctx context.Context, runID string, lastEventID string) ([]*types.Event, error)

	// Subscribe returns a channel that receives new events for the run.
	// The cleanup function must be called when done to release resources.
	Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error)

	// Diagnostics
	AdapterInfo(ctx context.Context) (map[string]any, error)

	// Cleanup
	Close() error
}

// Config holds configuration for RunStore implementations.
type Config struct {
	// Maximum number of events to keep per run (ring buffer)
	EventMaxLen int64

	// TTL for runs in seconds (0 = no expiry)
	TTLSeconds int64
}

// DefaultConfig returns sensible defaults for RunStore configuration.
func DefaultConfig() *Config {
	return &Config{
		EventMaxLen: 5000,
		TTLSeconds:  7 * 24 * 60 * 60, // 7 days
	}
}
