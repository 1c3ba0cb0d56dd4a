package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/flexinfer/goalflow/internal/metrics"
	"github.com/flexinfer/goalflow/internal/runstore"
	"github.com/flexinfer/goalflow/pkg/types"
)

// Service manages run lifecycle on top of the engine: it creates runs in
// the store, executes them in the background, tracks cancellation handles,
// and records run-level status and metrics. The HTTP layer talks to the
// service, never to the engine directly.
type Service struct {
	engine *Engine
	store  runstore.RunStore
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewService creates a run service.
func NewService(engine *Engine, store runstore.RunStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:  engine,
		store:   store,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// StartRun creates a run and begins executing it in the background. The
// returned run id can be used to stream events or fetch the trace.
func (s *Service) StartRun(ctx context.Context, name string, start types.State, goal types.Partial, env map[string]any) (string, error) {
	runID, err := s.store.CreateRun(ctx, name)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()

	go s.run(runCtx, runID, start, goal, env)

	return runID, nil
}

// CancelRun cancels a running run. Cancelling an already-finished run is a
// no-op.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	if _, err := s.store.GetRunMeta(ctx, runID); err != nil {
		return err
	}
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (s *Service) run(ctx context.Context, runID string, start types.State, goal types.Partial, env map[string]any) {
	defer func() {
		s.mu.Lock()
		delete(s.cancels, runID)
		s.mu.Unlock()
	}()

	began := time.Now()
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	s.setStatus(ctx, runID, types.RunStatusPlanning, "")
	s.setStatus(ctx, runID, types.RunStatusRunning, "")

	trace, err := s.engine.Execute(ctx, runID, start, goal, env)

	var status types.RunStatus
	var errMsg string
	switch {
	case err == nil && trace.FinalState.Satisfies(goal):
		status = types.RunStatusSucceeded
	case err == nil:
		// Plan exhausted but skipped actions left the goal unmet.
		status = types.RunStatusFailed
		errMsg = "goal not satisfied after plan exhaustion"
	case errors.Is(err, context.Canceled):
		status = types.RunStatusCancelled
		errMsg = "cancelled"
	default:
		status = types.RunStatusFailed
		errMsg = err.Error()
	}

	// The run context is cancelled by CancelRun; the terminal status must
	// still reach the store so subscriber streams end.
	s.setStatus(context.WithoutCancel(ctx), runID, status, errMsg)
	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	metrics.RunDuration.WithLabelValues(string(status)).Observe(time.Since(began).Seconds())

	s.logger.Info("run finished",
		slog.String("run_id", runID),
		slog.String("status", string(status)),
		slog.Duration("duration", time.Since(began)),
	)
}

func (s *Service) setStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) {
	// Append before transitioning: a terminal transition ends subscriber
	// streams, and the final status event must still reach them.
	if _, err := s.store.AppendEvent(ctx, runID, &types.EventInput{
		Type: types.EventTypeRunStatus,
		Data: types.RunStatusEvent{Status: status, Error: errMsg},
	}); err != nil {
		s.logger.Error("emit run status failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.store.UpdateRunStatus(ctx, runID, status, errMsg); err != nil {
		s.logger.Error("update run status failed",
			slog.String("run_id", runID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
	metrics.EventsTotal.WithLabelValues(string(types.EventTypeRunStatus)).Inc()
}
