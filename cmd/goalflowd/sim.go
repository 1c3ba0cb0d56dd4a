package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/flexinfer/goalflow/internal/catalog"
	"github.com/flexinfer/goalflow/internal/engine"
)

// simulatedRegistry builds an executor for every agent the catalog names.
// Each executor sleeps for the configured delay and then succeeds, letting
// the engine apply the action's declared effects. Useful for exercising
// planning, tracing, and the event stream without real agents.
func simulatedRegistry(cat *catalog.Catalog, delay time.Duration, logger *slog.Logger) engine.Registry {
	registry := engine.Registry{}
	for _, agentID := range cat.AgentIDs() {
		id := agentID
		registry[id] = func(ctx context.Context, ec *engine.ExecContext) (*engine.Result, error) {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			logger.Debug("simulated agent executed",
				slog.String("agent_id", id),
				slog.String("action", ec.Action.Name),
				slog.String("run_id", ec.RunID),
			)
			return &engine.Result{
				Metadata: map[string]any{"simulated": true},
			}, nil
		}
	}
	return registry
}
