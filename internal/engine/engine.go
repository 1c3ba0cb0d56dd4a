package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/flexinfer/goalflow/internal/catalog"
	"github.com/flexinfer/goalflow/internal/metrics"
	"github.com/flexinfer/goalflow/internal/planner"
	"github.com/flexinfer/goalflow/internal/runstore"
	"github.com/flexinfer/goalflow/pkg/types"
)

// Defaults for engine configuration.
const (
	DefaultAgentTimeout = 10 * time.Second
	DefaultMaxReplans   = 10
)

// Config holds engine configuration.
type Config struct {
	// AgentTimeout is the maximum time an executor may run before the
	// engine treats the action as failed (default: 10s).
	AgentTimeout time.Duration

	// MaxPlanIterations caps the planner's node expansions
	// (0 = planner default).
	MaxPlanIterations int

	// MaxReplans caps mid-run replans so a pathological executor cannot
	// oscillate forever (default: 10).
	MaxReplans int

	// WatchExpressions are boolean expressions over the world state that
	// force a replan when they evaluate true after a state merge.
	WatchExpressions []string
}

// Hooks are caller-supplied observer callbacks, invoked before dispatch and
// after settlement. They decouple progress rendering from the engine.
type Hooks struct {
	OnAgentStart func(action types.Action, record *types.AgentRecord)
	OnAgentEnd   func(action types.Action, record *types.AgentRecord)
}

// Engine executes plans sequentially: one action at a time, in plan order.
// The world state is owned exclusively by the engine for the duration of a
// run; executors receive read snapshots and return change descriptions.
type Engine struct {
	catalog  *catalog.Catalog
	planner  *planner.Planner
	registry Registry
	store    runstore.RunStore
	watches  *WatchSet
	cfg      Config
	hooks    Hooks
	logger   *slog.Logger
	tracer   oteltrace.Tracer
}

// New creates an engine. The registry is validated exhaustively against the
// catalog's agent ids, and watch expressions are compiled, so misconfigured
// deployments fail here rather than mid-run. The store may be nil for
// embedded use; events and trace snapshots are then not persisted.
func New(cat *catalog.Catalog, reg Registry, store runstore.RunStore, cfg *Config, hooks Hooks, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = DefaultAgentTimeout
	}
	if c.MaxReplans <= 0 {
		c.MaxReplans = DefaultMaxReplans
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := reg.Validate(cat); err != nil {
		return nil, err
	}
	watches, err := NewWatchSet(c.WatchExpressions)
	if err != nil {
		return nil, err
	}

	return &Engine{
		catalog:  cat,
		planner:  planner.New(cat, &planner.Config{MaxIterations: c.MaxPlanIterations}, logger),
		registry: reg,
		store:    store,
		watches:  watches,
		cfg:      c,
		hooks:    hooks,
		logger:   logger,
		tracer:   otel.Tracer("goalflow/engine"),
	}, nil
}

// Execute plans from start toward goal and drives the plan to completion.
// The returned trace is the run's sole artifact; once returned it is
// read-only. Planning failures return a *RunError with Phase "planning" and
// no trace; critical execution failures return the partial trace both as
// the first return value and attached to the *RunError.
func (e *Engine) Execute(ctx context.Context, runID string, start types.State, goal types.Partial, env map[string]any) (*types.Trace, error) {
	if runID == "" {
		runID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(ctx, "engine.execute",
		oteltrace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	began := time.Now().UTC()
	plan, err := e.plan(ctx, runID, start, goal, "initial")
	if err != nil {
		return nil, &RunError{Phase: "planning", Err: err}
	}

	trace := &types.Trace{
		RunID:     runID,
		StartedAt: began,
		Records:   []types.AgentRecord{},
	}
	state := start
	replans := 0

	for idx := 0; idx < len(plan.Actions); idx++ {
		action := plan.Actions[idx]

		if err := e.checkShape(&action); err != nil {
			return e.abort(ctx, trace, state, replans, err)
		}

		record := e.beginRecord(ctx, runID, &action)
		trace.Records = append(trace.Records, *record)
		slot := len(trace.Records) - 1

		res, execErr := e.dispatch(ctx, &action, state, runID, env)

		switch {
		case execErr == nil:
			delta := action.Effects.Clone()
			for k, v := range res.StateUpdates {
				delta[k] = v
			}
			state = state.With(delta)
			e.settleRecord(ctx, runID, &action, record, types.AgentStatusCompleted, res.Metadata, "")
			e.emit(ctx, runID, &types.EventInput{
				Type:    types.EventTypeStateChange,
				AgentID: action.AgentID,
				Data:    types.StateChangeEvent{Action: action.Name, Delta: delta},
			})

		case errors.Is(execErr, context.Canceled):
			e.settleRecord(ctx, runID, &action, record, types.AgentStatusFailed, nil, "run cancelled")
			trace.Records[slot] = *record
			return e.finish(ctx, trace, state, replans), &RunError{Phase: "execution", Err: execErr, Trace: trace}

		case IsCritical(execErr):
			e.settleRecord(ctx, runID, &action, record, types.AgentStatusFailed, nil, execErr.Error())
			trace.Records[slot] = *record
			return e.abort(ctx, trace, state, replans, execErr)

		default:
			// Non-critical: record the skip and move on without applying
			// this action's effects.
			e.settleRecord(ctx, runID, &action, record, types.AgentStatusSkipped, nil, execErr.Error())
			trace.Records[slot] = *record
			e.logger.Warn("agent skipped",
				slog.String("run_id", runID),
				slog.String("action", action.Name),
				slog.String("error", execErr.Error()),
			)
			continue
		}

		trace.Records[slot] = *record

		trigger := ""
		if res.Replan {
			trigger = "executor"
		} else if fired := e.watchesFired(runID, state); len(fired) > 0 {
			trigger = "watch"
		}
		if trigger == "" {
			continue
		}

		replans++
		if replans > e.cfg.MaxReplans {
			return e.abort(ctx, trace, state, replans,
				fmt.Errorf("critical: replan limit of %d exceeded", e.cfg.MaxReplans))
		}

		discarded := len(plan.Actions) - idx - 1
		fresh, err := e.plan(ctx, runID, state, goal, trigger)
		if err != nil {
			return e.abort(ctx, trace, state, replans, err)
		}

		metrics.ReplansTotal.WithLabelValues(trigger).Inc()
		e.emit(ctx, runID, &types.EventInput{
			Type: types.EventTypeReplan,
			Data: types.ReplanEvent{
				Trigger:   trigger,
				Discarded: discarded,
				Spliced:   fresh.Len(),
				Replans:   replans,
			},
		})
		e.logger.Info("replanned",
			slog.String("run_id", runID),
			slog.String("trigger", trigger),
			slog.Int("discarded", discarded),
			slog.Int("spliced", fresh.Len()),
		)

		plan = fresh
		idx = -1
	}

	return e.finish(ctx, trace, state, replans), nil
}

// plan invokes the planner and emits the resulting plan event.
func (e *Engine) plan(ctx context.Context, runID string, from types.State, goal types.Partial, trigger string) (*types.Plan, error) {
	_, span := e.tracer.Start(ctx, "engine.plan",
		oteltrace.WithAttributes(attribute.String("run.id", runID), attribute.String("trigger", trigger)))
	defer span.End()

	p, err := e.planner.Plan(from, goal)
	if err != nil {
		e.emit(ctx, runID, &types.EventInput{
			Type: types.EventTypeError,
			Data: map[string]any{"phase": "planning", "error": err.Error()},
		})
		return nil, err
	}
	e.emit(ctx, runID, &types.EventInput{
		Type: types.EventTypePlan,
		Data: map[string]any{
			"trigger": trigger,
			"actions": planner.Describe(p),
			"cost":    p.TotalCost(),
		},
	})
	return p, nil
}

// checkShape verifies the plan action still matches the catalog entry.
// A drifted or unknown action is a configuration error, always fatal.
func (e *Engine) checkShape(action *types.Action) error {
	current, ok := e.catalog.Lookup(action.Name)
	if !ok {
		return &PreconditionViolation{Action: action.Name, Field: "(not in catalog)"}
	}
	for field, want := range current.Preconditions {
		got, present := action.Preconditions[field]
		if !present || !got.Equal(want) {
			return &PreconditionViolation{Action: action.Name, Field: field + "=" + want.String()}
		}
	}
	if len(current.Preconditions) != len(action.Preconditions) {
		return &PreconditionViolation{Action: action.Name, Field: "(precondition shape)"}
	}
	return nil
}

// dispatch races the registered executor against the per-agent timeout.
// A timed-out executor is not forcibly stopped: it keeps running detached
// and its eventual result is discarded. ctx carries the deadline so
// well-behaved executors can bail out cooperatively.
func (e *Engine) dispatch(ctx context.Context, action *types.Action, state types.State, runID string, env map[string]any) (*Result, error) {
	exec := e.registry[action.AgentID]

	dispatchCtx, span := e.tracer.Start(ctx, "engine.dispatch",
		oteltrace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("action", action.Name),
			attribute.String("agent.id", action.AgentID),
		))
	defer span.End()

	execCtx, cancel := context.WithTimeout(dispatchCtx, e.cfg.AgentTimeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := exec(execCtx, &ExecContext{
			RunID:  runID,
			Action: *action,
			State:  state,
			Env:    env,
		})
		if res == nil {
			res = &Result{}
		}
		ch <- outcome{res, err}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			metrics.AgentTimeouts.WithLabelValues(action.AgentID).Inc()
			return nil, fmt.Errorf("%w after %s", ErrExecutorTimeout, e.cfg.AgentTimeout)
		}
		return nil, execCtx.Err()
	}
}

func (e *Engine) beginRecord(ctx context.Context, runID string, action *types.Action) *types.AgentRecord {
	record := &types.AgentRecord{
		ID:        uuid.NewString(),
		AgentID:   action.AgentID,
		Name:      action.Name,
		StartedAt: time.Now().UTC(),
		Status:    types.AgentStatusRunning,
	}
	if e.hooks.OnAgentStart != nil {
		e.hooks.OnAgentStart(*action, record)
	}
	e.emit(ctx, runID, &types.EventInput{
		Type:    types.EventTypeAgentStatus,
		AgentID: action.AgentID,
		Data: types.AgentStatusEvent{
			RecordID: record.ID,
			Action:   action.Name,
			Status:   types.AgentStatusRunning,
		},
	})
	return record
}

func (e *Engine) settleRecord(ctx context.Context, runID string, action *types.Action, record *types.AgentRecord, status types.AgentStatus, metadata map[string]any, errMsg string) {
	finished := time.Now().UTC()
	record.FinishedAt = &finished
	record.Status = status
	record.Metadata = metadata
	record.Error = errMsg

	metrics.AgentsTotal.WithLabelValues(string(status)).Inc()
	metrics.AgentDuration.WithLabelValues(string(status)).Observe(finished.Sub(record.StartedAt).Seconds())

	if e.hooks.OnAgentEnd != nil {
		e.hooks.OnAgentEnd(*action, record)
	}
	e.emit(ctx, runID, &types.EventInput{
		Type:    types.EventTypeAgentStatus,
		AgentID: action.AgentID,
		Data: types.AgentStatusEvent{
			RecordID: record.ID,
			Action:   action.Name,
			Status:   status,
			Error:    errMsg,
		},
	})
}

func (e *Engine) watchesFired(runID string, state types.State) []string {
	fired, err := e.watches.Fired(state.Env())
	if err != nil {
		e.logger.Error("watch evaluation failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		return nil
	}
	return fired
}

func (e *Engine) finish(ctx context.Context, trace *types.Trace, state types.State, replans int) *types.Trace {
	finished := time.Now().UTC()
	trace.FinishedAt = &finished
	trace.FinalState = state
	trace.Replans = replans
	if e.store != nil {
		if err := e.store.PutTrace(ctx, trace.RunID, trace); err != nil && !errors.Is(err, runstore.ErrRunNotFound) {
			e.logger.Error("store trace failed", slog.String("run_id", trace.RunID), slog.String("error", err.Error()))
		}
	}
	return trace
}

func (e *Engine) abort(ctx context.Context, trace *types.Trace, state types.State, replans int, err error) (*types.Trace, error) {
	e.emit(ctx, trace.RunID, &types.EventInput{
		Type: types.EventTypeError,
		Data: map[string]any{"phase": "execution", "error": err.Error()},
	})
	t := e.finish(ctx, trace, state, replans)
	return t, &RunError{Phase: "execution", Err: err, Trace: t}
}

func (e *Engine) emit(ctx context.Context, runID string, input *types.EventInput) {
	metrics.EventsTotal.WithLabelValues(string(input.Type)).Inc()
	if e.store == nil {
		return
	}
	if _, err := e.store.AppendEvent(ctx, runID, input); err != nil && !errors.Is(err, runstore.ErrRunNotFound) {
		e.logger.Error("emit event failed",
			slog.String("run_id", runID),
			slog.String("type", string(input.Type)),
			slog.String("error", err.Error()),
		)
	}
}
