package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/flexinfer/goalflow/internal/catalog"
	"github.com/flexinfer/goalflow/pkg/types"
)

func mustCatalog(t *testing.T, fields []types.FieldSpec, actions []types.Action) *catalog.Catalog {
	t.Helper()
	schema, err := types.NewSchema(fields...)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	cat, err := catalog.New(schema, actions)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cat
}

func okExecutor(ctx context.Context, ec *ExecContext) (*Result, error) {
	return &Result{}, nil
}

// Two independent actions, both needed for the goal.
func pairCatalog(t *testing.T) *catalog.Catalog {
	return mustCatalog(t,
		[]types.FieldSpec{
			{Name: "left", Kind: types.KindBool},
			{Name: "right", Kind: types.KindBool},
		},
		[]types.Action{
			{Name: "do_left", AgentID: "lefty", Cost: 1,
				Effects: types.Partial{"left": types.Bool(true)}},
			{Name: "do_right", AgentID: "righty", Cost: 1,
				Effects: types.Partial{"right": types.Bool(true)}},
		})
}

func pairStart() types.State {
	return types.StateOf(types.Partial{
		"left": types.Bool(false), "right": types.Bool(false),
	})
}

var pairGoal = types.Partial{
	"left": types.Bool(true), "right": types.Bool(true),
}

func TestExecuteSuccess(t *testing.T) {
	cat := pairCatalog(t)
	reg := Registry{"lefty": okExecutor, "righty": okExecutor}

	eng, err := New(cat, reg, nil, nil, Hooks{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	trace, err := eng.Execute(context.Background(), "run-1", pairStart(), pairGoal, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if trace.RunID != "run-1" {
		t.Errorf("RunID = %q", trace.RunID)
	}
	if len(trace.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(trace.Records))
	}
	for _, rec := range trace.Records {
		if rec.Status != types.AgentStatusCompleted {
			t.Errorf("record %s status = %s, want completed", rec.Name, rec.Status)
		}
		if rec.FinishedAt == nil {
			t.Errorf("record %s has no finish time", rec.Name)
		}
	}
	if !trace.FinalState.Satisfies(pairGoal) {
		t.Error("final state does not satisfy goal")
	}
	if trace.FinishedAt == nil {
		t.Error("trace has no finish time")
	}
}

func TestExecuteNonCriticalSkips(t *testing.T) {
	cat := pairCatalog(t)
	reg := Registry{
		"lefty": func(ctx context.Context, ec *ExecContext) (*Result, error) {
			return nil, fmt.Errorf("transient source outage")
		},
		"righty": okExecutor,
	}

	eng, err := New(cat, reg, nil, nil, Hooks{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	trace, err := eng.Execute(context.Background(), "", pairStart(), pairGoal, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(trace.Records) != 2 {
		t.Fatalf("records = %d, want 2 (run must continue past the skip)", len(trace.Records))
	}
	var skipped, completed *types.AgentRecord
	for i := range trace.Records {
		switch trace.Records[i].Status {
		case types.AgentStatusSkipped:
			skipped = &trace.Records[i]
		case types.AgentStatusCompleted:
			completed = &trace.Records[i]
		}
	}
	if skipped == nil || skipped.AgentID != "lefty" {
		t.Fatalf("expected lefty skipped, records = %+v", trace.Records)
	}
	if skipped.Error == "" {
		t.Error("skipped record carries no error message")
	}
	if completed == nil || completed.AgentID != "righty" {
		t.Fatalf("expected righty completed, records = %+v", trace.Records)
	}

	// Effects of the skipped action must not be applied.
	if v, _ := trace.FinalState.Get("left"); v.AsBool() {
		t.Error("skipped action's effects leaked into the state")
	}
	if v, _ := trace.FinalState.Get("right"); !v.AsBool() {
		t.Error("surviving action's effects missing")
	}
	if trace.FinalState.Satisfies(pairGoal) {
		t.Error("goal should be unmet after the skip")
	}
}

func TestExecuteCriticalAborts(t *testing.T) {
	cat := pairCatalog(t)
	reg := Registry{
		"lefty": func(ctx context.Context, ec *ExecContext) (*Result, error) {
			return nil, Critical(fmt.Errorf("credentials revoked"))
		},
		"righty": okExecutor,
	}

	eng, err := New(cat, reg, nil, nil, Hooks{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	trace, err := eng.Execute(context.Background(), "", pairStart(), pairGoal, nil)
	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RunError", err)
	}
	if rerr.Phase != "execution" {
		t.Errorf("phase = %q, want execution", rerr.Phase)
	}
	if rerr.Trace == nil || trace == nil {
		t.Fatal("partial trace not returned on abort")
	}

	if len(trace.Records) != 1 {
		t.Fatalf("records = %d, want 1 (no action after the abort)", len(trace.Records))
	}
	if trace.Records[0].Status != types.AgentStatusFailed {
		t.Errorf("record status = %s, want failed", trace.Records[0].Status)
	}
}

func TestExecuteFlatCriticalMessageAborts(t *testing.T) {
	cat := pairCatalog(t)
	reg := Registry{
		"lefty": func(ctx context.Context, ec *ExecContext) (*Result, error) {
			return nil, fmt.Errorf("CRITICAL: ledger corrupt")
		},
		"righty": okExecutor,
	}

	eng, err := New(cat, reg, nil, nil, Hooks{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = eng.Execute(context.Background(), "", pairStart(), pairGoal, nil)
	if err == nil {
		t.Fatal("expected abort for critical-substring error")
	}
}

func TestExecuteTimeoutSkips(t *testing.T) {
	cat := pairCatalog(t)
	reg := Registry{
		"lefty": func(ctx context.Context, ec *ExecContext) (*Result, error) {
			// Ignores ctx deliberately; the engine must give up without it.
			time.Sleep(500 * time.Millisecond)
			return &Result{}, nil
		},
		"righty": okExecutor,
	}

	eng, err := New(cat, reg, nil, &Config{AgentTimeout: 30 * time.Millisecond}, Hooks{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	trace, err := eng.Execute(context.Background(), "", pairStart(), pairGoal, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("engine waited %s for a timed-out executor", elapsed)
	}

	var timedOut *types.AgentRecord
	for i := range trace.Records {
		if trace.Records[i].AgentID == "lefty" {
			timedOut = &trace.Records[i]
		}
	}
	if timedOut == nil || timedOut.Status != types.AgentStatusSkipped {
		t.Fatalf("timed-out action not skipped: %+v", trace.Records)
	}
	if !strings.Contains(timedOut.Error, "executor timeout") {
		t.Errorf("record error = %q, want executor timeout", timedOut.Error)
	}
}

func TestExecuteReplanOnExecutorSignal(t *testing.T) {
	cat := mustCatalog(t,
		[]types.FieldSpec{
			{Name: "probed", Kind: types.KindBool},
			{Name: "shortcut", Kind: types.KindBool},
			{Name: "done", Kind: types.KindBool},
		},
		[]types.Action{
			{Name: "probe", AgentID: "prober", Cost: 1,
				Effects: types.Partial{"probed": types.Bool(true)}},
			{Name: "finish_long", AgentID: "long", Cost: 5,
				Preconditions: types.Partial{"probed": types.Bool(true)},
				Effects:       types.Partial{"done": types.Bool(true)}},
			{Name: "finish_short", AgentID: "short", Cost: 1,
				Preconditions: types.Partial{"shortcut": types.Bool(true)},
				Effects:       types.Partial{"done": types.Bool(true)}},
		})

	reg := Registry{
		"prober": func(ctx context.Context, ec *ExecContext) (*Result, error) {
			// Discovered a cheaper route; ask for a replan.
			return &Result{
				StateUpdates: types.Partial{"shortcut": types.Bool(true)},
				Replan:       true,
			}, nil
		},
		"long":  okExecutor,
		"short": okExecutor,
	}

	eng, err := New(cat, reg, nil, nil, Hooks{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := types.StateOf(types.Partial{
		"probed": types.Bool(false), "shortcut": types.Bool(false), "done": types.Bool(false),
	})
	trace, err := eng.Execute(context.Background(), "", start, types.Partial{"done": types.Bool(true)}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if trace.Replans != 1 {
		t.Errorf("replans = %d, want 1", trace.Replans)
	}
	if len(trace.Records) != 2 {
		t.Fatalf("records = %v", trace.Records)
	}
	if trace.Records[1].Name != "finish_short" {
		t.Errorf("second action = %q, want finish_short (spliced plan)", trace.Records[1].Name)
	}
	if !trace.FinalState.Satisfies(types.Partial{"done": types.Bool(true)}) {
		t.Error("goal unmet after replan")
	}
}

func TestExecuteReplanLimit(t *testing.T) {
	cat := mustCatalog(t,
		[]types.FieldSpec{{Name: "flag", Kind: types.KindBool}},
		[]types.Action{
			{Name: "toggle", AgentID: "toggler", Cost: 1,
				Effects: types.Partial{"flag": types.Bool(true)}},
		})

	reg := Registry{
		"toggler": func(ctx context.Context, ec *ExecContext) (*Result, error) {
			// Undoes its own effect and demands a replan, forever.
			return &Result{
				StateUpdates: types.Partial{"flag": types.Bool(false)},
				Replan:       true,
			}, nil
		},
	}

	eng, err := New(cat, reg, nil, &Config{MaxReplans: 2}, Hooks{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := types.StateOf(types.Partial{"flag": types.Bool(false)})
	_, err = eng.Execute(context.Background(), "", start, types.Partial{"flag": types.Bool(true)}, nil)
	if err == nil {
		t.Fatal("expected abort after replan limit")
	}
	if !strings.Contains(err.Error(), "replan limit") {
		t.Errorf("error = %v, want replan limit message", err)
	}
}

func TestExecuteWatchTriggersReplan(t *testing.T) {
	cat := mustCatalog(t,
		[]types.FieldSpec{
			{Name: "probed", Kind: types.KindBool},
			{Name: "pressure", Kind: types.KindNumber},
			{Name: "done", Kind: types.KindBool},
		},
		[]types.Action{
			{Name: "probe", AgentID: "prober", Cost: 1,
				Effects: types.Partial{"probed": types.Bool(true)}},
			{Name: "finish", AgentID: "finisher", Cost: 1,
				Preconditions: types.Partial{"probed": types.Bool(true)},
				Effects:       types.Partial{"done": types.Bool(true)}},
		})

	reg := Registry{
		"prober": func(ctx context.Context, ec *ExecContext) (*Result, error) {
			return &Result{StateUpdates: types.Partial{"pressure": types.Number(15)}}, nil
		},
		"finisher": okExecutor,
	}

	eng, err := New(cat, reg, nil, &Config{
		WatchExpressions: []string{"pressure > 10"},
	}, Hooks{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := types.StateOf(types.Partial{
		"probed": types.Bool(false), "pressure": types.Number(0), "done": types.Bool(false),
	})
	trace, err := eng.Execute(context.Background(), "", start, types.Partial{"done": types.Bool(true)}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trace.Replans == 0 {
		t.Error("watch never triggered a replan")
	}
	if !trace.FinalState.Satisfies(types.Partial{"done": types.Bool(true)}) {
		t.Error("goal unmet")
	}
}

func TestExecutePlanningFailure(t *testing.T) {
	cat := pairCatalog(t)
	reg := Registry{"lefty": okExecutor, "righty": okExecutor}

	eng, err := New(cat, reg, nil, nil, Hooks{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Nothing sets left back to false.
	start := types.StateOf(types.Partial{"left": types.Bool(true), "right": types.Bool(false)})
	trace, err := eng.Execute(context.Background(), "", start, types.Partial{"left": types.Bool(false)}, nil)

	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RunError", err)
	}
	if rerr.Phase != "planning" {
		t.Errorf("phase = %q, want planning", rerr.Phase)
	}
	if trace != nil || rerr.Trace != nil {
		t.Error("planning failure should carry no trace")
	}
}

func TestExecuteCancellation(t *testing.T) {
	cat := pairCatalog(t)
	reg := Registry{
		"lefty": func(ctx context.Context, ec *ExecContext) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		"righty": okExecutor,
	}

	eng, err := New(cat, reg, nil, nil, Hooks{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	trace, err := eng.Execute(ctx, "", pairStart(), pairGoal, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if trace == nil || len(trace.Records) == 0 {
		t.Fatal("cancellation should return the partial trace")
	}
	if trace.Records[0].Status != types.AgentStatusFailed {
		t.Errorf("record status = %s, want failed", trace.Records[0].Status)
	}
}

func TestExecuteHooks(t *testing.T) {
	cat := pairCatalog(t)
	reg := Registry{"lefty": okExecutor, "righty": okExecutor}

	var started, ended []string
	hooks := Hooks{
		OnAgentStart: func(action types.Action, record *types.AgentRecord) {
			started = append(started, action.Name)
		},
		OnAgentEnd: func(action types.Action, record *types.AgentRecord) {
			ended = append(ended, action.Name)
		},
	}

	eng, err := New(cat, reg, nil, nil, hooks, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := eng.Execute(context.Background(), "", pairStart(), pairGoal, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(started) != 2 || len(ended) != 2 {
		t.Errorf("hooks: started=%v ended=%v, want two each", started, ended)
	}
}

func TestRegistryValidate(t *testing.T) {
	cat := pairCatalog(t)

	full := Registry{"lefty": okExecutor, "righty": okExecutor}
	if err := full.Validate(cat); err != nil {
		t.Errorf("Validate(full) = %v", err)
	}

	partial := Registry{"lefty": okExecutor}
	err := partial.Validate(cat)
	if err == nil {
		t.Fatal("expected error for missing executor")
	}
	if !strings.Contains(err.Error(), "righty") {
		t.Errorf("error %v does not name the missing agent", err)
	}

	if _, err := New(cat, partial, nil, nil, Hooks{}, nil); err == nil {
		t.Error("New accepted an incomplete registry")
	}
}

func TestIsCritical(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"typed", Critical(errors.New("boom")), true},
		{"wrapped typed", fmt.Errorf("agent: %w", Critical(errors.New("boom"))), true},
		{"substring", errors.New("CRITICAL failure in ledger"), true},
		{"timeout", ErrExecutorTimeout, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCritical(tt.err); got != tt.want {
				t.Errorf("IsCritical(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
