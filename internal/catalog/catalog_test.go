package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/flexinfer/goalflow/pkg/types"
)

func testSchema(t *testing.T) *types.Schema {
	t.Helper()
	schema, err := types.NewSchema(
		types.FieldSpec{Name: "fetched", Kind: types.KindBool},
		types.FieldSpec{Name: "parsed", Kind: types.KindBool},
		types.FieldSpec{Name: "score", Kind: types.KindNumber},
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return schema
}

func TestNewValidation(t *testing.T) {
	schema := testSchema(t)

	valid := types.Action{
		Name:    "fetch",
		AgentID: "fetcher",
		Cost:    1,
		Effects: types.Partial{"fetched": types.Bool(true)},
	}

	tests := []struct {
		name    string
		mutate  func(a types.Action) types.Action
		wantErr bool
	}{
		{
			name:    "valid action",
			mutate:  func(a types.Action) types.Action { return a },
			wantErr: false,
		},
		{
			name: "empty name",
			mutate: func(a types.Action) types.Action {
				a.Name = ""
				return a
			},
			wantErr: true,
		},
		{
			name: "missing agent id",
			mutate: func(a types.Action) types.Action {
				a.AgentID = ""
				return a
			},
			wantErr: true,
		},
		{
			name: "negative cost",
			mutate: func(a types.Action) types.Action {
				a.Cost = -1
				return a
			},
			wantErr: true,
		},
		{
			name: "no effects",
			mutate: func(a types.Action) types.Action {
				a.Effects = nil
				return a
			},
			wantErr: true,
		},
		{
			name: "unknown precondition field",
			mutate: func(a types.Action) types.Action {
				a.Preconditions = types.Partial{"bogus": types.Bool(true)}
				return a
			},
			wantErr: true,
		},
		{
			name: "effect kind mismatch",
			mutate: func(a types.Action) types.Action {
				a.Effects = types.Partial{"score": types.Bool(true)}
				return a
			},
			wantErr: true,
		},
		{
			name: "effects restate preconditions",
			mutate: func(a types.Action) types.Action {
				a.Preconditions = types.Partial{"fetched": types.Bool(true)}
				a.Effects = types.Partial{"fetched": types.Bool(true)}
				return a
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(schema, []types.Action{tt.mutate(valid)})
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	schema := testSchema(t)
	a := types.Action{Name: "fetch", AgentID: "f", Cost: 1, Effects: types.Partial{"fetched": types.Bool(true)}}
	if _, err := New(schema, []types.Action{a, a}); err == nil {
		t.Fatal("expected error for duplicate action name")
	}
}

func TestLookupAndAgentIDs(t *testing.T) {
	schema := testSchema(t)
	cat, err := New(schema, []types.Action{
		{Name: "fetch", AgentID: "fetcher", Cost: 1, Effects: types.Partial{"fetched": types.Bool(true)}},
		{Name: "parse", AgentID: "parser", Cost: 1, Effects: types.Partial{"parsed": types.Bool(true)}},
		{Name: "refetch", AgentID: "fetcher", Cost: 2, Effects: types.Partial{"fetched": types.Bool(true)}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := cat.Lookup("fetch"); !ok {
		t.Error("Lookup(fetch) not found")
	}
	if _, ok := cat.Lookup("missing"); ok {
		t.Error("Lookup(missing) unexpectedly found")
	}

	want := []string{"fetcher", "parser"}
	if got := cat.AgentIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("AgentIDs() = %v, want %v", got, want)
	}
}

func TestUnreachablePreconditions(t *testing.T) {
	schema := testSchema(t)
	cat, err := New(schema, []types.Action{
		{Name: "parse", AgentID: "parser", Cost: 1,
			Preconditions: types.Partial{"fetched": types.Bool(true)},
			Effects:       types.Partial{"parsed": types.Bool(true)}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Nothing in the catalog produces fetched=true and the start state
	// does not hold it.
	start := types.StateOf(types.Partial{"fetched": types.Bool(false)})
	got := cat.UnreachablePreconditions(start)
	if len(got) != 1 {
		t.Fatalf("UnreachablePreconditions() = %v, want one entry", got)
	}

	// Satisfied by the start state: not unreachable.
	okStart := types.StateOf(types.Partial{"fetched": types.Bool(true)})
	if got := cat.UnreachablePreconditions(okStart); len(got) != 0 {
		t.Errorf("UnreachablePreconditions() = %v, want none", got)
	}
}

func TestParseAndLoad(t *testing.T) {
	doc := `{
		"fields": [
			{"name": "fetched", "kind": "bool"},
			{"name": "score", "kind": "number"}
		],
		"actions": [
			{"name": "fetch", "agent_id": "fetcher", "cost": 1,
			 "effects": {"fetched": true, "score": 0.9}}
		]
	}`

	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	cat, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, ok := cat.Lookup("fetch")
	if !ok {
		t.Fatal("loaded catalog missing action")
	}
	if !a.Effects["score"].Equal(types.Number(0.9)) {
		t.Errorf("numeric effect lost: %v", a.Effects["score"])
	}
}

func TestLoadRunsValidator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(`{"fields": [], "actions": []}`), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	called := false
	if _, err := Load(path, func(raw []byte) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !called {
		t.Error("validate callback not invoked")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}
