package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flexinfer/goalflow/internal/catalog"
	"github.com/flexinfer/goalflow/internal/config"
	"github.com/flexinfer/goalflow/internal/engine"
	"github.com/flexinfer/goalflow/internal/planner"
	"github.com/flexinfer/goalflow/internal/runstore"
	"github.com/flexinfer/goalflow/internal/validator"
	"github.com/flexinfer/goalflow/pkg/types"
)

func testServer(t *testing.T) (*Server, runstore.RunStore) {
	t.Helper()

	schema, err := types.NewSchema(
		types.FieldSpec{Name: "fetched", Kind: types.KindBool},
		types.FieldSpec{Name: "parsed", Kind: types.KindBool},
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	cat, err := catalog.New(schema, []types.Action{
		{Name: "fetch", AgentID: "fetcher", Cost: 1,
			Effects: types.Partial{"fetched": types.Bool(true)}},
		{Name: "parse", AgentID: "parser", Cost: 1,
			Preconditions: types.Partial{"fetched": types.Bool(true)},
			Effects:       types.Partial{"parsed": types.Bool(true)}},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	store := runstore.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })

	ok := func(ctx context.Context, ec *engine.ExecContext) (*engine.Result, error) {
		return &engine.Result{}, nil
	}
	eng, err := engine.New(cat, engine.Registry{"fetcher": ok, "parser": ok}, store, nil, engine.Hooks{}, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	svc := engine.NewService(eng, store, nil)

	v, err := validator.New()
	if err != nil {
		t.Fatalf("validator.New: %v", err)
	}

	p := planner.New(cat, nil, nil)
	h := NewHandlers(store, svc, p, cat, v, config.Load(), nil)
	return NewServer(h, nil), store
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{"/health", "/healthz", "/ready"} {
		rec := doJSON(t, srv, "GET", path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestListActions(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, "GET", "/api/v1/actions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Actions []types.Action `json:"actions"`
		Agents  []string       `json:"agents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Actions) != 2 || len(resp.Agents) != 2 {
		t.Errorf("actions=%d agents=%d, want 2 each", len(resp.Actions), len(resp.Agents))
	}
}

func TestCreatePlan(t *testing.T) {
	srv, _ := testServer(t)

	body := `{"start": {"fetched": false, "parsed": false}, "goal": {"parsed": true}}`
	rec := doJSON(t, srv, "POST", "/api/v1/plans", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp PlanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Plan == nil || resp.Plan.Len() != 2 {
		t.Fatalf("plan = %+v, want two actions", resp.Plan)
	}
	if resp.Cost != 2 {
		t.Errorf("cost = %g, want 2", resp.Cost)
	}
}

func TestCreatePlanUnreachable(t *testing.T) {
	srv, _ := testServer(t)

	// Nothing sets fetched back to false.
	body := `{"start": {"fetched": true}, "goal": {"fetched": false}}`
	rec := doJSON(t, srv, "POST", "/api/v1/plans", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", rec.Code, rec.Body.String())
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Details["reason"] != "no plan found" {
		t.Errorf("reason = %v", resp.Details["reason"])
	}
}

func TestCreatePlanBadRequests(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing goal", `{"start": {"fetched": false}}`},
		{"empty goal", `{"goal": {}}`},
		{"unknown field", `{"goal": {"bogus": true}}`},
		{"kind mismatch", `{"goal": {"fetched": 3}}`},
		{"garbage", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, "POST", "/api/v1/plans", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	srv, _ := testServer(t)

	body := `{"name": "it", "start": {"fetched": false, "parsed": false}, "goal": {"parsed": true}}`
	rec := doJSON(t, srv, "POST", "/api/v1/runs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var created CreateRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.RunID == "" {
		t.Fatal("empty run id")
	}

	// The run executes in the background; poll until terminal.
	var meta types.RunMeta
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec := doJSON(t, srv, "GET", "/api/v1/runs/"+created.RunID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET run = %d", rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
			t.Fatalf("decode meta: %v", err)
		}
		if meta.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish, status %s", meta.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if meta.Status != types.RunStatusSucceeded {
		t.Fatalf("status = %s, error = %s", meta.Status, meta.Error)
	}

	rec = doJSON(t, srv, "GET", "/api/v1/runs/"+created.RunID+"/trace", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET trace = %d, body = %s", rec.Code, rec.Body.String())
	}
	var trace types.Trace
	if err := json.Unmarshal(rec.Body.Bytes(), &trace); err != nil {
		t.Fatalf("decode trace: %v", err)
	}
	if len(trace.Records) != 2 {
		t.Errorf("trace records = %d, want 2", len(trace.Records))
	}

	rec = doJSON(t, srv, "GET", "/api/v1/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET runs = %d", rec.Code)
	}
}

func TestRunNotFound(t *testing.T) {
	srv, _ := testServer(t)

	if rec := doJSON(t, srv, "GET", "/api/v1/runs/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET run = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, srv, "GET", "/api/v1/runs/nope/trace", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET trace = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, srv, "POST", "/api/v1/runs/nope/cancel", ""); rec.Code != http.StatusNotFound {
		t.Errorf("POST cancel = %d, want 404", rec.Code)
	}
}

func TestTraceNotReady(t *testing.T) {
	srv, store := testServer(t)

	runID, err := store.CreateRun(context.Background(), "pending")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	rec := doJSON(t, srv, "GET", "/api/v1/runs/"+runID+"/trace", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("GET trace = %d, want 409", rec.Code)
	}
}

func TestRunStoreInfo(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, "GET", "/api/v1/runstore/info", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var info map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["adapter"] != "memory" {
		t.Errorf("adapter = %v", info["adapter"])
	}
}
