package runstore

import (
	"context"

	"github.com/flexinfer/goalflow/internal/metrics"
	"github.com/flexinfer/goalflow/pkg/types"
)

// instrumentedStore decorates a RunStore with per-operation Prometheus
// counters. Every call counts once, labelled by operation and result.
type instrumentedStore struct {
	inner RunStore
}

// Instrument wraps store so every operation is counted in the
// runstore_operations_total metric.
func Instrument(store RunStore) RunStore {
	return &instrumentedStore{inner: store}
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RunStoreOperations.WithLabelValues(op, result).Inc()
}

func (s *instrumentedStore) CreateRun(ctx context.Context, name string) (string, error) {
	id, err := s.inner.CreateRun(ctx, name)
	observe("create_run", err)
	return id, err
}

func (s *instrumentedStore) GetRunMeta(ctx context.Context, runID string) (*types.RunMeta, error) {
	meta, err := s.inner.GetRunMeta(ctx, runID)
	observe("get_run_meta", err)
	return meta, err
}

func (s *instrumentedStore) ListRuns(ctx context.Context) ([]string, error) {
	ids, err := s.inner.ListRuns(ctx)
	observe("list_runs", err)
	return ids, err
}

func (s *instrumentedStore) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	err := s.inner.UpdateRunStatus(ctx, runID, status, errMsg)
	observe("update_run_status", err)
	return err
}

func (s *instrumentedStore) PutTrace(ctx context.Context, runID string, trace *types.Trace) error {
	err := s.inner.PutTrace(ctx, runID, trace)
	observe("put_trace", err)
	return err
}

func (s *instrumentedStore) GetTrace(ctx context.Context, runID string) (*types.Trace, error) {
	trace, err := s.inner.GetTrace(ctx, runID)
	observe("get_trace", err)
	return trace, err
}

func (s *instrumentedStore) AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error) {
	event, err := s.inner.AppendEvent(ctx, runID, input)
	observe("append_event", err)
	return event, err
}

func (s *instrumentedStore) GetEventsSince(ctx context.Context, runID string, lastEventID string) ([]*types.Event, error) {
	events, err := s.inner.GetEventsSince(ctx, runID, lastEventID)
	observe("get_events_since", err)
	return events, err
}

func (s *instrumentedStore) Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error) {
	ch, cleanup, err := s.inner.Subscribe(ctx, runID)
	observe("subscribe", err)
	return ch, cleanup, err
}

func (s *instrumentedStore) AdapterInfo(ctx context.Context) (map[string]any, error) {
	info, err := s.inner.AdapterInfo(ctx)
	observe("adapter_info", err)
	return info, err
}

func (s *instrumentedStore) Close() error {
	return s.inner.Close()
}
