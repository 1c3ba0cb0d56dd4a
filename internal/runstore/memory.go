package runstore

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flexinfer/goalflow/pkg/types"
)

// memoryRun holds all state for a single run in memory.
type memoryRun struct {
	mu          sync.RWMutex
	meta        types.RunMeta
	trace       *types.Trace
	events      []*types.Event
	nextSeq     int64
	maxEvents   int64
	subscribers map[chan *types.Event]struct{}
}

// MemoryStore is an in-memory implementation of RunStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*memoryRun
	order  []string
	config *Config
}

// NewMemoryStore creates a new in-memory RunStore.
func NewMemoryStore(cfg *Config) *MemoryStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryStore{
		runs:   make(map[string]*memoryRun),
		config: cfg,
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := uuid.NewString()
	now := time.Now().UTC()

	s.runs[runID] = &memoryRun{
		meta: types.RunMeta{
			ID:        runID,
			Name:      name,
			Status:    types.RunStatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
		nextSeq:     1,
		maxEvents:   s.config.EventMaxLen,
		subscribers: make(map[chan *types.Event]struct{}),
	}
	s.order = append(s.order, runID)

	return runID, nil
}

func (s *MemoryStore) get(runID string) (*memoryRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

func (s *MemoryStore) GetRunMeta(ctx context.Context, runID string) (*types.RunMeta, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}
	run.mu.RLock()
	defer run.mu.RUnlock()
	meta := run.meta
	return &meta, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *MemoryStore) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	run, err := s.get(runID)
	if err != nil {
		return err
	}
	run.mu.Lock()
	defer run.mu.Unlock()

	now := time.Now().UTC()
	run.meta.Status = status
	run.meta.Error = errMsg
	run.meta.UpdatedAt = now
	if status == types.RunStatusRunning && run.meta.StartedAt == nil {
		started := now
		run.meta.StartedAt = &started
	}
	if status.Terminal() {
		if run.meta.FinishedAt == nil {
			finished := now
			run.meta.FinishedAt = &finished
		}
		// The run is over; end every subscriber's stream. Closing under
		// run.mu cannot race AppendEvent, which sends under the same lock.
		for ch := range run.subscribers {
			close(ch)
		}
		run.subscribers = make(map[chan *types.Event]struct{})
	}
	return nil
}

func (s *MemoryStore) PutTrace(ctx context.Context, runID string, trace *types.Trace) error {
	run, err := s.get(runID)
	if err != nil {
		return err
	}

	// Deep-copy through JSON so later engine appends never leak into a
	// snapshot a reader already holds.
	raw, err := json.Marshal(trace)
	if err != nil {
		return err
	}
	var copied types.Trace
	if err := json.Unmarshal(raw, &copied); err != nil {
		return err
	}

	run.mu.Lock()
	run.trace = &copied
	run.meta.UpdatedAt = time.Now().UTC()
	run.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetTrace(ctx context.Context, runID string) (*types.Trace, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}
	run.mu.RLock()
	defer run.mu.RUnlock()
	if run.trace == nil {
		return nil, ErrTraceNotFound
	}
	return run.trace, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}

	dataBytes, err := json.Marshal(input.Data)
	if err != nil {
		return nil, err
	}

	run.mu.Lock()
	event := &types.Event{
		ID:        strconv.FormatInt(run.nextSeq, 10),
		RunID:     runID,
		Type:      input.Type,
		AgentID:   input.AgentID,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}
	run.nextSeq++
	run.events = append(run.events, event)
	if run.maxEvents > 0 && int64(len(run.events)) > run.maxEvents {
		run.events = run.events[int64(len(run.events))-run.maxEvents:]
	}
	// Fan out while still holding run.mu: a channel in the map is never
	// closed, because closes happen under the same lock when membership
	// is removed. The send is non-blocking, so slow subscribers drop
	// events rather than stall the engine.
	for ch := range run.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	run.mu.Unlock()

	return event, nil
}

func (s *MemoryStore) GetEventsSince(ctx context.Context, runID string, lastEventID string) ([]*types.Event, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}

	var lastSeq int64
	if lastEventID != "" {
		lastSeq, _ = strconv.ParseInt(lastEventID, 10, 64)
	}

	run.mu.RLock()
	defer run.mu.RUnlock()

	var out []*types.Event
	for _, e := range run.events {
		seq, _ := strconv.ParseInt(e.ID, 10, 64)
		if seq > lastSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan *types.Event, 100)

	run.mu.Lock()
	if run.meta.Status.Terminal() {
		// The run is already over; hand back a closed channel so the
		// consumer replays history and ends its stream immediately.
		run.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	run.subscribers[ch] = struct{}{}
	run.mu.Unlock()

	cleanup := func() {
		run.mu.Lock()
		defer run.mu.Unlock()
		// A terminal transition may already have closed the channel and
		// removed it; only close while still a member.
		if _, ok := run.subscribers[ch]; ok {
			delete(run.subscribers, ch)
			close(ch)
		}
	}
	return ch, cleanup, nil
}

func (s *MemoryStore) AdapterInfo(ctx context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"adapter": "memory",
		"runs":    len(s.runs),
	}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		run.mu.Lock()
		for ch := range run.subscribers {
			close(ch)
		}
		run.subscribers = make(map[chan *types.Event]struct{})
		run.mu.Unlock()
	}
	return nil
}
