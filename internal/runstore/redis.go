package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flexinfer/goalflow/pkg/types"
)

// RedisStore implements RunStore backed by Redis.
// Uses Redis Streams for event streaming and hashes for run metadata.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	maxLen int64

	subsMu sync.RWMutex
	subs   map[string]map[chan *types.Event]struct{} // runID -> set of channels
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// Prefix for all keys (default: "goalflow:runs")
	Prefix string

	// TTL for run data (default: 7 days)
	TTL time.Duration

	// EventMaxLen bounds the per-run event stream (default: 5000)
	EventMaxLen int64

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "goalflow:runs",
		TTL:          7 * 24 * time.Hour,
		EventMaxLen:  5000,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed RunStore.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "goalflow:runs"
	}
	maxLen := cfg.EventMaxLen
	if maxLen <= 0 {
		maxLen = 5000
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		maxLen: maxLen,
		subs:   make(map[string]map[chan *types.Event]struct{}),
	}, nil
}

// NewRedisStoreFromClient wraps an existing client; used by tests.
func NewRedisStoreFromClient(client *redis.Client, cfg *RedisConfig) *RedisStore {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		maxLen: cfg.EventMaxLen,
		subs:   make(map[string]map[chan *types.Event]struct{}),
	}
}

// Key helpers
func (s *RedisStore) keyMeta(runID string) string   { return fmt.Sprintf("%s:%s:meta", s.prefix, runID) }
func (s *RedisStore) keyTrace(runID string) string  { return fmt.Sprintf("%s:%s:trace", s.prefix, runID) }
func (s *RedisStore) keyEvents(runID string) string { return fmt.Sprintf("%s:%s:events", s.prefix, runID) }
func (s *RedisStore) keySeq(runID string) string    { return fmt.Sprintf("%s:%s:seq", s.prefix, runID) }
func (s *RedisStore) keyIndex() string              { return fmt.Sprintf("%s:index", s.prefix) }

func (s *RedisStore) setTTL(ctx context.Context, runID string) {
	if s.ttl <= 0 {
		return
	}
	for _, key := range []string{s.keyMeta(runID), s.keyTrace(runID), s.keyEvents(runID), s.keySeq(runID)} {
		s.client.Expire(ctx, key, s.ttl)
	}
}

func (s *RedisStore) CreateRun(ctx context.Context, name string) (string, error) {
	runID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	fields := map[string]any{
		"id":         runID,
		"name":       name,
		"status":     string(types.RunStatusQueued),
		"created_at": now,
		"updated_at": now,
	}
	if err := s.client.HSet(ctx, s.keyMeta(runID), fields).Err(); err != nil {
		return "", fmt.Errorf("hset meta: %w", err)
	}
	if err := s.client.RPush(ctx, s.keyIndex(), runID).Err(); err != nil {
		return "", fmt.Errorf("rpush index: %w", err)
	}
	s.setTTL(ctx, runID)
	return runID, nil
}

func (s *RedisStore) GetRunMeta(ctx context.Context, runID string) (*types.RunMeta, error) {
	fields, err := s.client.HGetAll(ctx, s.keyMeta(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall meta: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrRunNotFound
	}

	meta := &types.RunMeta{
		ID:     fields["id"],
		Name:   fields["name"],
		Status: types.RunStatus(fields["status"]),
		Error:  fields["error"],
	}
	meta.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	meta.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	if v := fields["started_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.StartedAt = &t
		}
	}
	if v := fields["finished_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.FinishedAt = &t
		}
	}
	return meta, nil
}

func (s *RedisStore) ListRuns(ctx context.Context) ([]string, error) {
	ids, err := s.client.LRange(ctx, s.keyIndex(), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("lrange index: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	exists, err := s.client.Exists(ctx, s.keyMeta(runID)).Result()
	if err != nil {
		return fmt.Errorf("exists meta: %w", err)
	}
	if exists == 0 {
		return ErrRunNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	fields := map[string]any{
		"status":     string(status),
		"error":      errMsg,
		"updated_at": now,
	}
	if status == types.RunStatusRunning {
		started, _ := s.client.HGet(ctx, s.keyMeta(runID), "started_at").Result()
		if started == "" {
			fields["started_at"] = now
		}
	}
	if status.Terminal() {
		finished, _ := s.client.HGet(ctx, s.keyMeta(runID), "finished_at").Result()
		if finished == "" {
			fields["finished_at"] = now
		}
	}
	if err := s.client.HSet(ctx, s.keyMeta(runID), fields).Err(); err != nil {
		return fmt.Errorf("hset meta: %w", err)
	}
	s.setTTL(ctx, runID)
	if status.Terminal() {
		s.closeSubscribers(runID)
	}
	return nil
}

// closeSubscribers ends every local subscription for the run. Taking the
// write lock excludes notifySubscribers, so a close cannot race a send.
func (s *RedisStore) closeSubscribers(runID string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs[runID] {
		close(ch)
	}
	delete(s.subs, runID)
}

func (s *RedisStore) PutTrace(ctx context.Context, runID string, trace *types.Trace) error {
	exists, err := s.client.Exists(ctx, s.keyMeta(runID)).Result()
	if err != nil {
		return fmt.Errorf("exists meta: %w", err)
	}
	if exists == 0 {
		return ErrRunNotFound
	}

	raw, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	if err := s.client.Set(ctx, s.keyTrace(runID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set trace: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTrace(ctx context.Context, runID string) (*types.Trace, error) {
	raw, err := s.client.Get(ctx, s.keyTrace(runID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			if exists, _ := s.client.Exists(ctx, s.keyMeta(runID)).Result(); exists == 0 {
				return nil, ErrRunNotFound
			}
			return nil, ErrTraceNotFound
		}
		return nil, fmt.Errorf("get trace: %w", err)
	}
	var trace types.Trace
	if err := json.Unmarshal([]byte(raw), &trace); err != nil {
		return nil, fmt.Errorf("unmarshal trace: %w", err)
	}
	return &trace, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error) {
	seq, err := s.client.Incr(ctx, s.keySeq(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("incr seq: %w", err)
	}

	now := time.Now().UTC()
	eventID := strconv.FormatInt(seq, 10)

	dataBytes, err := json.Marshal(input.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	event := &types.Event{
		ID:        eventID,
		RunID:     runID,
		Type:      input.Type,
		AgentID:   input.AgentID,
		Timestamp: now,
		Data:      dataBytes,
	}

	streamFields := map[string]any{
		"seq":      eventID,
		"ts":       now.Format(time.RFC3339Nano),
		"type":     string(input.Type),
		"data":     string(dataBytes),
		"agent_id": input.AgentID,
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.keyEvents(runID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: streamFields,
	}).Err(); err != nil {
		return nil, fmt.Errorf("xadd: %w", err)
	}

	s.setTTL(ctx, runID)
	s.notifySubscribers(runID, event)

	return event, nil
}

func eventFromStream(runID string, values map[string]any) *types.Event {
	seqStr, _ := values["seq"].(string)
	ts, _ := values["ts"].(string)
	timestamp, _ := time.Parse(time.RFC3339Nano, ts)
	eventType, _ := values["type"].(string)
	data, _ := values["data"].(string)
	agentID, _ := values["agent_id"].(string)

	return &types.Event{
		ID:        seqStr,
		RunID:     runID,
		Type:      types.EventType(eventType),
		AgentID:   agentID,
		Timestamp: timestamp,
		Data:      json.RawMessage(data),
	}
}

func (s *RedisStore) GetEventsSince(ctx context.Context, runID string, lastEventID string) ([]*types.Event, error) {
	entries, err := s.client.XRange(ctx, s.keyEvents(runID), "-", "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xrange: %w", err)
	}

	var lastSeq int64
	if lastEventID != "" {
		lastSeq, _ = strconv.ParseInt(lastEventID, 10, 64)
	}

	var events []*types.Event
	for _, entry := range entries {
		event := eventFromStream(runID, entry.Values)
		seq, _ := strconv.ParseInt(event.ID, 10, 64)
		if lastSeq > 0 && seq <= lastSeq {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error) {
	status, err := s.client.HGet(ctx, s.keyMeta(runID), "status").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, ErrRunNotFound
		}
		return nil, nil, fmt.Errorf("check run status: %w", err)
	}

	ch := make(chan *types.Event, 100)
	if types.RunStatus(status).Terminal() {
		// The run is already over; hand back a closed channel so the
		// consumer replays history and ends its stream immediately.
		close(ch)
		return ch, func() {}, nil
	}

	s.subsMu.Lock()
	if s.subs[runID] == nil {
		s.subs[runID] = make(map[chan *types.Event]struct{})
	}
	s.subs[runID][ch] = struct{}{}
	s.subsMu.Unlock()

	cleanup := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		// A terminal transition may already have closed the channel and
		// removed it; only close while still a member.
		if _, ok := s.subs[runID][ch]; ok {
			delete(s.subs[runID], ch)
			if len(s.subs[runID]) == 0 {
				delete(s.subs, runID)
			}
			close(ch)
		}
	}
	return ch, cleanup, nil
}

// notifySubscribers sends an event to all subscribers for a run.
// Events are fanned out process-locally; cross-process observers resume
// via GetEventsSince with a Last-Event-ID.
func (s *RedisStore) notifySubscribers(runID string, event *types.Event) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for ch := range s.subs[runID] {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

func (s *RedisStore) AdapterInfo(ctx context.Context) (map[string]any, error) {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	count, err := s.client.LLen(ctx, s.keyIndex()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("llen index: %w", err)
	}
	return map[string]any{
		"adapter": "redis",
		"prefix":  s.prefix,
		"runs":    count,
	}, nil
}

func (s *RedisStore) Close() error {
	s.subsMu.Lock()
	for runID, subs := range s.subs {
		for ch := range subs {
			close(ch)
		}
		delete(s.subs, runID)
	}
	s.subsMu.Unlock()
	return s.client.Close()
}
