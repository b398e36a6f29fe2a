package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"autoplan/internal/model"
	"autoplan/internal/opt"
)

// Run is the solver-side record of one optimization.
type Run struct {
	ID          string                 `json:"planningId"`
	Status      model.Status           `json:"status"`
	Routes      []model.OptimizedRoute `json:"routes,omitempty"`
	Metrics     *opt.Metrics           `json:"metrics,omitempty"`
	Error       string                 `json:"error,omitempty"`
	SubmittedAt time.Time              `json:"submittedAt"`
	FinishedAt  time.Time              `json:"finishedAt,omitempty"`
}

// Result is the boundary view of the run.
func (r Run) Result() model.OptimizeResult {
	return model.OptimizeResult{Status: r.Status, Routes: r.Routes}
}

// RunStore keeps runs by planning id.
type RunStore interface {
	// Create saves a new IN_PROGRESS run. It fails with ErrDuplicateRun when a run
	// with the same id is still in progress; finished runs are replaced.
	Create(ctx context.Context, run Run) error
	Put(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
}

var ErrDuplicateRun = errors.New("run already in progress")

// MemoryRuns is a RunStore for single-process deployments and tests.
type MemoryRuns struct {
	mu   sync.Mutex
	runs map[string]Run
}

func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{runs: map[string]Run{}}
}

func (m *MemoryRuns) Create(ctx context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.runs[run.ID]; ok && cur.Status == model.StatusInProgress {
		return ErrDuplicateRun
	}
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryRuns) Put(ctx context.Context, run Run) error {
	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()
	return nil
}

func (m *MemoryRuns) Get(ctx context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

// RedisRuns stores runs as JSON values that expire after ttl, so the coordinator and
// any number of optimizer processes can share them.
type RedisRuns struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRuns(rdb *redis.Client, ttl time.Duration) *RedisRuns {
	return &RedisRuns{rdb: rdb, ttl: ttl}
}

func runKey(id string) string { return "optimizer:run:" + id }

func (r *RedisRuns) Create(ctx context.Context, run Run) error {
	b, err := json.Marshal(run)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, runKey(run.ID), b, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return nil
	}
	cur, err := r.Get(ctx, run.ID)
	if err != nil && !errors.Is(err, ErrRunNotFound) {
		return err
	}
	if err == nil && cur.Status == model.StatusInProgress {
		return ErrDuplicateRun
	}
	return r.rdb.Set(ctx, runKey(run.ID), b, r.ttl).Err()
}

func (r *RedisRuns) Put(ctx context.Context, run Run) error {
	b, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, runKey(run.ID), b, r.ttl).Err()
}

func (r *RedisRuns) Get(ctx context.Context, id string) (Run, error) {
	b, err := r.rdb.Get(ctx, runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("redis get: %w", err)
	}
	var run Run
	if err := json.Unmarshal(b, &run); err != nil {
		return Run{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, nil
}
