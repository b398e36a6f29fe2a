package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"autoplan/internal/model"
)

// Memory is an in-memory JobStore used when no DATABASE_URL is set.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]model.PlanningJob
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: map[string]model.PlanningJob{}, now: time.Now}
}

type liveKey struct{ requester, date string }

// liveHolder returns the id of the live job for k other than except, if any.
func (m *Memory) liveHolder(k liveKey, except string) string {
	for id, j := range m.jobs {
		if id != except && j.Status.Live() && j.Requester == k.requester && j.PlanDate == k.date {
			return id
		}
	}
	return ""
}

func (m *Memory) CreateIfNoActive(ctx context.Context, job model.PlanningJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		return fmt.Errorf("create job: empty id")
	}
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("create job %s: %w", job.ID, ErrConflict)
	}
	if job.Status.Live() && m.liveHolder(liveKey{job.Requester, job.PlanDate}, "") != "" {
		return ErrConflict
	}
	now := m.now()
	if job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *Memory) HasActive(ctx context.Context, requester, planDate string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveHolder(liveKey{requester, planDate}, "") != "", nil
}

func (m *Memory) Get(ctx context.Context, id string) (model.PlanningJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.PlanningJob{}, ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *Memory) Mutate(ctx context.Context, id string, fn func(*model.PlanningJob) error) (model.PlanningJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[id]
	if !ok {
		return model.PlanningJob{}, ErrNotFound
	}
	next := cloneJob(cur)
	if err := fn(&next); err != nil {
		return model.PlanningJob{}, err
	}
	next.ID, next.Requester, next.PlanDate, next.StartedAt = cur.ID, cur.Requester, cur.PlanDate, cur.StartedAt
	if next.Status.Live() && !cur.Status.Live() && m.liveHolder(liveKey{cur.Requester, cur.PlanDate}, id) != "" {
		return model.PlanningJob{}, ErrConflict
	}
	next.UpdatedAt = m.now()
	m.jobs[id] = cloneJob(next)
	return next, nil
}

func (m *Memory) ListByStatus(ctx context.Context, status model.Status) ([]model.PlanningJob, error) {
	return m.list(func(j model.PlanningJob) bool { return j.Status == status }), nil
}

func (m *Memory) ListByRequester(ctx context.Context, requester string, statuses ...model.Status) ([]model.PlanningJob, error) {
	return m.list(func(j model.PlanningJob) bool {
		return j.Requester == requester && hasStatus(j.Status, statuses)
	}), nil
}

func (m *Memory) LatestForDate(ctx context.Context, requester, planDate string) (model.PlanningJob, error) {
	items := m.list(func(j model.PlanningJob) bool { return j.Requester == requester && j.PlanDate == planDate })
	if len(items) == 0 {
		return model.PlanningJob{}, ErrNotFound
	}
	return items[len(items)-1], nil
}

// list returns matching jobs ordered by start time, then id.
func (m *Memory) list(match func(model.PlanningJob) bool) []model.PlanningJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.PlanningJob{}
	for _, j := range m.jobs {
		if match(j) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].StartedAt.Before(out[b].StartedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}
