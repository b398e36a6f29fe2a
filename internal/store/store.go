package store

import (
	"context"
	"errors"

	"autoplan/internal/model"
)

// JobStore is the persistence interface for planning jobs.
//
// At most one live job (IN_PROGRESS or COMPLETED) may exist per (requester, plan date).
// Backends enforce this atomically on create and on every mutation.
type JobStore interface {
	// CreateIfNoActive inserts job unless a live job exists for its requester and date.
	CreateIfNoActive(ctx context.Context, job model.PlanningJob) error
	HasActive(ctx context.Context, requester, planDate string) (bool, error)
	Get(ctx context.Context, id string) (model.PlanningJob, error)
	// Mutate applies fn to the current record and persists the result. Nothing is written
	// when fn returns an error. UpdatedAt is maintained by the store.
	Mutate(ctx context.Context, id string, fn func(*model.PlanningJob) error) (model.PlanningJob, error)
	// ListByStatus returns jobs with the given status, oldest first.
	ListByStatus(ctx context.Context, status model.Status) ([]model.PlanningJob, error)
	// ListByRequester returns the requester's jobs, oldest first, optionally filtered by status.
	ListByRequester(ctx context.Context, requester string, statuses ...model.Status) ([]model.PlanningJob, error)
	// LatestForDate returns the most recently started job for requester and date.
	LatestForDate(ctx context.Context, requester, planDate string) (model.PlanningJob, error)
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("live planning job already exists")
)

func cloneJob(j model.PlanningJob) model.PlanningJob {
	if j.Routes != nil {
		routes := make([]model.OptimizedRoute, len(j.Routes))
		for i, r := range j.Routes {
			r.OrderIDs = append([]string(nil), r.OrderIDs...)
			routes[i] = r
		}
		j.Routes = routes
	}
	return j
}

func hasStatus(s model.Status, statuses []model.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}
