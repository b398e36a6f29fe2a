// Package planning drives auto-planning jobs from submission through solver completion to
// the requester's accept, reject or acknowledge decision.
package planning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"autoplan/internal/distance"
	"autoplan/internal/metrics"
	"autoplan/internal/model"
	"autoplan/internal/store"
)

// Catalog answers order and availability queries.
type Catalog interface {
	// OrdersByIDs returns the orders that exist; unknown ids are left out.
	OrdersByIDs(ctx context.Context, ids []string) ([]model.Order, error)
	AvailableDrivers(ctx context.Context, date time.Time) ([]model.Driver, error)
	AvailableVehicles(ctx context.Context, date time.Time) ([]model.Vehicle, error)
}

// RouteCommitter persists the routes of an accepted job.
type RouteCommitter interface {
	CommitRoutes(ctx context.Context, job model.PlanningJob) ([]model.CommittedRoute, error)
}

// Solver is the optimizer boundary, local or remote.
type Solver interface {
	Submit(ctx context.Context, req model.OptimizeRequest) error
	Result(ctx context.Context, id string) (model.OptimizeResult, error)
}

// Event types published on every job status change.
const (
	EventStarted   = "planning.started"
	EventCompleted = "planning.completed"
	EventFailed    = "planning.failed"
	EventAccepted  = "planning.accepted"
	EventRejected  = "planning.rejected"
	EventConsumed  = "planning.consumed"
)

type Event struct {
	Type string
	Job  model.PlanningJob
}

type EventSink interface {
	Notify(ev Event)
}

// Sinks fans an event out to every sink in order.
type Sinks []EventSink

func (s Sinks) Notify(ev Event) {
	for _, sink := range s {
		sink.Notify(ev)
	}
}

type Service struct {
	Jobs     store.JobStore
	Catalog  Catalog
	Distance distance.Provider
	Solver   Solver
	Routes   RouteCommitter
	Events   EventSink
	// Depot is the address every route starts and ends at.
	Depot string
	Now   func() time.Time
	NewID func() string
}

func NewService(jobs store.JobStore, catalog Catalog, dist distance.Provider, solver Solver, routes RouteCommitter, depot string) *Service {
	return &Service{
		Jobs:     jobs,
		Catalog:  catalog,
		Distance: dist,
		Solver:   solver,
		Routes:   routes,
		Depot:    depot,
		Now:      time.Now,
		NewID:    func() string { return uuid.New().String() },
	}
}

func (s *Service) notify(typ string, job model.PlanningJob) {
	metrics.PlanningTransitions.WithLabelValues(string(job.Status)).Inc()
	if s.Events != nil {
		s.Events.Notify(Event{Type: typ, Job: job})
	}
}

// AutoPlan validates the selection, records an IN_PROGRESS job and submits it to the solver.
func (s *Service) AutoPlan(ctx context.Context, requester, date string, orderIDs []string) (model.PlanningJob, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return model.PlanningJob{}, invalid("", "invalid planning date %q", date)
	}
	planDate := day.Format(model.DateLayout)
	if err := checkOrderIDs(orderIDs); err != nil {
		return model.PlanningJob{}, err
	}
	active, err := s.Jobs.HasActive(ctx, requester, planDate)
	if err != nil {
		return model.PlanningJob{}, err
	}
	if active {
		return model.PlanningJob{}, ErrConflict
	}

	found, err := s.Catalog.OrdersByIDs(ctx, orderIDs)
	if err != nil {
		return model.PlanningJob{}, fmt.Errorf("load orders: %w", err)
	}
	orders, err := orderedForPlanning(orderIDs, found, day)
	if err != nil {
		return model.PlanningJob{}, err
	}
	drivers, err := s.Catalog.AvailableDrivers(ctx, day)
	if err != nil {
		return model.PlanningJob{}, fmt.Errorf("load drivers: %w", err)
	}
	if len(drivers) == 0 {
		return model.PlanningJob{}, invalid("", "no drivers available on %s", planDate)
	}
	vehicles, err := s.Catalog.AvailableVehicles(ctx, day)
	if err != nil {
		return model.PlanningJob{}, fmt.Errorf("load vehicles: %w", err)
	}
	if len(vehicles) == 0 {
		return model.PlanningJob{}, invalid("", "no vehicles available on %s", planDate)
	}

	job := model.PlanningJob{ID: s.NewID(), Requester: requester, PlanDate: planDate, Status: model.StatusInProgress, StartedAt: s.Now()}
	if err := s.Jobs.CreateIfNoActive(ctx, job); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return model.PlanningJob{}, ErrConflict
		}
		return model.PlanningJob{}, err
	}
	logger := log.With().Str("planning_id", job.ID).Str("requester", requester).Str("date", planDate).Logger()

	origins, destinations := matrixEndpoints(s.Depot, orders)
	m, err := s.Distance.Matrix(ctx, origins, destinations)
	if err == nil {
		err = s.Solver.Submit(ctx, buildRequest(job.ID, orders, drivers, vehicles, m))
	}
	if err != nil {
		logger.Error().Err(err).Msg("auto planning dispatch failed")
		failed, ferr := s.Jobs.Mutate(ctx, job.ID, func(j *model.PlanningJob) error { return transition(j, model.StatusFailed) })
		if ferr != nil {
			logger.Error().Err(ferr).Msg("could not mark planning job failed")
		} else {
			s.notify(EventFailed, failed)
		}
		return model.PlanningJob{}, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	logger.Info().Int("orders", len(orders)).Int("drivers", len(drivers)).Int("vehicles", len(vehicles)).Msg("auto planning started")
	s.notify(EventStarted, job)
	return job, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// GetForDate returns the requester's most recent job for date.
func (s *Service) GetForDate(ctx context.Context, requester, date string) (model.PlanningJob, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return model.PlanningJob{}, invalid("", "invalid planning date %q", date)
	}
	job, err := s.Jobs.LatestForDate(ctx, requester, day.Format(model.DateLayout))
	return job, mapNotFound(err)
}

func (s *Service) Get(ctx context.Context, requester, id string) (model.PlanningJob, error) {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return model.PlanningJob{}, mapNotFound(err)
	}
	if job.Requester != requester {
		return model.PlanningJob{}, ErrUnauthorized
	}
	return job, nil
}

func (s *Service) GetPendingJobs(ctx context.Context, requester string) ([]model.PlanningJob, error) {
	return s.Jobs.ListByRequester(ctx, requester, model.StatusInProgress)
}

// GetAwaitingJob returns the unconsumed COMPLETED job with the earliest plan date.
func (s *Service) GetAwaitingJob(ctx context.Context, requester string) (model.PlanningJob, bool, error) {
	jobs, err := s.Jobs.ListByRequester(ctx, requester, model.StatusCompleted)
	if err != nil {
		return model.PlanningJob{}, false, err
	}
	var awaiting []model.PlanningJob
	for _, j := range jobs {
		if !j.Consumed {
			awaiting = append(awaiting, j)
		}
	}
	if len(awaiting) == 0 {
		return model.PlanningJob{}, false, nil
	}
	sort.SliceStable(awaiting, func(a, b int) bool { return awaiting[a].PlanDate < awaiting[b].PlanDate })
	return awaiting[0], true, nil
}

// ListEvents lists finished jobs the requester has not acknowledged yet.
func (s *Service) ListEvents(ctx context.Context, requester string) ([]model.PlanningEvent, error) {
	jobs, err := s.Jobs.ListByRequester(ctx, requester, model.StatusCompleted, model.StatusFailed)
	if err != nil {
		return nil, err
	}
	out := []model.PlanningEvent{}
	for _, j := range jobs {
		if !j.Consumed {
			out = append(out, model.PlanningEvent{PlanningID: j.ID, PlanDate: j.PlanDate, Status: j.Status})
		}
	}
	return out, nil
}

func owned(job *model.PlanningJob, requester string) error {
	if job.Requester != requester {
		return ErrUnauthorized
	}
	return nil
}

// AcceptJob commits the job's routes and marks it ACCEPTED. The job keeps its COMPLETED
// status, and with it the requester's slot for the date, until the commit succeeded.
func (s *Service) AcceptJob(ctx context.Context, requester, id string) ([]model.CommittedRoute, error) {
	job, err := s.Jobs.Mutate(ctx, id, func(j *model.PlanningJob) error {
		if err := owned(j, requester); err != nil {
			return err
		}
		if !CanTransition(j.Status, model.StatusAccepted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, j.Status, model.StatusAccepted)
		}
		if j.Accepting {
			return fmt.Errorf("%w: accept already in progress", ErrInvalidState)
		}
		j.Accepting = true
		return nil
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	logger := log.With().Str("planning_id", id).Str("requester", requester).Logger()

	routes, err := s.Routes.CommitRoutes(ctx, job)
	if err != nil {
		if _, rerr := s.Jobs.Mutate(context.WithoutCancel(ctx), id, func(j *model.PlanningJob) error {
			j.Accepting = false
			return nil
		}); rerr != nil {
			logger.Error().Err(rerr).Msg("could not release accept claim after failed commit")
		}
		return nil, fmt.Errorf("commit routes: %w", err)
	}

	job, err = s.Jobs.Mutate(context.WithoutCancel(ctx), id, func(j *model.PlanningJob) error {
		j.Accepting = false
		if err := transition(j, model.StatusAccepted); err != nil {
			return err
		}
		j.Consumed = true
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Int("routes", len(routes)).Msg("routes committed but job could not be marked accepted")
		return nil, mapNotFound(err)
	}
	logger.Info().Int("routes", len(routes)).Msg("auto planning accepted")
	s.notify(EventAccepted, job)
	return routes, nil
}

func (s *Service) RejectJob(ctx context.Context, requester, id string) (model.PlanningJob, error) {
	job, err := s.Jobs.Mutate(ctx, id, func(j *model.PlanningJob) error {
		if err := owned(j, requester); err != nil {
			return err
		}
		if j.Accepting {
			return fmt.Errorf("%w: accept in progress", ErrInvalidState)
		}
		if err := transition(j, model.StatusRejected); err != nil {
			return err
		}
		j.Consumed = true
		return nil
	})
	if err != nil {
		return model.PlanningJob{}, mapNotFound(err)
	}
	log.Info().Str("planning_id", id).Str("requester", requester).Msg("auto planning rejected")
	s.notify(EventRejected, job)
	return job, nil
}

var errUnchanged = errors.New("unchanged")

// ConsumeJob acknowledges a finished job without changing its status. Repeated calls are no-ops.
func (s *Service) ConsumeJob(ctx context.Context, requester, id string) (model.PlanningJob, error) {
	job, err := s.Jobs.Mutate(ctx, id, func(j *model.PlanningJob) error {
		if err := owned(j, requester); err != nil {
			return err
		}
		if j.Status == model.StatusInProgress {
			return fmt.Errorf("%w: job is still in progress", ErrInvalidState)
		}
		if j.Consumed {
			return errUnchanged
		}
		j.Consumed = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return s.Jobs.Get(ctx, id)
	}
	if err != nil {
		return model.PlanningJob{}, mapNotFound(err)
	}
	if s.Events != nil {
		s.Events.Notify(Event{Type: EventConsumed, Job: job})
	}
	return job, nil
}

// ApplyResult records a solver outcome for an IN_PROGRESS job. Results without a final
// status, and results for jobs that already moved on, are ignored. It reports whether
// the job changed.
func (s *Service) ApplyResult(ctx context.Context, id string, res model.OptimizeResult) (bool, error) {
	if res.Status == "" || res.Status == model.StatusInProgress {
		return false, nil
	}
	job, err := s.Jobs.Mutate(ctx, id, func(j *model.PlanningJob) error {
		if j.Status != model.StatusInProgress {
			return errUnchanged
		}
		if err := transition(j, res.Status); err != nil {
			return err
		}
		if res.Status == model.StatusCompleted {
			j.Routes = res.Routes
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, mapNotFound(err)
	}
	log.Info().Str("planning_id", id).Str("status", string(job.Status)).Int("routes", len(job.Routes)).Msg("auto planning result applied")
	typ := EventCompleted
	if job.Status == model.StatusFailed {
		typ = EventFailed
	}
	s.notify(typ, job)
	return true, nil
}
