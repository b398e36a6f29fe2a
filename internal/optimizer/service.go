// Package optimizer is the solver side of auto planning: it accepts optimization
// requests, runs the tabu search off the caller's goroutine and serves results by id.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"autoplan/internal/metrics"
	"autoplan/internal/model"
	"autoplan/internal/opt"
)

var (
	// ErrRejected wraps the reason a request was not accepted.
	ErrRejected    = errors.New("optimization rejected")
	ErrRunNotFound = errors.New("optimization run not found")
)

// Dispatcher hands an accepted request to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.OptimizeRequest) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req model.OptimizeRequest) error

func (f DispatcherFunc) Dispatch(ctx context.Context, req model.OptimizeRequest) error {
	return f(ctx, req)
}

// RunFunc executes one accepted request to completion.
type RunFunc func(ctx context.Context, req model.OptimizeRequest) error

type Service struct {
	Runs       RunStore
	Dispatcher Dispatcher
	Config     opt.Config
	Now        func() time.Time
}

func NewService(runs RunStore, cfg opt.Config) *Service {
	return &Service{Runs: runs, Config: cfg, Now: time.Now}
}

// Submit validates req, records it as IN_PROGRESS and dispatches it. It does not wait for the search.
// Submitting a planning id whose run is still in progress is a no-op, so callers may retry.
func (s *Service) Submit(ctx context.Context, req model.OptimizeRequest) error {
	if req.PlanningID == "" {
		return fmt.Errorf("%w: missing planningId", ErrRejected)
	}
	if _, err := opt.NewProblem(req); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if s.Dispatcher == nil {
		return errors.New("optimizer: no dispatcher configured")
	}
	run := Run{ID: req.PlanningID, Status: model.StatusInProgress, SubmittedAt: s.Now()}
	if err := s.Runs.Create(ctx, run); err != nil {
		if errors.Is(err, ErrDuplicateRun) {
			log.Info().Str("planning_id", req.PlanningID).Msg("optimization already running, resubmit ignored")
			return nil
		}
		return err
	}
	if err := s.Dispatcher.Dispatch(ctx, req); err != nil {
		run.Status = model.StatusFailed
		run.Error = err.Error()
		run.FinishedAt = s.Now()
		if perr := s.Runs.Put(ctx, run); perr != nil {
			log.Error().Err(perr).Str("planning_id", req.PlanningID).Msg("failed to record dispatch failure")
		}
		return fmt.Errorf("dispatch %s: %w", req.PlanningID, err)
	}
	log.Info().Str("planning_id", req.PlanningID).Int("orders", len(req.Orders)).
		Int("drivers", len(req.Drivers)).Int("vehicles", len(req.Vehicles)).Msg("optimization accepted")
	return nil
}

// Result reports the current state of a run.
func (s *Service) Result(ctx context.Context, id string) (model.OptimizeResult, error) {
	run, err := s.Runs.Get(ctx, id)
	if err != nil {
		return model.OptimizeResult{}, err
	}
	return run.Result(), nil
}

// Run executes the search and stores the outcome. Solver failures become a FAILED run; the
// returned error only reports that the outcome could not be stored.
func (s *Service) Run(ctx context.Context, req model.OptimizeRequest) error {
	run := Run{ID: req.PlanningID, Status: model.StatusFailed, SubmittedAt: s.Now()}
	if prev, err := s.Runs.Get(ctx, req.PlanningID); err == nil {
		run.SubmittedAt = prev.SubmittedAt
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				run.Status = model.StatusFailed
				run.Routes = nil
				run.Error = fmt.Sprintf("solver panic: %v", r)
			}
		}()
		p, err := opt.NewProblem(req)
		if err != nil {
			run.Error = err.Error()
			return
		}
		res := opt.Search(ctx, p, s.Config)
		run.Status = res.Status()
		run.Routes = res.Routes
		run.Metrics = &res.Metrics
		if !res.Feasible {
			run.Error = "no feasible driver and vehicle assignment"
		}
		metrics.SolverDuration.Observe(res.Metrics.Elapsed.Seconds())
		metrics.SolverIterations.Observe(float64(res.Metrics.Iterations))
	}()
	run.FinishedAt = s.Now()
	metrics.SolverRuns.WithLabelValues(string(run.Status)).Inc()

	ev := log.Info()
	if run.Status == model.StatusFailed {
		ev = log.Warn().Str("reason", run.Error)
	}
	if run.Metrics != nil {
		ev = ev.Int("iterations", run.Metrics.Iterations).Float64("best_fitness", run.Metrics.BestFitness).
			Str("stop_reason", run.Metrics.StopReason)
	}
	ev.Str("planning_id", run.ID).Str("status", string(run.Status)).Int("routes", len(run.Routes)).Msg("optimization finished")

	// the run context may already be cancelled on shutdown; the outcome is still worth keeping
	if err := s.Runs.Put(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("store run %s: %w", run.ID, err)
	}
	return nil
}
