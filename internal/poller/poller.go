// Package poller reconciles IN_PROGRESS planning jobs with the solver on a schedule.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"autoplan/internal/metrics"
	"autoplan/internal/model"
	"autoplan/internal/optimizer"
	"autoplan/internal/store"
)

const DefaultSchedule = "*/5 * * * * *"

type ResultSource interface {
	Result(ctx context.Context, id string) (model.OptimizeResult, error)
}

type Applier interface {
	ApplyResult(ctx context.Context, id string, res model.OptimizeResult) (bool, error)
}

// Summary counts what one pass did.
type Summary struct {
	Applied  int
	Pending  int
	NotFound int
	Errors   int
}

type Poller struct {
	Jobs     store.JobStore
	Solver   ResultSource
	Apply    Applier
	Schedule string
	Timeout  time.Duration

	cron    *cron.Cron
	running sync.Mutex
}

func New(jobs store.JobStore, solver ResultSource, apply Applier, schedule string) *Poller {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Poller{Jobs: jobs, Solver: solver, Apply: apply, Schedule: schedule, Timeout: 30 * time.Second}
}

// Start schedules RunOnce. The schedule has a leading seconds field.
func (p *Poller) Start() error {
	p.cron = cron.New(cron.WithSeconds())
	if _, err := p.cron.AddFunc(p.Schedule, p.tick); err != nil {
		return fmt.Errorf("poll schedule %q: %w", p.Schedule, err)
	}
	p.cron.Start()
	log.Info().Str("schedule", p.Schedule).Msg("result poller started")
	return nil
}

// Stop waits for a running pass to finish.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	log.Info().Msg("result poller stopped")
}

func (p *Poller) tick() {
	if !p.running.TryLock() {
		metrics.PollSkipped.Inc()
		log.Debug().Msg("previous poll still running, skipping")
		return
	}
	defer p.running.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()
	if _, err := p.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("result poll failed")
	}
}

// RunOnce asks the solver about every IN_PROGRESS job and applies final results. Jobs the
// solver does not know, or that fail to poll, stay IN_PROGRESS for the next pass.
func (p *Poller) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	jobs, err := p.Jobs.ListByStatus(ctx, model.StatusInProgress)
	if err != nil {
		return sum, fmt.Errorf("list in-progress jobs: %w", err)
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		outcome := p.pollJob(ctx, job.ID)
		metrics.PollOutcomes.WithLabelValues(outcome).Inc()
		switch outcome {
		case "applied":
			sum.Applied++
		case "pending":
			sum.Pending++
		case "not_found":
			sum.NotFound++
		default:
			sum.Errors++
		}
	}
	if len(jobs) > 0 {
		log.Debug().Int("jobs", len(jobs)).Int("applied", sum.Applied).Int("errors", sum.Errors).Msg("result poll finished")
	}
	return sum, nil
}

func (p *Poller) pollJob(ctx context.Context, id string) string {
	res, err := p.Solver.Result(ctx, id)
	if errors.Is(err, optimizer.ErrRunNotFound) {
		log.Info().Str("planning_id", id).Msg("optimization result not found at solver")
		return "not_found"
	}
	if err != nil {
		log.Error().Err(err).Str("planning_id", id).Msg("failed to fetch optimization result")
		return "error"
	}
	changed, err := p.Apply.ApplyResult(ctx, id, res)
	if err != nil {
		log.Error().Err(err).Str("planning_id", id).Msg("failed to apply optimization result")
		return "error"
	}
	if !changed {
		return "pending"
	}
	return "applied"
}
