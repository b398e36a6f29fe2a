package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"autoplan/internal/model"
)

const (
	TaskRun    = "optimizer:run"
	QueueSolve = "optimizer"

	runTimeout = 10 * time.Minute
)

// AsynqDispatcher enqueues runs for optimizer processes listening on Redis.
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(redisOpt asynq.RedisClientOpt) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(redisOpt)}
}

func newRunTask(req model.OptimizeRequest) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TaskRun, payload, asynq.Queue(QueueSolve), asynq.MaxRetry(2), asynq.Timeout(runTimeout)), nil
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, req model.OptimizeRequest) error {
	task, err := newRunTask(req)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	log.Info().
		Str("type", task.Type()).
		Str("queue", info.Queue).
		Int("max_retry", info.MaxRetry).
		Str("planning_id", req.PlanningID).
		Msg("enqueued optimizer run")
	return nil
}

func (d *AsynqDispatcher) Close() error { return d.client.Close() }

// AsynqProcessor consumes optimizer:run tasks.
type AsynqProcessor struct {
	server *asynq.Server
	run    RunFunc
}

func NewAsynqProcessor(redisOpt asynq.RedisClientOpt, concurrency int, run RunFunc) *AsynqProcessor {
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueSolve: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("type", task.Type()).Msg("process task failed")
		}),
		Logger:          asynqLogger{l: log.Logger.With().Str("component", "asynq").Logger()},
		ShutdownTimeout: 10 * time.Second,
	})
	return &AsynqProcessor{server: server, run: run}
}

func (p *AsynqProcessor) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRun, p.ProcessTaskRun)
	return p.server.Start(mux)
}

func (p *AsynqProcessor) Shutdown() { p.server.Shutdown() }

// ProcessTaskRun decodes the request and runs it. Undecodable payloads are not retried.
func (p *AsynqProcessor) ProcessTaskRun(ctx context.Context, task *asynq.Task) error {
	var req model.OptimizeRequest
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	log.Info().Str("type", task.Type()).Str("planning_id", req.PlanningID).Msg("processing optimizer run")
	return p.run(ctx, req)
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct{ l zerolog.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
