// Package app holds the process wiring shared by the coordinator and optimizer binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"autoplan/internal/api"
	"autoplan/internal/config"
	"autoplan/internal/opt"
	"autoplan/internal/optimizer"
)

// SetupLogging configures the global zerolog logger from cfg.
func SetupLogging(cfg config.Config, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// Redis opens a client for cfg.RedisURL and derives the asynq connection from the same URL.
func Redis(ctx context.Context, url string) (*redis.Client, asynq.RedisClientOpt, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, asynq.RedisClientOpt{}, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(o)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, asynq.RedisClientOpt{}, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, asynqOpt(o), nil
}

func asynqOpt(o *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Network:   o.Network,
		Addr:      o.Addr,
		Username:  o.Username,
		Password:  o.Password,
		DB:        o.DB,
		TLSConfig: o.TLSConfig,
	}
}

// TabuConfig maps the configured search tuning onto the engine's.
func TabuConfig(cfg config.Config) opt.Config {
	t := cfg.Optimizer.Tabu
	c := opt.DefaultConfig()
	c.MaxIterations = t.MaxIterations
	c.TabuTenure = t.TabuTenure
	c.NeighborSamples = t.NeighborSamples
	c.NoImprovementLimit = t.NoImprovementLimit
	c.Seed = t.Seed
	c.Workers = t.Workers
	return c
}

// Solver builds the in-process optimizer: runs in Redis when a client is given, and
// dispatch through the worker pool or asynq as configured. The returned cleanup
// drains the dispatcher.
func Solver(ctx context.Context, cfg config.Config, rdb *redis.Client, redisOpt asynq.RedisClientOpt) (*optimizer.Service, func(), error) {
	var runs optimizer.RunStore = optimizer.NewMemoryRuns()
	if rdb != nil {
		runs = optimizer.NewRedisRuns(rdb, cfg.Optimizer.RunTTL)
	}
	svc := optimizer.NewService(runs, TabuConfig(cfg))
	switch cfg.Optimizer.Dispatch {
	case "asynq":
		if rdb == nil {
			return nil, nil, errors.New("asynq dispatch needs redis")
		}
		d := optimizer.NewAsynqDispatcher(redisOpt)
		svc.Dispatcher = d
		return svc, func() { _ = d.Close() }, nil
	default:
		pool := optimizer.NewPool(ctx, cfg.Optimizer.Workers, cfg.Optimizer.QueueDepth, svc.Run)
		svc.Dispatcher = pool
		return svc, pool.Close, nil
	}
}

// RunProcessor consumes asynq optimizer tasks until ctx is done.
func RunProcessor(ctx context.Context, g *errgroup.Group, cfg config.Config, redisOpt asynq.RedisClientOpt, run optimizer.RunFunc) {
	processor := optimizer.NewAsynqProcessor(redisOpt, cfg.Optimizer.Workers, run)
	log.Info().Int("concurrency", cfg.Optimizer.Workers).Msg("start task processor")
	g.Go(func() error {
		return processor.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("graceful shutdown task processor")
		processor.Shutdown()
		log.Info().Msg("task processor is stopped")
		return nil
	})
}

// RunHTTP serves handler on addr until ctx is done, then shuts down gracefully.
func RunHTTP(ctx context.Context, g *errgroup.Group, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("start HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed to serve")
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("graceful shutdown HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server forced to shutdown")
			return err
		}
		log.Info().Msg("HTTP server is stopped")
		return nil
	})
}

// RedisCheck is a readiness probe for rdb.
func RedisCheck(rdb *redis.Client) api.Check {
	return api.Check{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }}
}

// Info summarises cfg for /debug/info without leaking secrets.
func Info(cfg config.Config) map[string]any {
	return map[string]any{
		"PORT":               cfg.Port,
		"AUTH_MODE":          cfg.Auth.Mode,
		"RATE_RPS":           cfg.RateRPS,
		"RATE_BURST":         cfg.RateBurst,
		"POLL_SCHEDULE":      cfg.PollSchedule,
		"OPTIMIZER_DISPATCH": cfg.Optimizer.Dispatch,
		"OPTIMIZER_WORKERS":  cfg.Optimizer.Workers,
		"HAS_OPTIMIZER_URL":  cfg.Optimizer.URL != "",
		"HAS_DATABASE_URL":   cfg.DatabaseURL != "",
		"HAS_REDIS_URL":      cfg.RedisURL != "",
		"HAS_MAPS_API_KEY":   cfg.MapsAPIKey != "",
		"HAS_WEBHOOK_URL":    cfg.Webhook.URL != "",
	}
}
