// Command optimizer runs the solver boundary on its own: the optimizer HTTP endpoints,
// the asynq task processor when Redis is configured, and health/metrics.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"autoplan/internal/api"
	"autoplan/internal/app"
	"autoplan/internal/config"
	"autoplan/internal/metrics"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}
	app.SetupLogging(cfg, nil)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var (
		rdb      *redis.Client
		redisOpt asynq.RedisClientOpt
		checks   []api.Check
	)
	if cfg.RedisURL != "" {
		rdb, redisOpt, err = app.Redis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot connect to redis")
		}
		defer rdb.Close()
		checks = append(checks, app.RedisCheck(rdb))
	}

	svc, cleanup, err := app.Solver(ctx, cfg, rdb, redisOpt)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot create optimizer")
	}
	defer cleanup()

	srv := api.NewServer(nil, svc, nil, nil)
	srv.Checks = checks
	srv.Info = app.Info(cfg)

	g, ctx := errgroup.WithContext(ctx)
	if rdb != nil {
		app.RunProcessor(ctx, g, cfg, redisOpt, svc.Run)
	}
	app.RunHTTP(ctx, g, cfg.Addr(), srv.Handler())

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("error from wait group")
	}
}
