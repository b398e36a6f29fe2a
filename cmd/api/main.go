// Command api runs the auto-planning coordinator: the planning HTTP API, the result
// poller and, unless OPTIMIZER_URL points elsewhere, the solver itself.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"autoplan/internal/api"
	"autoplan/internal/app"
	"autoplan/internal/auth"
	"autoplan/internal/catalog"
	"autoplan/internal/config"
	"autoplan/internal/distance"
	"autoplan/internal/metrics"
	"autoplan/internal/optimizer"
	"autoplan/internal/planning"
	"autoplan/internal/poller"
	"autoplan/internal/store"
	"autoplan/internal/webhooks"
)

var interruptSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGINT,
}

func main() {
	_ = godotenv.Load()
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}
	app.SetupLogging(cfg, nil)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), interruptSignals...)
	defer stop()

	var checks []api.Check

	var jobs store.JobStore = store.NewMemory()
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot open database")
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		log.Info().Msg("db migrated successfully")
		jobs = pg
		checks = append(checks, api.Check{Name: "postgres", Ping: pg.Ping})
	} else {
		log.Warn().Msg("DATABASE_URL not set, planning jobs are kept in memory")
	}

	var (
		rdb      *redis.Client
		redisOpt asynq.RedisClientOpt
	)
	if cfg.RedisURL != "" {
		rdb, redisOpt, err = app.Redis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot connect to redis")
		}
		defer rdb.Close()
		checks = append(checks, app.RedisCheck(rdb))
	}

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.CatalogFile).Msg("cannot load catalog")
	}

	var dist distance.Provider = distance.Fallback{}
	if cfg.MapsAPIKey != "" {
		google, err := distance.NewGoogle(cfg.MapsAPIKey, "en")
		if err != nil {
			log.Fatal().Err(err).Msg("cannot create maps client")
		}
		dist = distance.WithFallback(google, distance.Fallback{})
	} else {
		log.Warn().Msg("GOOGLE_MAPS_API_KEY not set, using estimated distances")
	}
	dist = distance.NewCached(dist)

	// solver: remote over HTTP, or in this process
	var (
		solver   planning.Solver
		boundary planning.Solver
	)
	if cfg.Optimizer.URL != "" {
		solver = optimizer.NewClient(cfg.Optimizer.URL)
		log.Info().Str("url", cfg.Optimizer.URL).Msg("using remote optimizer")
	} else {
		svc, cleanup, err := app.Solver(ctx, cfg, rdb, redisOpt)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot create optimizer")
		}
		defer cleanup()
		solver, boundary = svc, svc
		log.Info().Str("dispatch", cfg.Optimizer.Dispatch).Int("workers", cfg.Optimizer.Workers).Msg("using in-process optimizer")
	}

	var broker api.EventBroker = api.NewBroker()
	if rdb != nil {
		broker = api.NewRedisBroker(rdb)
	}

	planner := planning.NewService(jobs, cat, dist, solver, cat, cfg.Depot)
	sinks := planning.Sinks{api.BrokerSink{Broker: broker}}
	if cfg.Webhook.URL != "" {
		hooks := webhooks.NewWorker(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.MaxAttempts)
		hooks.Start(ctx, time.Second)
		sinks = append(sinks, hooks)
		log.Info().Str("url", cfg.Webhook.URL).Msg("planning events are pushed to webhook")
	}
	planner.Events = sinks

	srv := api.NewServer(planner, boundary, auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret, cfg.Auth.UserClaim, cfg.Auth.RoleClaim), broker)
	srv.Limiter = api.NewRateLimiter(cfg.RateRPS, cfg.RateBurst)
	srv.Checks = checks
	srv.Info = app.Info(cfg)

	p := poller.New(jobs, solver, planner, cfg.PollSchedule)
	if err := p.Start(); err != nil {
		log.Fatal().Err(err).Msg("cannot start result poller")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		p.Stop()
		return nil
	})
	app.RunHTTP(ctx, g, cfg.Addr(), srv.Handler())

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("error from wait group")
	}
}
