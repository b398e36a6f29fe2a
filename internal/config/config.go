// Package config loads service settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Tabu struct {
	MaxIterations      int   `yaml:"maxIterations"`
	TabuTenure         int   `yaml:"tabuTenure"`
	NeighborSamples    int   `yaml:"neighborSamples"`
	NoImprovementLimit int   `yaml:"noImprovementLimit"`
	Seed               int64 `yaml:"seed"`
	Workers            int   `yaml:"workers"`
}

type Optimizer struct {
	// URL of a remote optimizer. Empty means the solver runs in this process.
	URL string `yaml:"url"`
	// Dispatch is "pool" (in-process workers) or "asynq" (Redis task queue).
	Dispatch   string        `yaml:"dispatch"`
	Workers    int           `yaml:"workers"`
	QueueDepth int           `yaml:"queueDepth"`
	RunTTL     time.Duration `yaml:"runTTL"`
	Tabu       Tabu          `yaml:"tabu"`
}

type Auth struct {
	Mode       string `yaml:"mode"` // dev or hmac
	HMACSecret string `yaml:"hmacSecret"`
	UserClaim  string `yaml:"userClaim"`
	RoleClaim  string `yaml:"roleClaim"`
}

type Webhook struct {
	URL         string `yaml:"url"`
	Secret      string `yaml:"secret"`
	MaxAttempts int    `yaml:"maxAttempts"`
}

type Config struct {
	Port         string    `yaml:"port"`
	DatabaseURL  string    `yaml:"databaseURL"`
	RedisURL     string    `yaml:"redisURL"`
	PollSchedule string    `yaml:"pollSchedule"`
	MapsAPIKey   string    `yaml:"mapsAPIKey"`
	Depot        string    `yaml:"depot"`
	CatalogFile  string    `yaml:"catalogFile"`
	RateRPS      float64   `yaml:"rateRPS"`
	RateBurst    int       `yaml:"rateBurst"`
	LogLevel     string    `yaml:"logLevel"`
	LogFormat    string    `yaml:"logFormat"`
	Optimizer    Optimizer `yaml:"optimizer"`
	Auth         Auth      `yaml:"auth"`
	Webhook      Webhook   `yaml:"webhook"`
}

func Default() Config {
	return Config{
		Port:         "8080",
		PollSchedule: "*/5 * * * * *",
		Depot:        "Depot",
		CatalogFile:  "catalog.yaml",
		RateRPS:      20,
		RateBurst:    40,
		LogLevel:     "info",
		LogFormat:    "json",
		Optimizer: Optimizer{
			Dispatch:   "pool",
			Workers:    2,
			QueueDepth: 64,
			RunTTL:     24 * time.Hour,
			Tabu:       Tabu{MaxIterations: 1000, TabuTenure: 50, NeighborSamples: 20, NoImprovementLimit: 50, Workers: 1},
		},
		Auth:    Auth{Mode: "dev", UserClaim: "sub", RoleClaim: "role"},
		Webhook: Webhook{MaxAttempts: 10},
	}
}

// Load reads path (when it exists) over the defaults, then applies environment overrides.
// A missing file is not an error unless it was named explicitly.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// FromEnv loads CONFIG_FILE (default config.yaml) and the environment.
func FromEnv() (Config, error) {
	path, explicit := os.LookupEnv("CONFIG_FILE")
	if !explicit {
		path = "config.yaml"
	}
	return Load(path, explicit)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("POLL_SCHEDULE", &c.PollSchedule)
	str("GOOGLE_MAPS_API_KEY", &c.MapsAPIKey)
	str("DEPOT_ADDRESS", &c.Depot)
	str("CATALOG_FILE", &c.CatalogFile)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("OPTIMIZER_URL", &c.Optimizer.URL)
	str("OPTIMIZER_DISPATCH", &c.Optimizer.Dispatch)
	num("OPTIMIZER_WORKERS", &c.Optimizer.Workers)
	num("OPTIMIZER_QUEUE_DEPTH", &c.Optimizer.QueueDepth)
	num("TABU_MAX_ITERATIONS", &c.Optimizer.Tabu.MaxIterations)
	num("TABU_TENURE", &c.Optimizer.Tabu.TabuTenure)
	num("TABU_NEIGHBOR_SAMPLES", &c.Optimizer.Tabu.NeighborSamples)
	num("TABU_NO_IMPROVEMENT_LIMIT", &c.Optimizer.Tabu.NoImprovementLimit)
	num("TABU_WORKERS", &c.Optimizer.Tabu.Workers)
	num("RATE_BURST", &c.RateBurst)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	str("AUTH_USER_CLAIM", &c.Auth.UserClaim)
	str("AUTH_ROLE_CLAIM", &c.Auth.RoleClaim)
	str("WEBHOOK_URL", &c.Webhook.URL)
	str("WEBHOOK_SECRET", &c.Webhook.Secret)
	num("WEBHOOK_MAX_ATTEMPTS", &c.Webhook.MaxAttempts)
	if v, ok := lookup("TABU_SEED"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TABU_SEED: %w", err))
		}
		c.Optimizer.Tabu.Seed = n
	}
	if v, ok := lookup("RATE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_RPS: %w", err))
		}
		c.RateRPS = f
	}
	if v, ok := lookup("RUN_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RUN_TTL: %w", err))
		}
		c.Optimizer.RunTTL = d
	}
	return errors.Join(errs...)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Port))
	}
	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(c.PollSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid poll schedule %q: %w", c.PollSchedule, err))
	}
	switch c.Optimizer.Dispatch {
	case "pool":
	case "asynq":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("asynq dispatch needs REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown optimizer dispatch %q", c.Optimizer.Dispatch))
	}
	if c.Optimizer.Workers <= 0 {
		errs = append(errs, errors.New("optimizer workers must be positive"))
	}
	if c.Optimizer.QueueDepth < 0 {
		errs = append(errs, errors.New("optimizer queue depth must not be negative"))
	}
	if c.Optimizer.RunTTL <= 0 {
		errs = append(errs, errors.New("run TTL must be positive"))
	}
	t := c.Optimizer.Tabu
	if t.MaxIterations < 0 || t.TabuTenure < 0 || t.NeighborSamples < 0 || t.NoImprovementLimit < 0 || t.Workers < 0 {
		errs = append(errs, errors.New("tabu parameters must not be negative"))
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			errs = append(errs, errors.New("hmac auth needs AUTH_HMAC_SECRET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.Auth.Mode))
	}
	if c.RateRPS > 0 && c.RateBurst <= 0 {
		errs = append(errs, errors.New("rate burst must be positive when rate limiting is on"))
	}
	if c.Webhook.URL != "" {
		if u, err := url.Parse(c.Webhook.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid webhook url %q", c.Webhook.URL))
		}
	}
	if strings.TrimSpace(c.Depot) == "" {
		errs = append(errs, errors.New("depot address is required"))
	}
	return errors.Join(errs...)
}

func (c Config) Addr() string { return ":" + c.Port }
