// Package api implements the HTTP surface of the auto-planning coordinator and the optimizer.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autoplan/internal/auth"
	"autoplan/internal/metrics"
	"autoplan/internal/planning"
)

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Server struct {
	// Planning is nil in the optimizer process; the planning routes are not mounted then.
	Planning *planning.Service
	// Optimizer serves the solver boundary. Nil when the solver is remote.
	Optimizer planning.Solver
	Auth      *auth.Verifier
	Broker    EventBroker
	Limiter   *RateLimiter
	Checks    []Check
	// Info is reported by /debug/info next to the build details.
	Info map[string]any
}

func NewServer(p *planning.Service, solver planning.Solver, verifier *auth.Verifier, broker EventBroker) *Server {
	if broker == nil {
		broker = NewBroker()
	}
	return &Server{Planning: p, Optimizer: solver, Auth: verifier, Broker: broker}
}

// Handler builds the router wrapped in the logging, metrics and rate limit middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.Planning != nil {
		mux.HandleFunc("POST /v1/auto-planning", s.AutoPlanHandler)
		mux.HandleFunc("GET /v1/auto-planning", s.PlanForDateHandler)
		mux.HandleFunc("GET /v1/auto-planning/pending", s.PendingHandler)
		mux.HandleFunc("GET /v1/auto-planning/awaiting", s.AwaitingHandler)
		mux.HandleFunc("GET /v1/auto-planning/events", s.EventsHandler)
		mux.HandleFunc("GET /v1/auto-planning/stream", s.StreamHandler)
		mux.HandleFunc("GET /v1/auto-planning/ws", s.WSHandler)
		mux.HandleFunc("GET /v1/auto-planning/{id}", s.PlanByIDHandler)
		mux.HandleFunc("POST /v1/auto-planning/{id}/accept", s.AcceptHandler)
		mux.HandleFunc("POST /v1/auto-planning/{id}/reject", s.RejectHandler)
		mux.HandleFunc("POST /v1/auto-planning/{id}/consume", s.ConsumeHandler)
	}
	if s.Optimizer != nil {
		mux.HandleFunc("POST /api/optimizer", s.OptimizerSubmitHandler)
		mux.HandleFunc("GET /api/optimizer/{id}", s.OptimizerResultHandler)
	}

	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.HandleFunc("GET /debug/info", s.DebugJSON)
	mux.HandleFunc("GET /openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("GET /docs", s.DocsHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	var h http.Handler = mux
	if s.Limiter != nil {
		h = s.Limiter.Middleware(h)
	}
	return logMiddleware(h)
}
