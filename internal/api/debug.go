package api

import (
	"context"
	"net/http"
	"time"

	"autoplan/internal/buildinfo"
)

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

// ReadyHandler pings every configured backend (Postgres, Redis).
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	for _, c := range s.Checks {
		if err := c.Ping(ctx); err != nil {
			writeProblem(w, 503, "Not Ready", c.Name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	checks := make([]string, 0, len(s.Checks))
	for _, c := range s.Checks {
		checks = append(checks, c.Name)
	}
	writeJSON(w, 200, map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": s.Info,
		"checks": checks,
		"routes": map[string]bool{"planning": s.Planning != nil, "optimizer": s.Optimizer != nil},
	})
}
