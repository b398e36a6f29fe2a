package api

import (
	"errors"
	"net/http"
	"strings"

	"autoplan/internal/auth"
)

var errNoPrincipal = errors.New("missing or invalid credentials")

type Principal struct {
	Requester string
	Role      string // admin, dispatcher, user
}

// getPrincipal extracts requester and role from a bearer token or, in dev mode, headers.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac).
// - Websocket clients may pass the token as ?access_token=.
// - Else, in dev mode only, falls back to X-User-Id / X-Role.
func (s *Server) getPrincipal(r *http.Request) (Principal, error) {
	tok := ""
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		tok = strings.TrimSpace(authz[len("Bearer "):])
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		tok = q
	}
	if tok != "" && s.Auth != nil {
		pr, err := s.Auth.Verify(tok)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Requester: pr.Requester, Role: pr.Role}, nil
	}
	if s.Auth != nil && s.Auth.Mode != "dev" {
		return Principal{}, errNoPrincipal
	}
	requester := r.Header.Get("X-User-Id")
	if requester == "" {
		return Principal{}, errNoPrincipal
	}
	role := strings.ToLower(r.Header.Get("X-Role"))
	if role == "" {
		role = "dispatcher"
	}
	return Principal{Requester: requester, Role: role}, nil
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanPlan reports whether the principal may run auto planning.
func (p Principal) CanPlan() bool { return p.IsAdmin() || p.Role == "dispatcher" }

// planner resolves the caller and checks the planning role. It writes the
// problem response itself and returns false when the request must stop.
func (s *Server) planner(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, err := s.getPrincipal(r)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, auth.ErrExpiredToken) {
			msg = "token expired"
		}
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", msg, r.URL.Path)
		return p, false
	}
	if !p.CanPlan() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return p, false
	}
	return p, true
}
