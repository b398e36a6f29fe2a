package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"autoplan/internal/catalog"
	"autoplan/internal/optimizer"
	"autoplan/internal/planning"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeProblemDoc(w, Problem{Title: title, Status: status, Detail: detail, Instance: instance})
}

func writeProblemDoc(w http.ResponseWriter, p Problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeError maps service errors onto problem documents.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := Problem{Detail: err.Error(), Instance: r.URL.Path}
	var verr *planning.ValidationError
	switch {
	case errors.As(err, &verr):
		p.Status, p.Title, p.OrderID = http.StatusBadRequest, "Validation failed", verr.OrderID
	case errors.Is(err, planning.ErrValidation), errors.Is(err, optimizer.ErrRejected):
		p.Status, p.Title = http.StatusBadRequest, "Validation failed"
	case errors.Is(err, planning.ErrUnauthorized):
		p.Status, p.Title = http.StatusForbidden, "Forbidden"
	case errors.Is(err, planning.ErrNotFound), errors.Is(err, optimizer.ErrRunNotFound):
		p.Status, p.Title = http.StatusNotFound, "Not Found"
	case errors.Is(err, planning.ErrConflict), errors.Is(err, catalog.ErrOrderUnavailable):
		p.Status, p.Title = http.StatusConflict, "Conflict"
	case errors.Is(err, planning.ErrInvalidState):
		p.Status, p.Title = http.StatusConflict, "Invalid state"
	case errors.Is(err, planning.ErrDispatch):
		p.Status, p.Title = http.StatusBadGateway, "Dispatch failed"
	case errors.Is(err, optimizer.ErrQueueFull), errors.Is(err, optimizer.ErrPoolClosed):
		p.Status, p.Title = http.StatusServiceUnavailable, "Solver busy"
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		p.Status, p.Title, p.Detail = http.StatusInternalServerError, "Internal error", ""
	}
	writeProblemDoc(w, p)
}
