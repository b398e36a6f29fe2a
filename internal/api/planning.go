package api

import (
	"net/http"

	"autoplan/internal/model"
)

// AutoPlanHandler handles POST /v1/auto-planning
func (s *Server) AutoPlanHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	var req autoPlanRequest
	if err := decodeValid(r, w, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid auto-planning request", err.Error(), r.URL.Path)
		return
	}
	job, err := s.Planning.AutoPlan(r.Context(), p.Requester, req.Date, req.OrderIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/auto-planning/"+job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"planningId": job.ID, "status": job.Status})
}

// PlanForDateHandler handles GET /v1/auto-planning?date=YYYY-MM-DD
func (s *Server) PlanForDateHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeProblem(w, http.StatusBadRequest, "Missing date", "date query parameter is required", r.URL.Path)
		return
	}
	job, err := s.Planning.GetForDate(r.Context(), p.Requester, date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// PendingHandler handles GET /v1/auto-planning/pending
func (s *Server) PendingHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	jobs, err := s.Planning.GetPendingJobs(r.Context(), p.Requester)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.PlanningJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
}

// AwaitingHandler handles GET /v1/auto-planning/awaiting; 204 when nothing awaits review.
func (s *Server) AwaitingHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	job, found, err := s.Planning.GetAwaitingJob(r.Context(), p.Requester)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// EventsHandler handles GET /v1/auto-planning/events
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	events, err := s.Planning.ListEvents(r.Context(), p.Requester)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

// PlanByIDHandler handles GET /v1/auto-planning/{id}
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	job, err := s.Planning.Get(r.Context(), p.Requester, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// AcceptHandler handles POST /v1/auto-planning/{id}/accept
func (s *Server) AcceptHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	routes, err := s.Planning.AcceptJob(r.Context(), p.Requester, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"planningId": id, "status": model.StatusAccepted, "routes": routes})
}

// RejectHandler handles POST /v1/auto-planning/{id}/reject
func (s *Server) RejectHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	job, err := s.Planning.RejectJob(r.Context(), p.Requester, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ConsumeHandler handles POST /v1/auto-planning/{id}/consume
func (s *Server) ConsumeHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	job, err := s.Planning.ConsumeJob(r.Context(), p.Requester, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
