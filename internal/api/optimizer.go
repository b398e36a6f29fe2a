package api

import (
	"encoding/json"
	"net/http"

	"autoplan/internal/model"
)

// OptimizerSubmitHandler handles POST /api/optimizer. The solver only acknowledges the
// request; results are fetched by planning id.
func (s *Server) OptimizerSubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req model.OptimizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := s.Optimizer.Submit(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"planningId": req.PlanningID, "status": model.StatusInProgress})
}

// OptimizerResultHandler handles GET /api/optimizer/{id}
func (s *Server) OptimizerResultHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.Optimizer.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
