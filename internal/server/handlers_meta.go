package server

import (
	"net/http"

	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// listBackends handles GET /backend
func (s *Server) listBackends(w http.ResponseWriter, r *http.Request) {
	backends := s.backends.List()
	if backends == nil {
		backends = []types.BackendInfo{}
	}

	writeJSON(w, http.StatusOK, backends)
}

// listPersonas handles GET /persona
func (s *Server) listPersonas(w http.ResponseWriter, r *http.Request) {
	personas := s.personas.List()
	if personas == nil {
		personas = []types.PersonaInfo{}
	}

	writeJSON(w, http.StatusOK, personas)
}

// listTasks handles GET /task
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.feed.Read()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []types.Task{}
	}

	writeJSON(w, http.StatusOK, tasks)
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.config.Version,
	})
}
