package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/grant-traynor/bp6-sub001/internal/session"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	TaskRef string   `json:"taskRef,omitempty"`
	Persona string   `json:"persona,omitempty"`
	Backend string   `json:"backend,omitempty"`
	Prompt  string   `json:"prompt,omitempty"`
	Queue   []string `json:"queue,omitempty"`
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List(r.Context())

	// Ensure we return an empty array [] instead of null
	if sessions == nil {
		sessions = []types.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	info, err := s.sessions.Create(r.Context(), session.CreateOptions{
		TaskRef:       req.TaskRef,
		Persona:       req.Persona,
		Backend:       req.Backend,
		InitialPrompt: req.Prompt,
		QueuedTurns:   req.Queue,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	info, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// deleteSession handles DELETE /session/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.sessions.Remove(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}

	writeSuccess(w)
}

// SendMessageRequest represents the request body for sending a message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// sendMessage handles POST /session/{sessionID}/message
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}

	if err := s.sessions.Send(r.Context(), sessionID, req.Text); err != nil {
		writeServiceError(w, err)
		return
	}

	writeSuccess(w)
}

// interruptSession handles POST /session/{sessionID}/interrupt
func (s *Server) interruptSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.sessions.Interrupt(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}

	writeSuccess(w)
}

// handoverSession handles POST /session/{sessionID}/handover
func (s *Server) handoverSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	info, err := s.sessions.Handover(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// EnqueueRequest represents the request body for queueing turns.
type EnqueueRequest struct {
	Prompts []string `json:"prompts"`
}

// enqueueTurns handles POST /session/{sessionID}/queue
func (s *Server) enqueueTurns(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if len(req.Prompts) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "prompts is required")
		return
	}

	info, err := s.sessions.Enqueue(r.Context(), sessionID, req.Prompts)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// setActiveSession handles POST /session/{sessionID}/active
func (s *Server) setActiveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.sessions.SetActive(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}

	writeSuccess(w)
}
