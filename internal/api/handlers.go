package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// decodeBody decodes a JSON request body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, handler string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn(handler+": request body too large", "limit", tooLarge.Limit)
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Request body too large"))
			return false
		}
		slog.Warn(handler+": failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	return true
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "intakepipe"}))
}

// startSessionHandler handles POST /sessions
func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.startSessionHandler: processing start request", "method", r.Method, "path", r.URL.Path)
	var req models.StartSessionRequest
	if !decodeBody(w, r, &req, "Server.startSessionHandler") {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.startSessionHandler: validation failed", "error", err)
		writeError(w, err)
		return
	}

	id, first, err := s.orch.Start(r.Context(), req.UserID, req.Metadata)
	if err != nil {
		slog.Error("Server.startSessionHandler: failed to start session", "error", err, "userID", req.UserID)
		writeError(w, err)
		return
	}
	slog.Info("Server.startSessionHandler: session started", "sessionID", id, "userID", req.UserID)
	writeTurn(w, http.StatusCreated, id, first)
}

// responseHandler handles POST /sessions/{id}/responses
func (s *Server) responseHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("Server.responseHandler: processing reply", "sessionID", id)
	var req models.UserResponseRequest
	if !decodeBody(w, r, &req, "Server.responseHandler") {
		return
	}

	msgs, err := s.orch.ProcessResponse(r.Context(), id, req.Text)
	if err != nil {
		slog.Warn("Server.responseHandler: turn failed", "sessionID", id, "error", err)
		writeError(w, err)
		return
	}
	slog.Debug("Server.responseHandler: turn processed", "sessionID", id, "messages", len(msgs))
	writeTurn(w, http.StatusOK, id, msgs...)
}

// sessionStateHandler handles GET /sessions/{id}
func (s *Server) sessionStateHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := s.orch.GetConversationState(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// pauseHandler handles POST /sessions/{id}/pause
func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Pause(r.Context(), id); err != nil {
		slog.Warn("Server.pauseHandler: pause failed", "sessionID", id, "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"session_id": id,
		"status":     string(models.StatusPaused),
	}))
}

// resumeHandler handles POST /sessions/{id}/resume
func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	prompt, err := s.orch.Resume(r.Context(), id)
	if err != nil {
		slog.Warn("Server.resumeHandler: resume failed", "sessionID", id, "error", err)
		writeError(w, err)
		return
	}
	writeTurn(w, http.StatusOK, id, prompt)
}

// completeHandler handles POST /sessions/{id}/complete
func (s *Server) completeHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, err := s.orch.Complete(r.Context(), id)
	if err != nil {
		slog.Warn("Server.completeHandler: completion failed", "sessionID", id, "error", err)
		writeError(w, err)
		return
	}
	if summary == nil {
		state, err := s.orch.GetConversationState(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusAccepted, models.Pending("Profile is not complete yet", map[string]any{
			"session_id":   id,
			"completeness": state.Completeness,
		}))
		return
	}
	slog.Info("Server.completeHandler: session completed", "sessionID", id, "archetype", summary.Character.Archetype)
	writeTurn(w, http.StatusOK, id, models.Completed{Summary: summary})
}

// abandonHandler handles POST /sessions/{id}/abandon
func (s *Server) abandonHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Abandon(r.Context(), id); err != nil {
		slog.Warn("Server.abandonHandler: abandon failed", "sessionID", id, "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"session_id": id,
		"status":     string(models.StatusAbandoned),
	}))
}
