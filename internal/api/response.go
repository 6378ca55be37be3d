package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so an encoding failure can still change the status code
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// TurnResult is the result payload of a processed reply.
type TurnResult struct {
	SessionID string          `json:"session_id"`
	Messages  json.RawMessage `json:"messages"`
}

// encodeMessages renders outbound messages as kind-tagged envelopes.
func encodeMessages(msgs ...models.OutboundMessage) (json.RawMessage, error) {
	data, err := models.MarshalOutbound(msgs)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// writeTurn writes msgs for sessionID with the given status code.
func writeTurn(w http.ResponseWriter, statusCode int, sessionID string, msgs ...models.OutboundMessage) {
	raw, err := encodeMessages(msgs...)
	if err != nil {
		slog.Error("Server.writeTurn: failed to encode outbound messages", "sessionID", sessionID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to encode messages"))
		return
	}
	writeJSONResponse(w, statusCode, models.Success(TurnResult{SessionID: sessionID, Messages: raw}))
}

// writeError maps orchestrator errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		blocked    *models.SafetyBlockedError
		validation *models.ValidationError
		cfgErr     *models.ConfigurationError
	)
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
	case errors.Is(err, models.ErrInactiveSession):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	case errors.As(err, &blocked):
		writeJSONResponse(w, http.StatusLocked, models.ErrorWithResult(err.Error(), map[string]any{
			"level": blocked.Level,
		}))
	case errors.As(err, &validation):
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.ErrorWithResult(err.Error(), validation.Errors))
	case errors.Is(err, models.ErrResponseTooLong):
		writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error(err.Error()))
	case errors.Is(err, models.ErrEmptyResponse),
		errors.Is(err, models.ErrEmptyUserID),
		errors.Is(err, models.ErrEmptySessionID):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, models.ErrAssemblerFailure):
		slog.Error("Server.writeError: character assembly failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to assemble character"))
	case errors.As(err, &cfgErr):
		slog.Error("Server.writeError: configuration error", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Server misconfigured"))
	default:
		slog.Error("Server.writeError: unexpected error", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}
