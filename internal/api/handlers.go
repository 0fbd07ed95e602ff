package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/FleetPipe/internal/flow"
	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/store"
	"github.com/BTreeMap/FleetPipe/internal/util"
)

// createConversationRequest is the optional body of POST /conversations.
type createConversationRequest struct {
	Preferences *models.NarrativePreferences `json:"preferences,omitempty"`
}

// turnResponse is the result of POST /conversations/{id}/turns.
type turnResponse struct {
	ConversationID string                `json:"conversationId"`
	Flow           models.FlowType       `json:"flow,omitempty"`
	Render         *models.RenderPayload `json:"render,omitempty"`
	Actions        []models.UIAction     `json:"actions,omitempty"`
	Trace          []models.StepName     `json:"trace,omitempty"`
}

func (s *Server) createConversationHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req createConversationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Server.createConversationHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	var state models.ConversationState
	if req.Preferences != nil {
		if !models.IsValidVerbosity(req.Preferences.Verbosity) {
			writeError(w, http.StatusBadRequest, models.ErrInvalidVerbosity.Error())
			return
		}
		state.FlowContext.Preferences = *req.Preferences
	}

	id := util.GenerateConversationID()
	conv, err := s.st.Create(r.Context(), id, state)
	if err != nil {
		slog.Error("Server.createConversationHandler: failed to create conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}
	slog.Info("Server.createConversationHandler: conversation created", "id", id)
	writeJSONResponse(w, http.StatusCreated, models.Success(conv))
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.st.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		slog.Error("Server.getConversationHandler: failed to load conversation", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	unlock := s.lockConversation(id)
	defer unlock()
	err := s.st.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		slog.Error("Server.deleteConversationHandler: failed to delete conversation", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	slog.Info("Server.deleteConversationHandler: conversation deleted", "id", id)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := r.PathValue("id")

	var req models.TurnRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.turnHandler: validation failed", "error", err, "id", id)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	unlock := s.lockConversation(id)
	defer unlock()

	conv, err := s.st.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		slog.Error("Server.turnHandler: failed to load conversation", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}

	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		fresh, err := s.st.RecordTurn(r.Context(), id, key)
		if err != nil {
			slog.Error("Server.turnHandler: failed to record turn", "error", err, "id", id)
			writeError(w, http.StatusInternalServerError, "Failed to record turn")
			return
		}
		if !fresh {
			slog.Info("Server.turnHandler: duplicate turn ignored", "id", id, "key", key)
			writeJSONResponse(w, http.StatusOK, models.NewAPIResponseBuilder().
				WithStatus(models.APIStatusOK).
				WithMessage("Turn already processed").
				WithResult(conv).
				Build())
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()
	result, err := s.turns.HandleTurn(ctx, conv.State, flow.TurnInput{
		Message:     req.Message,
		Flow:        req.Flow,
		Arguments:   req.Arguments,
		Preferences: req.Preferences,
	})
	switch {
	case errors.Is(err, flow.ErrUnknownFlow):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("Server.turnHandler: turn timed out", "id", id)
		writeError(w, http.StatusGatewayTimeout, "Turn timed out")
		return
	case err != nil:
		slog.Warn("Server.turnHandler: turn aborted", "error", err, "id", id)
		writeError(w, http.StatusServiceUnavailable, "Turn aborted")
		return
	}

	if _, err := s.st.Save(r.Context(), id, result.State); err != nil {
		slog.Error("Server.turnHandler: failed to save conversation", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to save conversation")
		return
	}

	resp := turnResponse{
		ConversationID: id,
		Flow:           result.Flow,
		Render:         result.Render,
		Actions:        result.State.PendingUIActions,
		Trace:          result.Trace,
	}
	slog.Info("Server.turnHandler: turn completed", "id", id, "flow", result.Flow, "steps", len(result.Trace))
	if awaitingSelection(resp.Actions) {
		writeJSONResponse(w, http.StatusOK, models.Pending("Waiting for a selection", resp))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Health(r.Context()); err != nil {
			slog.Warn("Server.healthHandler: dependency unhealthy", "error", err)
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func awaitingSelection(actions []models.UIAction) bool {
	for _, a := range actions {
		if a.Type == models.UIActionSelection {
			return true
		}
	}
	return false
}
