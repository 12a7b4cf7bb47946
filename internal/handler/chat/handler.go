// Package chat exposes the session and chat-streaming HTTP endpoints.
package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qiwenz/parley/backend/internal/logging"
	chatmodel "github.com/qiwenz/parley/backend/internal/model/chat"
	chatservice "github.com/qiwenz/parley/backend/internal/service/chat"
	"github.com/qiwenz/parley/backend/internal/service/stream"
	"github.com/qiwenz/parley/backend/pkg/utils"
)

// Handler serves session management and the streaming chat endpoint.
type Handler struct {
	store  *chatservice.Store
	bridge *stream.Bridge
}

// New creates the handler. bridge may be nil when no model provider is
// configured; the chat endpoint then responds 503.
func New(store *chatservice.Store, bridge *stream.Bridge) *Handler {
	return &Handler{store: store, bridge: bridge}
}

// RegisterRoutes registers the chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}/history", h.handleHistory)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleChat streams the assistant's reply as SSE frames. A missing
// session_id starts a fresh session whose id comes back in the done frame.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.bridge == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat model unavailable")
		return
	}

	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = h.store.CreateSession()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)

	logging.Info().Str("session_id", sessionID).Msg("chat stream opened")

	ctx := r.Context()
	for frame := range h.bridge.Run(ctx, sessionID, payload.Message) {
		utils.SendSSEChunk(w, flusher, frame)
	}

	logging.Info().Str("session_id", sessionID).Msg("chat stream closed")
}

// handleCreateSession mints a fresh session.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := h.store.CreateSession()
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

type historyResponse struct {
	SessionID string              `json:"session_id"`
	Messages  []chatmodel.Message `json:"messages"`
}

// handleHistory returns the stored turns for one session.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	history, ok := h.store.SessionSnapshot(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	messages := history.Snapshot()
	if messages == nil {
		messages = []chatmodel.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: messages})
}
