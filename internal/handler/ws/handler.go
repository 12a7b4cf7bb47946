// Package ws carries the same chat streams as the SSE endpoint over a
// websocket, for clients that want a bidirectional connection.
package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/qiwenz/parley/backend/internal/logging"
	"github.com/qiwenz/parley/backend/internal/service/stream"
)

// Handler upgrades chat connections to websockets and relays bridge
// frames onto them.
type Handler struct {
	bridge   *stream.Bridge
	upgrader websocket.Upgrader
}

// New creates the websocket handler.
func New(bridge *stream.Bridge) *Handler {
	return &Handler{
		bridge: bridge,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the websocket route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.handleChat)
}

type inboundMessage struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleChat reads one chat request per text message and streams the
// response frames back on the same connection. Requests are handled one
// at a time; a second request sent mid-stream waits its turn.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil || in.Message == "" || in.SessionID == "" {
			h.writeFrame(conn, stream.Frame{Kind: stream.FrameError, Message: "expected {session_id, message}"})
			continue
		}

		if !h.relay(ctx, conn, in) {
			return
		}
	}
}

// relay runs one chat stream and forwards its frames. It reports false
// when the connection is no longer usable.
func (h *Handler) relay(ctx context.Context, conn *websocket.Conn, in inboundMessage) bool {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := h.bridge.Run(streamCtx, in.SessionID, in.Message)
	for frame := range frames {
		if !h.writeFrame(conn, frame) {
			// Writer is gone; cancel and drain so the producer unblocks.
			cancel()
			for range frames {
			}
			return false
		}
	}
	return true
}

func (h *Handler) writeFrame(conn *websocket.Conn, frame stream.Frame) bool {
	if err := conn.WriteJSON(frame); err != nil {
		logging.Warn().Err(err).Msg("websocket write failed")
		return false
	}
	return true
}
