package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatmodel "github.com/qiwenz/parley/backend/internal/model/chat"
	"github.com/qiwenz/parley/backend/internal/service/ai"
	chatservice "github.com/qiwenz/parley/backend/internal/service/chat"
	"github.com/qiwenz/parley/backend/internal/service/stream"
)

type cannedStreamer struct {
	events []ai.ChatStreamEvent
}

type cannedSource struct {
	events []ai.ChatStreamEvent
	idx    int
}

func (s *cannedSource) Recv() (ai.ChatStreamEvent, bool) {
	if s.idx >= len(s.events) {
		return ai.ChatStreamEvent{}, false
	}
	ev := s.events[s.idx]
	s.idx++
	return ev, true
}

func (s *cannedSource) Close() {}

func (f *cannedStreamer) StreamChat(context.Context, string, []chatmodel.Message) stream.EventSource {
	return &cannedSource{events: f.events}
}

func dialTestServer(t *testing.T, handler http.Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) stream.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f stream.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWebSocketChatRoundTrip(t *testing.T) {
	streamer := &cannedStreamer{events: []ai.ChatStreamEvent{
		{Kind: ai.KindTextDelta, Text: "Hi"},
		{Kind: ai.KindTextDelta, Text: " there"},
		{Kind: ai.KindDone},
	}}
	store := chatservice.NewStore(chatservice.DefaultMaxTurns, nil)
	bridge := stream.NewBridge(streamer, store, 4)

	r := chi.NewRouter()
	New(bridge).RegisterRoutes(r)
	conn := dialTestServer(t, r)

	sessionID := store.CreateSession()
	if err := conn.WriteJSON(inboundMessage{SessionID: sessionID, Message: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := []stream.Frame{
		{Kind: stream.FrameText, Content: "Hi"},
		{Kind: stream.FrameText, Content: " there"},
		{Kind: stream.FrameDone, SessionID: sessionID},
	}
	for i, w := range want {
		if got := readFrame(t, conn); got != w {
			t.Fatalf("frame %d = %+v, want %+v", i, got, w)
		}
	}

	history, ok := store.SessionSnapshot(sessionID)
	if !ok || history.Len() != 2 {
		t.Fatalf("history after stream: ok=%v len=%d", ok, history.Len())
	}
}

func TestWebSocketRejectsMalformedRequest(t *testing.T) {
	store := chatservice.NewStore(chatservice.DefaultMaxTurns, nil)
	bridge := stream.NewBridge(&cannedStreamer{}, store, 4)

	r := chi.NewRouter()
	New(bridge).RegisterRoutes(r)
	conn := dialTestServer(t, r)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f.Kind != stream.FrameError {
		t.Fatalf("frame = %+v, want error", f)
	}

	// Missing session_id is also rejected before touching the store.
	if err := conn.WriteJSON(inboundMessage{Message: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f.Kind != stream.FrameError {
		t.Fatalf("frame = %+v, want error", f)
	}
	if store.Len() != 0 {
		t.Fatalf("store has %d sessions, want 0", store.Len())
	}
}
