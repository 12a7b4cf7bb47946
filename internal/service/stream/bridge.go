// Package stream connects the agent's event stream to transport-shaped
// frames, persisting the assistant reply before the stream completes.
package stream

import (
	"context"
	"strings"

	"github.com/qiwenz/parley/backend/internal/logging"
	chatmodel "github.com/qiwenz/parley/backend/internal/model/chat"
	"github.com/qiwenz/parley/backend/internal/service/ai"
	"github.com/qiwenz/parley/backend/internal/service/chat"
)

// Frame is one unit of a streamed chat response, shaped for direct JSON
// encoding onto SSE or websocket transports.
type Frame struct {
	Kind      string `json:"kind"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

const (
	// FrameText carries a fragment of the assistant's reply.
	FrameText = "text"
	// FrameDone marks successful completion and echoes the session id.
	FrameDone = "done"
	// FrameError reports a failure; no frames follow it.
	FrameError = "error"
)

// EventSource is the translated model stream the bridge consumes.
// *ai.EventStream implements it.
type EventSource interface {
	Recv() (ai.ChatStreamEvent, bool)
	Close()
}

// ChatStreamer is the slice of the agent the bridge depends on.
type ChatStreamer interface {
	StreamChat(ctx context.Context, prompt string, history []chatmodel.Message) EventSource
}

// AgentStreamer adapts *ai.Agent to the ChatStreamer interface.
type AgentStreamer struct {
	Agent *ai.Agent
}

func (a AgentStreamer) StreamChat(ctx context.Context, prompt string, history []chatmodel.Message) EventSource {
	return a.Agent.StreamChat(ctx, prompt, history)
}

// Bridge runs chat completions against the model and owns the
// persistence rules around them: the user message is stored before the
// stream starts, and the assembled assistant reply is stored before the
// done frame is emitted. A disconnected or failed stream persists
// nothing of the partial reply.
type Bridge struct {
	agent  ChatStreamer
	store  *chat.Store
	buffer int
}

// NewBridge wires the bridge. buffer is the frame channel capacity; zero
// means unbuffered, so every frame is handed off synchronously.
func NewBridge(agent ChatStreamer, store *chat.Store, buffer int) *Bridge {
	if buffer < 0 {
		buffer = 0
	}
	return &Bridge{agent: agent, store: store, buffer: buffer}
}

// Run persists the user message, starts a completion, and returns the
// channel of response frames. The channel is closed when the stream
// terminates for any reason. Cancelling ctx abandons the stream: the
// producer stops at the next frame hand-off and the partial assistant
// reply is discarded.
func (b *Bridge) Run(ctx context.Context, sessionID, userMessage string) <-chan Frame {
	b.store.AddUserMessage(sessionID, userMessage)

	snapshot, ok := b.store.SessionSnapshot(sessionID)
	if !ok {
		// AddUserMessage just upserted the session; losing it here would
		// mean the store violated its own contract.
		panic("stream: session vanished after user message persisted")
	}

	frames := make(chan Frame, b.buffer)
	go b.produce(ctx, frames, sessionID, userMessage, snapshot.Snapshot())
	return frames
}

func (b *Bridge) produce(ctx context.Context, frames chan<- Frame, sessionID, userMessage string, history []chatmodel.Message) {
	defer close(frames)

	events := b.agent.StreamChat(ctx, userMessage, history)
	defer events.Close()

	var reply strings.Builder
	for {
		ev, ok := events.Recv()
		if !ok {
			return
		}

		switch ev.Kind {
		case ai.KindTextDelta:
			reply.WriteString(ev.Text)
			if !b.send(ctx, frames, Frame{Kind: FrameText, Content: ev.Text}) {
				return
			}

		case ai.KindDone:
			// Persist before signalling completion, so a client that saw
			// the done frame can rely on the reply being in the history.
			b.store.AddAssistantMessage(sessionID, reply.String())
			b.send(ctx, frames, Frame{Kind: FrameDone, SessionID: sessionID})
			return

		case ai.KindError:
			logging.Error().Str("session_id", sessionID).Str("error", ev.Message).Msg("chat stream failed")
			b.send(ctx, frames, Frame{Kind: FrameError, Message: ev.Message})
			return
		}
	}
}

// send hands one frame to the consumer, or reports false if the request
// context was cancelled first.
func (b *Bridge) send(ctx context.Context, frames chan<- Frame, f Frame) bool {
	select {
	case frames <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
