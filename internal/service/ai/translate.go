package ai

import (
	"errors"
	"io"

	"github.com/cloudwego/eino/schema"
)

// EventKind classifies a translated stream event.
type EventKind int

const (
	// KindTextDelta carries a text fragment of the assistant's reply.
	KindTextDelta EventKind = iota
	// KindDone marks successful completion of the stream.
	KindDone
	// KindError marks a failure; the stream ends immediately after it.
	KindError
)

// ChatStreamEvent is the provider-agnostic vocabulary every consumer of a
// model stream depends on. Provider-specific item kinds (tool calls, tool
// results, structured content) never cross this boundary.
type ChatStreamEvent struct {
	Kind    EventKind
	Text    string // set for KindTextDelta
	Message string // set for KindError
}

// EventStream translates a provider chunk stream into ChatStreamEvents.
// It is lazy and single-pass: chunks are pulled from the underlying reader
// only as Recv is called, and once a terminal event (Done or Error) has
// been returned, Recv reports ok=false forever.
type EventStream struct {
	src      *schema.StreamReader[*schema.Message]
	received bool
	done     bool
}

// Translate wraps a provider stream. The reader is owned by the returned
// EventStream and is closed when the stream terminates or Close is called.
func Translate(src *schema.StreamReader[*schema.Message]) *EventStream {
	return &EventStream{src: src}
}

// Recv returns the next translated event. Chunks that carry no assistant
// text (tool-call requests, tool results, empty deltas) are consumed and
// filtered. ok is false once the stream has ended.
func (s *EventStream) Recv() (ChatStreamEvent, bool) {
	if s.done {
		return ChatStreamEvent{}, false
	}

	for {
		chunk, err := s.src.Recv()
		if errors.Is(err, io.EOF) {
			s.terminate()
			if !s.received {
				// The provider stream ended without yielding anything,
				// which violates the completion protocol.
				return ChatStreamEvent{Kind: KindError, Message: "model stream ended without a response"}, true
			}
			return ChatStreamEvent{Kind: KindDone}, true
		}
		if err != nil {
			s.terminate()
			return ChatStreamEvent{Kind: KindError, Message: err.Error()}, true
		}

		s.received = true
		if chunk != nil && chunk.Content != "" {
			return ChatStreamEvent{Kind: KindTextDelta, Text: chunk.Content}, true
		}
	}
}

// Close releases the underlying reader. Safe to call at any point, for
// consumers that abandon the stream before its terminal event.
func (s *EventStream) Close() {
	s.terminate()
}

func (s *EventStream) terminate() {
	if !s.done {
		s.done = true
		s.src.Close()
	}
}
