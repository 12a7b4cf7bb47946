// Package chat owns per-session conversation state: the bounded history
// buffer and the concurrent in-memory session store.
package chat

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/qiwenz/parley/backend/internal/event"
)

// Store maps opaque session identifiers to conversation histories. All
// handlers share one Store; the map is guarded by a single mutex held only
// for the duration of the map access, never across I/O.
//
// Sessions are never evicted. That is intentional for the single-process
// deployment this service targets; restart clears everything.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*ConversationHistory
	maxTurns int
	bus      *event.Bus
}

// NewStore creates an empty session store. maxTurns bounds each session's
// history (clamped per NewConversationHistory). bus may be nil, in which
// case no lifecycle events are published.
func NewStore(maxTurns int, bus *event.Bus) *Store {
	return &Store{
		sessions: make(map[string]*ConversationHistory),
		maxTurns: maxTurns,
		bus:      bus,
	}
}

// CreateSession mints a new session id and inserts an empty history.
func (s *Store) CreateSession() string {
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = NewConversationHistory(s.maxTurns)
	s.mu.Unlock()

	s.publish(event.SessionCreated, event.SessionCreatedData{SessionID: id})
	return id
}

// SessionSnapshot returns an independent copy of the session's history, or
// false if the session does not exist. Callers may read or mutate the copy
// freely without affecting stored state.
func (s *Store) SessionSnapshot(id string) (*ConversationHistory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return history.clone(), true
}

// AddUserMessage appends a user turn to the session, creating the session
// first if the id is unknown. Auto-creation exists for clients that mint
// their own ids; CreateSession is the preferred path.
func (s *Store) AddUserMessage(id, content string) {
	s.mu.Lock()
	history, ok := s.sessions[id]
	if !ok {
		history = NewConversationHistory(s.maxTurns)
		s.sessions[id] = history
	}
	history.AddUser(content)
	s.mu.Unlock()

	if !ok {
		s.publish(event.SessionCreated, event.SessionCreatedData{SessionID: id})
	}
	s.publish(event.MessageCreated, event.MessageCreatedData{SessionID: id, Role: "user"})
}

// AddAssistantMessage appends an assistant turn to an existing session.
// Calling it for an unknown id is a programming error — an assistant turn
// can only follow a user turn that established the session — so it panics
// rather than returning a recoverable error.
func (s *Store) AddAssistantMessage(id, content string) {
	s.mu.Lock()
	history, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		panic(fmt.Sprintf("chat: assistant message for unknown session %q", id))
	}
	history.AddAssistant(content)
	s.mu.Unlock()

	s.publish(event.MessageCreated, event.MessageCreatedData{SessionID: id, Role: "assistant"})
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) publish(t event.Type, data any) {
	if s.bus != nil {
		s.bus.Publish(t, data)
	}
}
