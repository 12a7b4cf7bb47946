package chat

import "github.com/qiwenz/parley/backend/internal/model/chat"

// DefaultMaxTurns is the upper bound on conversation turns kept per session.
const DefaultMaxTurns = 20

// ConversationHistory is a bounded, ordered log of turns for one
// conversation. It holds at most 2*maxTurns messages; once a new message
// would exceed that, the two oldest entries are dropped together, which
// keeps user/assistant pairs aligned as long as turns strictly alternate.
type ConversationHistory struct {
	turns    []chat.Message
	maxTurns int
}

// NewConversationHistory creates an empty history. maxTurns is clamped to
// [0, DefaultMaxTurns].
func NewConversationHistory(maxTurns int) *ConversationHistory {
	if maxTurns > DefaultMaxTurns {
		maxTurns = DefaultMaxTurns
	}
	if maxTurns < 0 {
		maxTurns = 0
	}
	return &ConversationHistory{maxTurns: maxTurns}
}

// AddUser appends a user turn.
func (h *ConversationHistory) AddUser(content string) {
	h.turns = append(h.turns, chat.UserMessage(content))
	h.trim()
}

// AddAssistant appends an assistant turn.
func (h *ConversationHistory) AddAssistant(content string) {
	h.turns = append(h.turns, chat.AssistantMessage(content))
	h.trim()
}

// Len reports the number of stored turns.
func (h *ConversationHistory) Len() int {
	return len(h.turns)
}

// IsEmpty reports whether the history holds no turns.
func (h *ConversationHistory) IsEmpty() bool {
	return len(h.turns) == 0
}

// Snapshot returns an independent copy of the turn sequence, safe to hand
// to an in-flight stream without aliasing the live history.
func (h *ConversationHistory) Snapshot() []chat.Message {
	copied := make([]chat.Message, len(h.turns))
	copy(copied, h.turns)
	return copied
}

// clone returns a deep copy for store snapshot handout.
func (h *ConversationHistory) clone() *ConversationHistory {
	return &ConversationHistory{turns: h.Snapshot(), maxTurns: h.maxTurns}
}

func (h *ConversationHistory) trim() {
	for len(h.turns) > 2*h.maxTurns {
		n := 2
		if len(h.turns) < n {
			n = len(h.turns)
		}
		h.turns = h.turns[n:]
	}
}
