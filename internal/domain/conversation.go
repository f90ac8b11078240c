package domain

// Phase governs how the next user utterance is interpreted.
type Phase string

const (
	PhaseAwaitingQuestion       Phase = "awaiting_question"
	PhaseOfferedMoreAfterAnswer Phase = "offered_more_after_answer"
	PhaseOfferedMoreAfterDetail Phase = "offered_more_after_detail"
)

// ParsePhase maps a persisted phase name back to a Phase. Unknown values
// reset to PhaseAwaitingQuestion.
func ParsePhase(s string) Phase {
	switch Phase(s) {
	case PhaseOfferedMoreAfterAnswer:
		return PhaseOfferedMoreAfterAnswer
	case PhaseOfferedMoreAfterDetail:
		return PhaseOfferedMoreAfterDetail
	default:
		return PhaseAwaitingQuestion
	}
}

// OffersMore reports whether the assistant's last reply ended with an offer
// of more detail.
func (p Phase) OffersMore() bool {
	return p == PhaseOfferedMoreAfterAnswer || p == PhaseOfferedMoreAfterDetail
}

// ConversationState is the per-session state owned by a single session.
// History begins with at most one system Turn.
type ConversationState struct {
	Phase     Phase
	LastTopic string
	History   []Turn
}

// NewConversationState returns the initial state, seeded with a system
// instruction when systemPrompt is non-empty.
func NewConversationState(systemPrompt string) ConversationState {
	state := ConversationState{Phase: PhaseAwaitingQuestion}
	if systemPrompt != "" {
		state.History = []Turn{SystemTurn(systemPrompt)}
	}
	return state
}

// Clone returns a copy whose History can be appended to without aliasing s.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.History = make([]Turn, len(s.History))
	copy(out.History, s.History)
	return out
}

// SystemPrompt returns the content of the leading system Turn, if any.
func (s ConversationState) SystemPrompt() (string, bool) {
	if len(s.History) > 0 && s.History[0].Role == RoleSystem {
		return s.History[0].Content, true
	}
	return "", false
}

// Dialogue returns History without the leading system Turn.
func (s ConversationState) Dialogue() []Turn {
	if _, ok := s.SystemPrompt(); ok {
		return s.History[1:]
	}
	return s.History
}
