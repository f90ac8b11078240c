package conversation

import (
	"strings"

	"tutor-agent/internal/domain"
)

// Intent is the 3-way classification of a user utterance.
type Intent int

const (
	IntentOther Intent = iota
	IntentYes
	IntentNo
)

func (i Intent) String() string {
	switch i {
	case IntentYes:
		return "yes"
	case IntentNo:
		return "no"
	default:
		return "other"
	}
}

// Matcher classifies utterances against fixed affirmation and negation sets.
type Matcher struct {
	yes map[string]struct{}
	no  map[string]struct{}
}

// NewMatcher builds a Matcher. Entries are normalized the same way
// utterances are.
func NewMatcher(affirmations, negations []string) *Matcher {
	m := &Matcher{
		yes: make(map[string]struct{}, len(affirmations)),
		no:  make(map[string]struct{}, len(negations)),
	}
	for _, a := range affirmations {
		m.yes[normalize(a)] = struct{}{}
	}
	for _, n := range negations {
		m.no[normalize(n)] = struct{}{}
	}
	return m
}

var defaultMatcher = NewMatcher(
	[]string{"yes", "y", "yeah", "yep", "sure", "more", "please"},
	[]string{"no", "n", "nope", "nah", "no thanks"},
)

// Classify uses the default affirmation and negation sets.
func Classify(utterance string) Intent {
	return defaultMatcher.Classify(utterance)
}

func (m *Matcher) Classify(utterance string) Intent {
	key := normalize(utterance)
	if _, ok := m.yes[key]; ok {
		return IntentYes
	}
	if _, ok := m.no[key]; ok {
		return IntentNo
	}
	return IntentOther
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimSpace(strings.TrimRight(s, ".!"))
}

// Action is what the controller does with an utterance.
type Action string

const (
	ActionAnswer    Action = "answer"
	ActionElaborate Action = "elaborate"
	ActionClose     Action = "close"
)

// Transition is the phase machine. It is total over (phase, intent); yes/no
// replies only carry meaning after the assistant has offered more detail.
func Transition(phase domain.Phase, intent Intent) (Action, domain.Phase) {
	if phase.OffersMore() {
		switch intent {
		case IntentYes:
			return ActionElaborate, domain.PhaseOfferedMoreAfterDetail
		case IntentNo:
			return ActionClose, domain.PhaseAwaitingQuestion
		}
	}
	return ActionAnswer, domain.PhaseOfferedMoreAfterAnswer
}
