package conversation

import (
	"fmt"
	"strings"

	"tutor-agent/internal/domain"
)

const (
	// TutorPrompt is the default instructional preamble for a session.
	TutorPrompt = "You explain things in a simple, friendly way so that a 10-year-old can understand. " +
		"Use short sentences and everyday words. When you answer a question, give a clear answer " +
		"and then ask: 'Do you want more info?' When the user wants more info, give more details " +
		"on the same topic in the same simple style, then ask again: 'Do you want more info?'"

	// Greeting is shown before the first question.
	Greeting = "What would you like to know? Ask me anything!"

	// ClosingRemark is the fixed reply when the user declines more detail.
	ClosingRemark = "Sure! What else can I help you with?"

	elaborateDirective = "The user said they want more information. Give more details about what " +
		"we were just talking about, in the same simple way. Then end by asking: Do you want more info?"
)

func elaborateRequestTurn(topic string) domain.Turn {
	if topic == "" {
		return domain.UserTurn(elaborateDirective)
	}
	return domain.UserTurn(elaborateDirective + "\nThe topic was: " + topic)
}

// answerPreamble extends the base instructions with retrieved passages.
// When retrieval is configured the model must say where its answer came
// from; with no passages it is told to fall back to general knowledge.
func answerPreamble(base string, retrieval bool, passages []domain.Passage) string {
	if !retrieval {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")
	if len(passages) == 0 {
		b.WriteString("No course documents matched this question. Answer from general knowledge ")
		b.WriteString("and begin your answer with: \"(From general knowledge)\".")
		return b.String()
	}

	b.WriteString("Course Documents:\n")
	for i, p := range passages {
		label := strings.TrimSpace(p.SourceLabel)
		if label == "" {
			label = "unknown"
		}
		fmt.Fprintf(&b, "[Source %d: %s]\n%s\n[End Source %d]\n\n", i+1, label, strings.TrimSpace(p.Content), i+1)
	}
	b.WriteString("Source Rules:\n")
	b.WriteString("1) Prefer the course documents above when they answer the question.\n")
	b.WriteString("2) Begin your answer with \"(From course documents: <source names>)\" when you used them, ")
	b.WriteString("or \"(From general knowledge)\" when they did not help.\n")
	b.WriteString("3) Never invent a source name that is not listed above.")
	return b.String()
}
