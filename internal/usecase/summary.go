package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"tutor-agent/internal/budget"
	"tutor-agent/internal/conversation"
	"tutor-agent/internal/domain"
)

// minSummaryRunes is the shortest document excerpt sent once truncation
// can no longer reach the budget.
const minSummaryRunes = 200

type SummaryStyle string

const (
	SummaryWords      SummaryStyle = "words"
	SummaryParagraphs SummaryStyle = "paragraphs"
	SummaryBullets    SummaryStyle = "bullets"
)

var summaryInstructions = map[SummaryStyle]string{
	SummaryWords:      "Summarize the document in 100 words",
	SummaryParagraphs: "Summarize the document in 2 connecting paragraphs",
	SummaryBullets:    "Summarize the document in 5 bullet points",
}

func ParseSummaryStyle(s string) (SummaryStyle, error) {
	style := SummaryStyle(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := summaryInstructions[style]; !ok {
		return "", fmt.Errorf("usecase: unknown summary style %q (want words, paragraphs or bullets)", s)
	}
	return style, nil
}

type SummaryInput struct {
	Document string
	Style    SummaryStyle
	// Model overrides the service default.
	Model string
}

type SummaryService struct {
	gen         conversation.Generator
	budgeter    *budget.Budgeter
	tokenBudget int
	model       string
	logger      *slog.Logger
}

func NewSummaryService(gen conversation.Generator, b *budget.Budgeter, tokenBudget int, model string, logger *slog.Logger) (*SummaryService, error) {
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if b == nil {
		return nil, errors.New("usecase: budgeter must not be nil")
	}
	if tokenBudget <= 0 {
		return nil, errors.New("usecase: token budget must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryService{gen: gen, budgeter: b, tokenBudget: tokenBudget, model: model, logger: logger}, nil
}

// Summarize streams a summary of in.Document to out and returns the full text.
func (s *SummaryService) Summarize(ctx context.Context, in SummaryInput, out io.Writer) (string, error) {
	doc := strings.TrimSpace(in.Document)
	if doc == "" {
		return "", newError(ErrorInvalidInput, "empty_document", nil)
	}
	instruction, ok := summaryInstructions[in.Style]
	if !ok {
		return "", newError(ErrorInvalidInput, "unknown_summary_style", nil)
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = s.model
	}

	request := s.fitDocument(instruction, doc)
	stream, err := s.gen.Generate(ctx, model, request)
	if err != nil {
		return "", generationFailure("openai", err)
	}
	defer func() { _ = stream.Close() }()

	var summary strings.Builder
	for stream.Next() {
		fragment := stream.Current()
		summary.WriteString(fragment)
		if out != nil {
			if _, err := io.WriteString(out, fragment); err != nil {
				return "", newError(ErrorInternal, "write_error", err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", generationFailure("openai", err)
	}
	return summary.String(), nil
}

// fitDocument truncates the document by runes until the single request turn
// fits the budget or the excerpt reaches minSummaryRunes.
func (s *SummaryService) fitDocument(instruction, doc string) []domain.Turn {
	runes := []rune(doc)
	build := func(n int) []domain.Turn {
		return []domain.Turn{domain.UserTurn(instruction + ": " + string(runes[:n]))}
	}

	n := len(runes)
	request := build(n)
	for !s.budgeter.Fits(request, s.tokenBudget) && n > minSummaryRunes {
		used := s.budgeter.Count(request)
		next := n * s.tokenBudget / used * 9 / 10
		if next >= n {
			next = n - 1
		}
		n = max(next, minSummaryRunes)
		request = build(n)
	}
	if n < len(runes) {
		s.logger.Info("document truncated to fit token budget",
			"runes_kept", n, "runes_total", len(runes), "budget", s.tokenBudget)
	}
	return request
}
