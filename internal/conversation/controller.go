// Package conversation implements the tutor's phase machine: answer a
// question, offer more detail, elaborate or close, and compose the
// budget-bounded request sent to the language model for each turn.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"tutor-agent/internal/budget"
	"tutor-agent/internal/domain"
)

const (
	defaultTokenBudget   = 1000
	defaultHistoryWindow = 6
	defaultRetrievalK    = 3
)

// Generator streams a reply for an ordered list of turns.
type Generator interface {
	Generate(ctx context.Context, model string, turns []domain.Turn) (domain.Stream, error)
}

// Retriever returns up to k ranked passages for text. It returns
// domain.ErrRetrievalUnavailable when its store is absent or empty.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]domain.Passage, error)
}

type Config struct {
	Model         string
	TokenBudget   int
	HistoryWindow int
	RetrievalK    int
}

type Controller struct {
	gen       Generator
	retriever Retriever
	budgeter  *budget.Budgeter
	matcher   *Matcher
	cfg       Config
	logger    *slog.Logger
}

type Option func(*Controller)

// WithRetriever enables retrieval-augmented answers.
func WithRetriever(r Retriever) Option {
	return func(c *Controller) {
		c.retriever = r
	}
}

func WithMatcher(m *Matcher) Option {
	return func(c *Controller) {
		if m != nil {
			c.matcher = m
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewController(gen Generator, b *budget.Budgeter, cfg Config, opts ...Option) (*Controller, error) {
	if gen == nil {
		return nil, errors.New("conversation: generator must not be nil")
	}
	if b == nil {
		return nil, errors.New("conversation: budgeter must not be nil")
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = defaultTokenBudget
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = defaultRetrievalK
	}
	c := &Controller{
		gen:      gen,
		budgeter: b,
		matcher:  defaultMatcher,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type Input struct {
	State     domain.ConversationState
	Utterance string
	// Model overrides Config.Model for this turn.
	Model string
}

type Output struct {
	State      domain.ConversationState
	Reply      string
	Action     Action
	Passages   int
	TokensSent int
}

// Respond processes one user utterance. Reply fragments are written to out
// as they arrive; out may be nil. On a *domain.GenerationError the returned
// Output carries the unchanged input state so the user can retry.
func (c *Controller) Respond(ctx context.Context, in Input, out io.Writer) (Output, error) {
	utterance := strings.TrimSpace(in.Utterance)
	if utterance == "" {
		return Output{State: in.State}, errors.New("conversation: utterance must not be empty")
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = c.cfg.Model
	}

	intent := c.matcher.Classify(utterance)
	action, phase := Transition(in.State.Phase, intent)

	next := in.State.Clone()
	next.History = append(next.History, domain.UserTurn(utterance))

	result := Output{Action: action}
	var request []domain.Turn
	switch action {
	case ActionClose:
		next.LastTopic = ""
	case ActionElaborate:
		request = c.elaborateRequest(next)
	case ActionAnswer:
		next.LastTopic = utterance
		var passages []domain.Passage
		request, passages = c.answerRequest(ctx, next, utterance)
		result.Passages = len(passages)
	}

	var reply string
	if request == nil {
		reply = ClosingRemark
		if out != nil {
			if _, err := io.WriteString(out, reply); err != nil {
				return Output{State: in.State}, fmt.Errorf("conversation: write reply: %w", err)
			}
		}
	} else {
		if model == "" {
			return Output{State: in.State}, errors.New("conversation: model must not be empty")
		}
		request = c.budgeter.Trim(request, c.cfg.TokenBudget)
		result.TokensSent = c.budgeter.Count(request)

		var err error
		reply, err = c.generate(ctx, model, request, out)
		if err != nil {
			return Output{State: in.State}, err
		}
	}

	next.History = append(next.History, domain.AssistantTurn(reply))
	next.History = c.budgeter.Trim(next.History, c.cfg.TokenBudget)
	next.Phase = phase

	c.logger.Debug("conversation turn processed",
		"intent", intent.String(),
		"action", string(action),
		"phase", string(phase),
		"passages", result.Passages,
		"tokens_sent", result.TokensSent,
	)

	result.State = next
	result.Reply = reply
	return result, nil
}

func (c *Controller) preamble(state domain.ConversationState) string {
	if prompt, ok := state.SystemPrompt(); ok && strings.TrimSpace(prompt) != "" {
		return prompt
	}
	return TutorPrompt
}

func (c *Controller) elaborateRequest(state domain.ConversationState) []domain.Turn {
	dialogue := state.Dialogue()
	if len(dialogue) > c.cfg.HistoryWindow {
		dialogue = dialogue[len(dialogue)-c.cfg.HistoryWindow:]
	}
	request := make([]domain.Turn, 0, len(dialogue)+2)
	request = append(request, domain.SystemTurn(c.preamble(state)))
	request = append(request, dialogue...)
	return append(request, elaborateRequestTurn(state.LastTopic))
}

func (c *Controller) answerRequest(ctx context.Context, state domain.ConversationState, question string) ([]domain.Turn, []domain.Passage) {
	passages := c.retrieve(ctx, question)
	dialogue := state.Dialogue()

	request := make([]domain.Turn, 0, len(dialogue)+1)
	request = append(request, domain.SystemTurn(answerPreamble(c.preamble(state), c.retriever != nil, passages)))
	return append(request, dialogue...), passages
}

func (c *Controller) retrieve(ctx context.Context, question string) []domain.Passage {
	if c.retriever == nil {
		return nil
	}
	passages, err := c.retriever.Query(ctx, question, c.cfg.RetrievalK)
	if err != nil {
		if errors.Is(err, domain.ErrRetrievalUnavailable) {
			c.logger.Info("retrieval unavailable, answering from general knowledge")
		} else {
			c.logger.Warn("retrieval failed, answering from general knowledge", "err", err)
		}
		return nil
	}
	if len(passages) > c.cfg.RetrievalK {
		passages = passages[:c.cfg.RetrievalK]
	}
	return passages
}

func (c *Controller) generate(ctx context.Context, model string, request []domain.Turn, out io.Writer) (string, error) {
	stream, err := c.gen.Generate(ctx, model, request)
	if err != nil {
		return "", asGenerationError(err)
	}
	defer func() { _ = stream.Close() }()

	var reply strings.Builder
	for stream.Next() {
		fragment := stream.Current()
		if fragment == "" {
			continue
		}
		reply.WriteString(fragment)
		if out != nil {
			if _, err := io.WriteString(out, fragment); err != nil {
				return "", fmt.Errorf("conversation: write fragment: %w", err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", asGenerationError(err)
	}
	return reply.String(), nil
}

func asGenerationError(err error) error {
	var genErr *domain.GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	return &domain.GenerationError{Err: err}
}
