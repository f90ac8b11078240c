package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"tutor-agent/internal/config"
	"tutor-agent/internal/conversation"
	"tutor-agent/internal/domain"
	"tutor-agent/internal/repository"
)

const defaultMaxMessage = 300

type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type Responder interface {
	Respond(ctx context.Context, in conversation.Input, out io.Writer) (conversation.Output, error)
}

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (repository.Session, bool, error)
	SaveSession(ctx context.Context, s repository.Session) (repository.Session, error)
}

type ChatService struct {
	params      ParamGetter
	responder   Responder
	sessions    SessionStore
	moderator   Moderator
	paramPrefix string
	maxMessage  int
	logger      *slog.Logger

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	systemPrompt string
	model        string
}

type ChatInput struct {
	Message       string
	SessionID     string
	CorrelationID string
}

type ChatOutput struct {
	Reply      string
	SessionID  string
	Phase      domain.Phase
	TokensSent int
}

type ChatOption func(*ChatService)

// WithModerator screens every message before it reaches the model.
func WithModerator(m Moderator) ChatOption {
	return func(s *ChatService) {
		s.moderator = m
	}
}

func WithMaxMessageLength(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxMessage = n
		}
	}
}

func WithLogger(logger *slog.Logger) ChatOption {
	return func(s *ChatService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewChatService(p ParamGetter, r Responder, sessions SessionStore, paramPrefix string, opts ...ChatOption) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: responder must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	s := &ChatService{
		params:      p,
		responder:   r,
		sessions:    sessions,
		paramPrefix: paramPrefix,
		maxMessage:  defaultMaxMessage,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Chat runs one tutoring turn for a session, creating the session when
// SessionID is empty or unknown.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	out, err := s.chat(ctx, in)
	if err != nil {
		var ue *Error
		if errors.As(err, &ue) {
			s.logger.Warn("chat turn failed",
				"code", string(ue.Code),
				"reason", ue.Reason,
				"session_id", in.SessionID,
				"correlation_id", in.CorrelationID,
				"err", ue.Err,
			)
		}
	}
	return out, err
}

func (s *ChatService) chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessage {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID != "" {
		if err := uuid.Validate(sessionID); err != nil {
			return ChatOutput{}, newError(ErrorInvalidInput, "invalid_session_id", err)
		}
	}

	if err := s.ensureConfig(ctx); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}

	if s.moderator != nil {
		flagged, err := s.moderator.Moderate(ctx, message)
		if err != nil {
			return ChatOutput{}, generationFailure("moderation", err)
		}
		if flagged {
			return ChatOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
		}
	}

	result, err := s.responder.Respond(ctx, conversation.Input{
		State:     session.State,
		Utterance: message,
		Model:     s.model,
	}, nil)
	if err != nil {
		var genErr *domain.GenerationError
		if errors.As(err, &genErr) {
			return ChatOutput{}, generationFailure("openai", err)
		}
		return ChatOutput{}, newError(ErrorInternal, "respond_error", err)
	}

	session.State = result.State
	if _, err := s.sessions.SaveSession(ctx, session); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ChatOutput{}, newError(ErrorConflict, "session_conflict", err)
		}
		return ChatOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}

	return ChatOutput{
		Reply:      result.Reply,
		SessionID:  session.ID,
		Phase:      result.State.Phase,
		TokensSent: result.TokensSent,
	}, nil
}

func (s *ChatService) loadSession(ctx context.Context, sessionID string) (repository.Session, error) {
	if sessionID == "" {
		return s.newSession(newUUID()), nil
	}
	session, ok, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return repository.Session{}, err
	}
	if !ok {
		return s.newSession(sessionID), nil
	}
	return session, nil
}

func (s *ChatService) newSession(id string) repository.Session {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return repository.Session{ID: id, State: domain.NewConversationState(s.systemPrompt)}
}

// ensureConfig loads the system prompt and model once. A failed load is not
// cached, so the next request retries.
func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	promptName := s.paramPrefix + "/system_prompt"
	modelName := s.paramPrefix + "/config/openai_model"
	vals, err := s.params.GetParameters(ctx, promptName, modelName)
	if err != nil {
		return fmt.Errorf("usecase: load prompt config: %w", err)
	}
	model := config.ResolveModel(vals[modelName])
	if model == "" {
		return fmt.Errorf("usecase: parameter %s is empty", modelName)
	}

	s.systemPrompt = strings.TrimSpace(vals[promptName])
	if s.systemPrompt == "" {
		s.systemPrompt = conversation.TutorPrompt
	}
	s.model = model
	s.cacheLoaded = true
	return nil
}

var newUUID = func() string {
	return uuid.NewString()
}
