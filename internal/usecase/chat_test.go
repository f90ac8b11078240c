package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tutor-agent/internal/conversation"
	"tutor-agent/internal/domain"
	"tutor-agent/internal/integrations/openai"
	"tutor-agent/internal/repository"
)

const (
	testPrefix    = "/tutor-agent"
	testSessionID = "0b6f1c9e-5a1d-4c1b-9d3e-2f4a6b8c0d12"
)

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameters(_ context.Context, names ...string) (map[string]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		v, ok := m.vals[n]
		if !ok {
			return nil, fmt.Errorf("param not found: %s", n)
		}
		out[n] = v
	}
	return out, nil
}

func defaultParams() *mockParams {
	return &mockParams{vals: map[string]string{
		testPrefix + "/system_prompt":       "Explain like I am ten.",
		testPrefix + "/config/openai_model": "mini",
	}}
}

type mockResponder struct {
	reply  string
	phase  domain.Phase
	tokens int
	err    error
	got    []conversation.Input
}

func (m *mockResponder) Respond(_ context.Context, in conversation.Input, _ io.Writer) (conversation.Output, error) {
	m.got = append(m.got, in)
	if m.err != nil {
		return conversation.Output{State: in.State}, m.err
	}
	next := in.State.Clone()
	next.History = append(next.History, domain.UserTurn(in.Utterance), domain.AssistantTurn(m.reply))
	next.Phase = m.phase
	return conversation.Output{State: next, Reply: m.reply, TokensSent: m.tokens}, nil
}

type mockSessions struct {
	stored  map[string]repository.Session
	getErr  error
	saveErr error
	saved   []repository.Session
}

func (m *mockSessions) GetSession(_ context.Context, id string) (repository.Session, bool, error) {
	if m.getErr != nil {
		return repository.Session{}, false, m.getErr
	}
	s, ok := m.stored[id]
	return s, ok, nil
}

func (m *mockSessions) SaveSession(_ context.Context, s repository.Session) (repository.Session, error) {
	if m.saveErr != nil {
		return repository.Session{}, m.saveErr
	}
	m.saved = append(m.saved, s)
	s.Version++
	return s, nil
}

type mockModerator struct {
	flagged bool
	err     error
	calls   int
}

func (m *mockModerator) Moderate(_ context.Context, _ string) (bool, error) {
	m.calls++
	return m.flagged, m.err
}

func newChatService(t *testing.T, p ParamGetter, r Responder, s SessionStore, opts ...ChatOption) *ChatService {
	t.Helper()
	svc, err := NewChatService(p, r, s, testPrefix+"/", opts...)
	require.NoError(t, err)
	return svc
}

func requireCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, code, ue.Code)
	require.Equal(t, reason, ue.Reason)
}

func TestNewChatService_Validation(t *testing.T) {
	_, err := NewChatService(nil, &mockResponder{}, &mockSessions{}, testPrefix)
	require.ErrorContains(t, err, "param getter")
	_, err = NewChatService(defaultParams(), nil, &mockSessions{}, testPrefix)
	require.ErrorContains(t, err, "responder")
	_, err = NewChatService(defaultParams(), &mockResponder{}, nil, testPrefix)
	require.ErrorContains(t, err, "session store")
	_, err = NewChatService(defaultParams(), &mockResponder{}, &mockSessions{}, " / ")
	require.ErrorContains(t, err, "prefix")
}

func TestChat_NewSession(t *testing.T) {
	orig := newUUID
	newUUID = func() string { return testSessionID }
	defer func() { newUUID = orig }()

	resp := &mockResponder{reply: "Gravity pulls. Do you want more info?", phase: domain.PhaseOfferedMoreAfterAnswer, tokens: 42}
	sessions := &mockSessions{}
	svc := newChatService(t, defaultParams(), resp, sessions)

	out, err := svc.Chat(context.Background(), ChatInput{Message: "  What is gravity?  "})
	require.NoError(t, err)
	require.Equal(t, ChatOutput{
		Reply:      "Gravity pulls. Do you want more info?",
		SessionID:  testSessionID,
		Phase:      domain.PhaseOfferedMoreAfterAnswer,
		TokensSent: 42,
	}, out)

	require.Len(t, resp.got, 1)
	require.Equal(t, "What is gravity?", resp.got[0].Utterance)
	require.Equal(t, "gpt-4o-mini", resp.got[0].Model)
	prompt, ok := resp.got[0].State.SystemPrompt()
	require.True(t, ok)
	require.Equal(t, "Explain like I am ten.", prompt)

	require.Len(t, sessions.saved, 1)
	require.Equal(t, testSessionID, sessions.saved[0].ID)
	require.Zero(t, sessions.saved[0].Version)
	require.Len(t, sessions.saved[0].State.History, 3)
}

func TestChat_ExistingSessionKeepsVersion(t *testing.T) {
	existing := repository.Session{
		ID:      testSessionID,
		Version: 7,
		State: domain.ConversationState{
			Phase:     domain.PhaseOfferedMoreAfterAnswer,
			LastTopic: "gravity",
			History:   []domain.Turn{domain.SystemTurn("p"), domain.UserTurn("gravity"), domain.AssistantTurn("a")},
		},
	}
	sessions := &mockSessions{stored: map[string]repository.Session{testSessionID: existing}}
	resp := &mockResponder{reply: "more", phase: domain.PhaseOfferedMoreAfterDetail}
	svc := newChatService(t, defaultParams(), resp, sessions)

	out, err := svc.Chat(context.Background(), ChatInput{Message: "yes", SessionID: testSessionID})
	require.NoError(t, err)
	require.Equal(t, domain.PhaseOfferedMoreAfterDetail, out.Phase)
	require.Equal(t, existing.State, resp.got[0].State)
	require.Equal(t, 7, sessions.saved[0].Version)
}

func TestChat_UnknownSessionIDStartsFresh(t *testing.T) {
	sessions := &mockSessions{}
	resp := &mockResponder{reply: "hi", phase: domain.PhaseOfferedMoreAfterAnswer}
	svc := newChatService(t, defaultParams(), resp, sessions)

	out, err := svc.Chat(context.Background(), ChatInput{Message: "hello", SessionID: testSessionID})
	require.NoError(t, err)
	require.Equal(t, testSessionID, out.SessionID)
	require.Equal(t, domain.PhaseAwaitingQuestion, resp.got[0].State.Phase)
}

func TestChat_InputValidation(t *testing.T) {
	svc := newChatService(t, defaultParams(), &mockResponder{}, &mockSessions{}, WithMaxMessageLength(10))

	_, err := svc.Chat(context.Background(), ChatInput{Message: "   "})
	requireCode(t, err, ErrorInvalidInput, "empty_message")

	_, err = svc.Chat(context.Background(), ChatInput{Message: strings.Repeat("é", 11)})
	requireCode(t, err, ErrorInvalidInput, "message_too_long")

	_, err = svc.Chat(context.Background(), ChatInput{Message: strings.Repeat("é", 10)})
	require.NoError(t, err)

	_, err = svc.Chat(context.Background(), ChatInput{Message: "hi", SessionID: "not-a-uuid"})
	requireCode(t, err, ErrorInvalidInput, "invalid_session_id")
}

func TestChat_ConfigLoadedOnceAndRetried(t *testing.T) {
	params := defaultParams()
	params.err = errors.New("temporary ssm failure")
	svc := newChatService(t, params, &mockResponder{reply: "ok"}, &mockSessions{})

	_, err := svc.Chat(context.Background(), ChatInput{Message: "hi"})
	requireCode(t, err, ErrorInternal, "ssm_load_error")

	params.err = nil
	_, err = svc.Chat(context.Background(), ChatInput{Message: "hi"})
	require.NoError(t, err)
	_, err = svc.Chat(context.Background(), ChatInput{Message: "hi again"})
	require.NoError(t, err)
	require.Equal(t, 2, params.calls)
}

func TestChat_EmptyPromptFallsBackToTutorPrompt(t *testing.T) {
	params := defaultParams()
	params.vals[testPrefix+"/system_prompt"] = "  "
	resp := &mockResponder{reply: "ok"}
	svc := newChatService(t, params, resp, &mockSessions{})

	_, err := svc.Chat(context.Background(), ChatInput{Message: "hi"})
	require.NoError(t, err)
	prompt, _ := resp.got[0].State.SystemPrompt()
	require.Equal(t, conversation.TutorPrompt, prompt)
}

func TestChat_EmptyModelParameter(t *testing.T) {
	params := defaultParams()
	params.vals[testPrefix+"/config/openai_model"] = ""
	svc := newChatService(t, params, &mockResponder{}, &mockSessions{})

	_, err := svc.Chat(context.Background(), ChatInput{Message: "hi"})
	requireCode(t, err, ErrorInternal, "ssm_load_error")
}

func TestChat_Moderation(t *testing.T) {
	cases := []struct {
		name   string
		mod    *mockModerator
		code   ErrorCode
		reason string
	}{
		{"flagged", &mockModerator{flagged: true}, ErrorInvalidQuestion, "moderation_flagged"},
		{"rate limited", &mockModerator{err: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}}, ErrorRateLimited, "moderation_rate_limited"},
		{"upstream", &mockModerator{err: &openai.HTTPStatusError{StatusCode: http.StatusBadGateway}}, ErrorUpstream, "moderation_error"},
		{"network", &mockModerator{err: errors.New("dial tcp")}, ErrorUpstream, "moderation_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := &mockResponder{}
			svc := newChatService(t, defaultParams(), resp, &mockSessions{}, WithModerator(tc.mod))
			_, err := svc.Chat(context.Background(), ChatInput{Message: "hi"})
			requireCode(t, err, tc.code, tc.reason)
			require.Empty(t, resp.got, "model must not be called")
		})
	}
}

func TestChat_ModerationPasses(t *testing.T) {
	mod := &mockModerator{}
	svc := newChatService(t, defaultParams(), &mockResponder{reply: "ok"}, &mockSessions{}, WithModerator(mod))
	_, err := svc.Chat(context.Background(), ChatInput{Message: "What is a volcano?"})
	require.NoError(t, err)
	require.Equal(t, 1, mod.calls)
}

func TestChat_GenerationFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   ErrorCode
		reason string
	}{
		{"rate limited", &domain.GenerationError{StatusCode: http.StatusTooManyRequests, Err: errors.New("quota")}, ErrorRateLimited, "openai_rate_limited"},
		{"server error", &domain.GenerationError{StatusCode: http.StatusInternalServerError, Err: errors.New("boom")}, ErrorUpstream, "openai_error"},
		{"no status", &domain.GenerationError{Err: errors.New("reset")}, ErrorUpstream, "openai_error"},
		{"not generation", errors.New("write failed"), ErrorInternal, "respond_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := &mockSessions{}
			svc := newChatService(t, defaultParams(), &mockResponder{err: tc.err}, sessions)
			_, err := svc.Chat(context.Background(), ChatInput{Message: "hi"})
			requireCode(t, err, tc.code, tc.reason)
			require.Empty(t, sessions.saved, "failed turn must not be persisted")
		})
	}
}

func TestChat_PersistenceFailures(t *testing.T) {
	svc := newChatService(t, defaultParams(), &mockResponder{}, &mockSessions{getErr: errors.New("boom")})
	_, err := svc.Chat(context.Background(), ChatInput{Message: "hi", SessionID: testSessionID})
	requireCode(t, err, ErrorInternal, "dynamodb_read_error")

	conflict := fmt.Errorf("repository: SaveSession x: %w", repository.ErrConflict)
	svc = newChatService(t, defaultParams(), &mockResponder{}, &mockSessions{saveErr: conflict})
	_, err = svc.Chat(context.Background(), ChatInput{Message: "hi"})
	requireCode(t, err, ErrorConflict, "session_conflict")

	svc = newChatService(t, defaultParams(), &mockResponder{}, &mockSessions{saveErr: errors.New("throttled")})
	_, err = svc.Chat(context.Background(), ChatInput{Message: "hi"})
	requireCode(t, err, ErrorInternal, "dynamodb_write_error")
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrorInvalidInput:    http.StatusBadRequest,
		ErrorInvalidQuestion: http.StatusBadRequest,
		ErrorRateLimited:     http.StatusTooManyRequests,
		ErrorUpstream:        http.StatusBadGateway,
		ErrorConflict:        http.StatusConflict,
		ErrorInternal:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, code.HTTPStatus(), string(code))
	}
}

func TestError_Message(t *testing.T) {
	require.Equal(t, "usecase: INVALID_INPUT (empty_message)", newError(ErrorInvalidInput, "empty_message", nil).Error())
	err := newError(ErrorInternal, "x", errors.New("cause"))
	require.Equal(t, "usecase: INTERNAL_ERROR (x): cause", err.Error())
	require.EqualError(t, errors.Unwrap(err), "cause")
}
