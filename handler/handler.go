package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"tutor-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatUseCase is the use case invoked for each chat request.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type Handler struct {
	uc     ChatUseCase
	logger *slog.Logger
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
	Phase     string `json:"phase"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(uc ChatUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, logger: slog.Default()}, nil
}

// Handle serves POST /chat behind API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, correlationID, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "method_not_allowed",
		}), nil
	}

	var body chatRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		logger.Info("rejected malformed request body", "err", err)
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "invalid_body",
		}), nil
	}

	out, err := h.uc.Chat(ctx, usecase.ChatInput{
		Message:       body.Message,
		SessionID:     body.SessionID,
		CorrelationID: correlationID,
	})
	if err != nil {
		var ue *usecase.Error
		if errors.As(err, &ue) {
			return jsonResponse(ue.Code.HTTPStatus(), correlationID, errorResponse{
				Error:  string(ue.Code),
				Reason: ue.Reason,
			}), nil
		}
		logger.Error("unexpected chat failure", "err", err)
		return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{
			Error: string(usecase.ErrorInternal),
		}), nil
	}

	logger.Info("chat turn served", "session_id", out.SessionID, "phase", string(out.Phase), "tokens_sent", out.TokensSent)
	return jsonResponse(http.StatusOK, correlationID, chatResponse{
		Reply:     out.Reply,
		SessionID: out.SessionID,
		Phase:     string(out.Phase),
	}), nil
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}
