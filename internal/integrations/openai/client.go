package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"tutor-agent/internal/domain"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultTimeout        = 60 * time.Second
)

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses for the moderation and
// embedding endpoints.
type HTTPStatusError struct {
	StatusCode int
	Op         string
	Message    string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client wraps the OpenAI SDK for streamed chat completions, moderation and
// embeddings. The API key is either given up front or fetched from the
// parameter store on first use and reused for the process lifetime.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	getter         Getter
	paramPrefix    string
	embeddingModel string
	staticKey      string

	once   sync.Once
	sdk    *openaisdk.Client
	sdkErr error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey skips the parameter store lookup.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

func WithEmbeddingModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.embeddingModel = m
		}
	}
}

// NewClient creates a Client. ps may be nil only when WithAPIKey is given.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:        defaultBaseURL,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		getter:         ps,
		paramPrefix:    strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
		embeddingModel: defaultEmbeddingModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staticKey == "" {
		if c.getter == nil {
			return nil, errors.New("openai: paramstore getter must not be nil without an API key")
		}
		if c.paramPrefix == "" {
			return nil, errors.New("openai: parameter prefix must not be empty")
		}
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// apiBaseURL normalizes a configured base so that it always ends in /v1/.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

// client builds the SDK client on first use. Retries are disabled so a
// failed turn surfaces immediately and the user decides whether to retry.
func (c *Client) client(ctx context.Context) (*openaisdk.Client, error) {
	c.once.Do(func() {
		key := c.staticKey
		if key == "" {
			key, c.sdkErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
			if c.sdkErr != nil {
				return
			}
		}
		sdk := openaisdk.NewClient(
			option.WithAPIKey(key),
			option.WithBaseURL(apiBaseURL(c.baseURL)),
			option.WithHTTPClient(c.resolvedHTTPClient()),
			option.WithMaxRetries(0),
		)
		c.sdk = &sdk
	})
	return c.sdk, c.sdkErr
}

// Generate opens a streamed chat completion. Transport and status failures
// surface as *domain.GenerationError, either here or from the stream's Err.
func (c *Client) Generate(ctx context.Context, model string, turns []domain.Turn) (domain.Stream, error) {
	if strings.TrimSpace(model) == "" {
		return nil, &domain.GenerationError{Err: errors.New("openai: model must not be empty")}
	}
	sdk, err := c.client(ctx)
	if err != nil {
		return nil, &domain.GenerationError{Err: err}
	}

	stream := sdk.Chat.Completions.NewStreaming(ctx, openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(model),
		Messages: buildChatMessages(turns),
	})
	return &ChatStream{stream: stream}, nil
}

func buildChatMessages(turns []domain.Turn) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case domain.RoleSystem:
			out = append(out, openaisdk.SystemMessage(t.Content))
		case domain.RoleAssistant:
			out = append(out, openaisdk.AssistantMessage(t.Content))
		default:
			out = append(out, openaisdk.UserMessage(t.Content))
		}
	}
	return out
}

// Moderate calls the Moderations API and returns true if the input is flagged.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	sdk, err := c.client(ctx)
	if err != nil {
		return false, err
	}

	resp, err := sdk.Moderations.New(ctx, openaisdk.ModerationNewParams{
		Input: openaisdk.ModerationNewParamsInputUnion{OfString: openaisdk.String(input)},
	})
	if err != nil {
		return false, statusError("moderation request failed", err)
	}
	if resp == nil || len(resp.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return resp.Results[0].Flagged, nil
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	sdk, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openaisdk.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, statusError("embedding request failed", err)
	}
	if resp == nil || len(resp.Data) != len(texts) {
		return nil, errors.New("openai: embedding response size does not match input")
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", idx)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}

func statusError(op string, err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return &HTTPStatusError{
			StatusCode: apiErr.StatusCode,
			Op:         op,
			Message:    strings.TrimSpace(apiErr.Message),
			Err:        err,
		}
	}
	return fmt.Errorf("openai: %s: %w", op, err)
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
