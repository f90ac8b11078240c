package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tutor-agent/internal/domain"
)

const (
	skState    = "STATE#"
	defaultTTL = 30 * 24 * time.Hour
)

// ErrConflict is returned by SaveSession when another writer saved the
// session after it was loaded.
var ErrConflict = errors.New("repository: session modified concurrently")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Session is one persisted tutoring conversation. Version is the value read
// from the table; zero means the session has never been saved.
type Session struct {
	ID        string
	State     domain.ConversationState
	Version   int
	UpdatedAt time.Time
}

// Client wraps a DynamoDB table for conversation state.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*Client)

// WithTTL sets how long an idle session is retained.
func WithTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

func sessionKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

// GetSession loads a session. The bool is false when no session exists.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Session{}, false, errors.New("repository: GetSession: session id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            sessionKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Session{}, false, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return Session{}, false, nil
	}

	s, err := itemToSession(out.Item)
	if err != nil {
		return Session{}, false, fmt.Errorf("repository: GetSession decode: %w", err)
	}
	s.ID = sessionID
	return s, true, nil
}

// SaveSession writes s if the stored version still equals s.Version and
// returns the session with its new version. A lost race yields ErrConflict.
func (c *Client) SaveSession(ctx context.Context, s Session) (Session, error) {
	if strings.TrimSpace(s.ID) == "" {
		return Session{}, errors.New("repository: SaveSession: session id is required")
	}

	saved := s
	saved.Version = s.Version + 1
	saved.UpdatedAt = c.now().UTC()

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.sessionItem(saved),
		ConditionExpression: aws.String("attribute_not_exists(PK) OR version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(s.Version)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return Session{}, fmt.Errorf("repository: SaveSession %s: %w", s.ID, ErrConflict)
		}
		return Session{}, fmt.Errorf("repository: SaveSession: %w", err)
	}
	return saved, nil
}

// DeleteSession removes a session; deleting a missing session is not an error.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: DeleteSession: session id is required")
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       sessionKey(sessionID),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteSession: %w", err)
	}
	return nil
}

func (c *Client) sessionItem(s Session) map[string]types.AttributeValue {
	history := make([]types.AttributeValue, 0, len(s.State.History))
	for _, t := range s.State.History {
		history = append(history, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"role":    &types.AttributeValueMemberS{Value: string(t.Role)},
			"content": &types.AttributeValueMemberS{Value: t.Content},
		}})
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skState},
		"sessionId": &types.AttributeValueMemberS{Value: s.ID},
		"phase":     &types.AttributeValueMemberS{Value: string(s.State.Phase)},
		"lastTopic": &types.AttributeValueMemberS{Value: s.State.LastTopic},
		"history":   &types.AttributeValueMemberL{Value: history},
		"turns":     &types.AttributeValueMemberN{Value: strconv.Itoa(len(s.State.History))},
		"version":   &types.AttributeValueMemberN{Value: strconv.Itoa(s.Version)},
		"updatedAt": &types.AttributeValueMemberS{Value: s.UpdatedAt.Format(time.RFC3339)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(s.UpdatedAt.Add(c.ttl).Unix(), 10)},
	}
}

func itemToSession(item map[string]types.AttributeValue) (Session, error) {
	phase, err := strAttr(item, "phase")
	if err != nil {
		return Session{}, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return Session{}, err
	}
	lastTopic, _ := strAttr(item, "lastTopic") // allow empty

	history, err := historyAttr(item, "history")
	if err != nil {
		return Session{}, err
	}

	s := Session{
		State: domain.ConversationState{
			Phase:     domain.ParsePhase(phase),
			LastTopic: lastTopic,
			History:   history,
		},
		Version: version,
	}
	if raw, err := strAttr(item, "updatedAt"); err == nil {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			s.UpdatedAt = ts
		}
	}
	return s, nil
}

func historyAttr(item map[string]types.AttributeValue, key string) ([]domain.Turn, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
	turns := make([]domain.Turn, 0, len(list.Value))
	for i, el := range list.Value {
		m, ok := el.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: %s[%d] is not a map", key, i)
		}
		rawRole, err := strAttr(m.Value, "role")
		if err != nil {
			return nil, fmt.Errorf("repository: %s[%d]: %w", key, i, err)
		}
		role, ok := domain.ParseRole(rawRole)
		if !ok {
			return nil, fmt.Errorf("repository: %s[%d]: unknown role %q", key, i, rawRole)
		}
		content, err := strAttr(m.Value, "content")
		if err != nil {
			return nil, fmt.Errorf("repository: %s[%d]: %w", key, i, err)
		}
		turns = append(turns, domain.Turn{Role: role, Content: content})
	}
	return turns, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
