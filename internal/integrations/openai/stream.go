package openai

import (
	"errors"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"tutor-agent/internal/domain"
)

// ChatStream adapts an SDK completion stream to domain.Stream. Chunks with
// no content delta (role headers, finish markers) are skipped.
type ChatStream struct {
	stream  *ssestream.Stream[openaisdk.ChatCompletionChunk]
	current string
}

func (s *ChatStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			s.current = delta
			return true
		}
	}
	s.current = ""
	return false
}

func (s *ChatStream) Current() string {
	return s.current
}

func (s *ChatStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return generationError(err)
	}
	return nil
}

func (s *ChatStream) Close() error {
	return s.stream.Close()
}

func generationError(err error) *domain.GenerationError {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return &domain.GenerationError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return &domain.GenerationError{Err: err}
}
