package budget

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"tutor-agent/internal/domain"
)

const (
	// replyPriming is the fixed overhead the chat format adds for the
	// assistant reply header.
	replyPriming = 3
	// perTurnOverhead covers the role/separator tokens wrapped around each
	// chat message.
	perTurnOverhead = 4
	// charactersPerToken is deliberately low for English so the coarse
	// estimate errs on the side of overcounting.
	charactersPerToken = 4

	fallbackEncoding = "cl100k_base"
)

// Estimator approximates how many tokens the hosted model will count for a
// request. Implementations must be monotone in turn count and length.
type Estimator interface {
	Estimate(turns []domain.Turn) (int, error)
}

// EstimatorFunc adapts a plain function to Estimator.
type EstimatorFunc func(turns []domain.Turn) (int, error)

func (f EstimatorFunc) Estimate(turns []domain.Turn) (int, error) {
	return f(turns)
}

// RateEstimator is the coarse fixed-rate approximation. It never fails and
// is the fallback whenever a precise estimator errors.
type RateEstimator struct{}

func (RateEstimator) Estimate(turns []domain.Turn) (int, error) {
	total := replyPriming
	for _, t := range turns {
		chars := len(t.Role) + len(t.Content)
		total += perTurnOverhead + (chars+charactersPerToken-1)/charactersPerToken
	}
	return total, nil
}

type encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// loadEncoding resolves the BPE encoding for a model, falling back to
// cl100k_base for models tiktoken does not know.
var loadEncoding = func(model string) (encoder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc, nil
	}
	fallback, fbErr := tiktoken.GetEncoding(fallbackEncoding)
	if fbErr != nil {
		return nil, fmt.Errorf("budget: encoding for model %q: %w", model, fbErr)
	}
	return fallback, nil
}

// TiktokenEstimator counts tokens with the model's own BPE encoding using
// the chat message accounting the OpenAI cookbook documents: a fixed reply
// priming plus per-message overhead plus encoded role and content.
type TiktokenEstimator struct {
	model string

	once sync.Once
	enc  encoder
	err  error
}

func NewTiktokenEstimator(model string) *TiktokenEstimator {
	return &TiktokenEstimator{model: model}
}

func (e *TiktokenEstimator) Estimate(turns []domain.Turn) (int, error) {
	e.once.Do(func() {
		e.enc, e.err = loadEncoding(e.model)
	})
	if e.err != nil {
		return 0, e.err
	}

	total := replyPriming
	for _, t := range turns {
		total += perTurnOverhead
		total += len(e.enc.Encode(string(t.Role), nil, nil))
		total += len(e.enc.Encode(t.Content, nil, nil))
	}
	return total, nil
}
