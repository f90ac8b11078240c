// Package budget keeps the request sent to the language model within a
// token budget by dropping the oldest conversation turns.
package budget

import (
	"log/slog"

	"tutor-agent/internal/domain"
)

// Budgeter measures and trims turn sequences against a token budget.
type Budgeter struct {
	estimator Estimator
	fallback  Estimator
	logger    *slog.Logger
}

// New creates a Budgeter around estimator. A nil estimator uses the coarse
// fixed-rate approximation directly.
func New(estimator Estimator, logger *slog.Logger) *Budgeter {
	if estimator == nil {
		estimator = RateEstimator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Budgeter{
		estimator: estimator,
		fallback:  RateEstimator{},
		logger:    logger,
	}
}

// Count returns the estimated token count for turns. Estimator failures are
// recovered with the fixed-rate approximation.
func (b *Budgeter) Count(turns []domain.Turn) int {
	n, err := b.estimator.Estimate(turns)
	if err == nil {
		return n
	}
	b.logger.Warn("token estimator failed, using fixed-rate fallback", "err", err)
	n, _ = b.fallback.Estimate(turns)
	return n
}

// Fits reports whether turns are within budget.
func (b *Budgeter) Fits(turns []domain.Turn, budget int) bool {
	return b.Count(turns) <= budget
}

// Trim drops the oldest turns until the estimate fits budget. A leading
// system turn is always kept, and so is the final exchange: the most recent
// user turn and everything after it. A user turn is dropped together with
// the assistant reply that follows it, so the retained dialogue never opens
// with an orphaned reply. If even the minimal window exceeds the budget, the
// minimal window is returned.
//
// Trim never mutates turns and is idempotent.
func (b *Budgeter) Trim(turns []domain.Turn, budget int) []domain.Turn {
	if b.Fits(turns, budget) {
		return turns
	}

	head := 0
	if len(turns) > 0 && turns[0].Role == domain.RoleSystem {
		head = 1
	}
	if len(turns) <= head {
		return turns
	}
	protected := finalExchangeStart(turns, head)

	start := head
	for start < protected {
		start += dropWidth(turns, start, protected)
		if b.Fits(window(turns, head, start), budget) {
			break
		}
	}

	dropped := start - head
	if dropped > 0 {
		b.logger.Debug("trimmed conversation to token budget", "dropped_turns", dropped, "budget", budget)
	}
	return window(turns, head, start)
}

// finalExchangeStart returns the index of the most recent user turn at or
// after head, or the last index when there is no user turn.
func finalExchangeStart(turns []domain.Turn, head int) int {
	for i := len(turns) - 1; i >= head; i-- {
		if turns[i].Role == domain.RoleUser {
			return i
		}
	}
	return len(turns) - 1
}

func dropWidth(turns []domain.Turn, start, protected int) int {
	if turns[start].Role == domain.RoleUser &&
		start+1 < protected &&
		turns[start+1].Role == domain.RoleAssistant {
		return 2
	}
	return 1
}

func window(turns []domain.Turn, head, start int) []domain.Turn {
	out := make([]domain.Turn, 0, head+len(turns)-start)
	out = append(out, turns[:head]...)
	return append(out, turns[start:]...)
}
