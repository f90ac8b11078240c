package budget

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tutor-agent/internal/domain"
)

// wordEncoder emits one token per whitespace-separated word.
type wordEncoder struct{}

func (wordEncoder) Encode(text string, _ []string, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

func withEncodingLoader(t *testing.T, fn func(model string) (encoder, error)) {
	t.Helper()
	prev := loadEncoding
	loadEncoding = fn
	t.Cleanup(func() { loadEncoding = prev })
}

func TestTiktokenEstimator_CountsChatOverhead(t *testing.T) {
	var requested string
	withEncodingLoader(t, func(model string) (encoder, error) {
		requested = model
		return wordEncoder{}, nil
	})

	e := NewTiktokenEstimator("gpt-4o-mini")
	n, err := e.Estimate([]domain.Turn{
		domain.SystemTurn("be kind"),
		domain.UserTurn("what is gravity"),
	})
	require.NoError(t, err)
	// 3 priming + (4 + 1 role + 2 words) + (4 + 1 role + 3 words)
	require.Equal(t, 18, n)
	require.Equal(t, "gpt-4o-mini", requested)
}

func TestTiktokenEstimator_LoadsEncodingOnce(t *testing.T) {
	calls := 0
	withEncodingLoader(t, func(string) (encoder, error) {
		calls++
		return wordEncoder{}, nil
	})

	e := NewTiktokenEstimator("gpt-4o")
	for i := 0; i < 3; i++ {
		_, err := e.Estimate([]domain.Turn{domain.UserTurn("hi")})
		require.NoError(t, err)
	}
	require.Equal(t, 1, calls)
}

func TestTiktokenEstimator_LoadErrorFallsBackInBudgeter(t *testing.T) {
	withEncodingLoader(t, func(string) (encoder, error) {
		return nil, errors.New("download bpe: network unreachable")
	})

	e := NewTiktokenEstimator("gpt-4o")
	_, err := e.Estimate([]domain.Turn{domain.UserTurn("hi")})
	require.Error(t, err)

	b := New(e, nil)
	want, _ := RateEstimator{}.Estimate([]domain.Turn{domain.UserTurn("hi")})
	require.Equal(t, want, b.Count([]domain.Turn{domain.UserTurn("hi")}))
}

func TestRateEstimator_IsMonotone(t *testing.T) {
	short, _ := RateEstimator{}.Estimate([]domain.Turn{domain.UserTurn("hello")})
	long, _ := RateEstimator{}.Estimate([]domain.Turn{domain.UserTurn("hello there, how are you")})
	more, _ := RateEstimator{}.Estimate([]domain.Turn{domain.UserTurn("hello"), domain.AssistantTurn("hi")})
	empty, _ := RateEstimator{}.Estimate(nil)

	require.Equal(t, replyPriming, empty)
	require.Greater(t, long, short)
	require.Greater(t, more, short)
}
