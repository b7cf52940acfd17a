package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

var errFlaky = errors.New("flaky")

func TestDoAllAttemptsFail(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		sleeper := &recordingSleeper{}
		calls := 0
		_, err := Do(context.Background(), Policy{MaxAttempts: n, Delay: 2 * time.Second, Sleep: sleeper.Sleep},
			func(_ context.Context, attempt int) (string, error) {
				calls++
				assert.Equal(t, calls, attempt)
				return "", errFlaky
			})

		require.Error(t, err)
		assert.Equal(t, n, calls)
		assert.Len(t, sleeper.waits, n-1)
		for _, w := range sleeper.waits {
			assert.Equal(t, 2*time.Second, w)
		}

		var exhausted *ExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, n, exhausted.Attempts)
		assert.True(t, errors.Is(err, errFlaky))
	}
}

func TestDoSucceedsOnAttemptK(t *testing.T) {
	const n = 5
	for k := 1; k <= n; k++ {
		sleeper := &recordingSleeper{}
		calls := 0
		got, err := Do(context.Background(), Policy{MaxAttempts: n, Delay: time.Second, Sleep: sleeper.Sleep},
			func(_ context.Context, attempt int) (int, error) {
				calls++
				if attempt < k {
					return 0, errFlaky
				}
				return attempt, nil
			})

		require.NoError(t, err)
		assert.Equal(t, k, got)
		assert.Equal(t, k, calls)
		assert.Len(t, sleeper.waits, k-1)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	fatal := errors.New("bad template")
	sleeper := &recordingSleeper{}
	calls := 0
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Sleep:       sleeper.Sleep,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}, func(context.Context, int) (string, error) {
		calls++
		return "", fatal
	})

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.waits)
}

func TestDoReportsRetries(t *testing.T) {
	var seen []int
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Sleep:       (&recordingSleeper{}).Sleep,
		OnRetry:     func(attempt int, _ error) { seen = append(seen, attempt) },
	}, func(context.Context, int) (string, error) {
		return "", errFlaky
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDoInterruptedDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 3, Delay: time.Hour}, func(context.Context, int) (string, error) {
		calls++
		cancel()
		return "", errFlaky
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errFlaky, err)
}

func TestDoUsesRealDelay(t *testing.T) {
	start := time.Now()
	_, err := Do(context.Background(), Policy{MaxAttempts: 2, Delay: 20 * time.Millisecond}, func(context.Context, int) (string, error) {
		return "", errFlaky
	})
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDoRejectsZeroAttempts(t *testing.T) {
	_, err := Do(context.Background(), Policy{}, func(context.Context, int) (string, error) {
		t.Fatal("fn must not be called")
		return "", nil
	})
	require.Error(t, err)
}
