package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// instantTimer fires immediately and records every requested wait.
type instantTimer struct {
	c     chan time.Time
	waits *[]time.Duration
}

func (t *instantTimer) Start(d time.Duration) {
	*t.waits = append(*t.waits, d)
	t.c <- time.Time{}
}
func (t *instantTimer) Stop() {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func recordingPolicy(attempts int, waits *[]time.Duration) Policy {
	return Policy{
		Attempts:  attempts,
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  time.Second,
		NewTimer: func() Timer {
			return &instantTimer{c: make(chan time.Time, 1), waits: waits}
		},
	}
}

var errBusy = errors.New("busy")

func TestDo_SucceedsFirstTry(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := recordingPolicy(5, &waits).Do(context.Background(), func(int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var waits []time.Duration
	var seen []int
	err := recordingPolicy(5, &waits).Do(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
}

func TestDo_Exhausted(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := recordingPolicy(5, &waits).Do(context.Background(), func(int) error {
		calls++
		return errBusy
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond,
	}, waits)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := recordingPolicy(5, &waits).Do(context.Background(), func(int) error {
		calls++
		return Permanent(errBusy)
	})
	assert.ErrorIs(t, err, errBusy)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := Policy{Attempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	err := policy.Do(ctx, func(int) error { return errBusy })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_InvalidAttempts(t *testing.T) {
	err := Policy{}.Do(context.Background(), func(int) error { return nil })
	assert.Error(t, err)
}

func TestDo_OnRetryObservesEachFailure(t *testing.T) {
	var waits []time.Duration
	policy := recordingPolicy(3, &waits)
	var observed []int
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		assert.ErrorIs(t, err, errBusy)
		observed = append(observed, attempt)
	}
	_ = policy.Do(context.Background(), func(int) error { return errBusy })
	assert.Equal(t, []int{1, 2}, observed)
}

// Property: the operation runs exactly min(failures+1, attempts) times and the
// waits never exceed MaxDelay.
func TestPropertyBoundedAttempts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		attempts := rapid.IntRange(1, 8).Draw(t, "attempts")
		failures := rapid.IntRange(0, 10).Draw(t, "failures")
		var waits []time.Duration
		policy := recordingPolicy(attempts, &waits)
		policy.MaxDelay = 50 * time.Millisecond
		calls := 0
		err := policy.Do(context.Background(), func(int) error {
			calls++
			if calls <= failures {
				return errBusy
			}
			return nil
		})
		want := failures + 1
		if want > attempts {
			want = attempts
		}
		if calls != want {
			t.Fatalf("calls = %d, want %d", calls, want)
		}
		if (failures < attempts) != (err == nil) {
			t.Fatalf("failures=%d attempts=%d err=%v", failures, attempts, err)
		}
		for _, w := range waits {
			if w > policy.MaxDelay {
				t.Fatalf("wait %s exceeds max %s", w, policy.MaxDelay)
			}
		}
	})
}
