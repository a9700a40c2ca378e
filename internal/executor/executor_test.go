package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"feedwatch/internal/stats"
	logx "feedwatch/pkg/logx"
)

func testKey() stats.Key {
	return stats.Key{EntityID: "acct1", CredentialIndex: 0, Slot: stats.TimeOfDay{Hour: 9}}
}

// newTestExecutor wires a stats store and captures backoff delays instead of
// sleeping.
func newTestExecutor(t *testing.T) (*Executor, *stats.Store, *[]time.Duration) {
	t.Helper()
	st := stats.NewStore()
	ex := New(st, logx.Nop(), nil)
	var delays []time.Duration
	ex.SetSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	})
	return ex, st, &delays
}

func TestRunSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	ex, st, delays := newTestExecutor(t)
	k := testKey()

	calls := 0
	err := ex.Run(context.Background(), k, func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("transient")
		}
		return nil
	}, Options{MaxRetries: 3, InitialDelay: 5 * time.Second, Multiplier: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}

	// Two failures → delays exactly d, d·b.
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}

	e, ok := st.Get(k)
	if !ok {
		t.Fatal("no stats entry")
	}
	if e.TotalRuns != 1 || e.SuccessCount != 1 || e.FailureCount != 0 {
		t.Fatalf("stats = %d/%d/%d, want 1/1/0", e.TotalRuns, e.SuccessCount, e.FailureCount)
	}
}

func TestRunExhaustsRetries(t *testing.T) {
	t.Parallel()
	ex, st, delays := newTestExecutor(t)
	k := testKey()

	boom := errors.New("down")
	calls := 0
	err := ex.Run(context.Background(), k, func(ctx context.Context) error {
		calls++
		return boom
	}, Options{MaxRetries: 3, InitialDelay: time.Second, Multiplier: 2})

	if calls != 4 {
		t.Fatalf("calls = %d, want maxRetries+1 = 4", calls)
	}
	var ex2 *ExhaustedError
	if !errors.As(err, &ex2) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if ex2.Attempts != 4 {
		t.Fatalf("Attempts = %d, want 4", ex2.Attempts)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("original error not preserved: %v", err)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if fmt.Sprint(*delays) != fmt.Sprint(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}

	e, _ := st.Get(k)
	if e.TotalRuns != 1 || e.SuccessCount != 0 || e.FailureCount != 1 {
		t.Fatalf("stats = %d/%d/%d, want 1/0/1", e.TotalRuns, e.SuccessCount, e.FailureCount)
	}
	if e.LastError == "" {
		t.Fatal("LastError not recorded")
	}
}

func TestRunNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	ex, st, delays := newTestExecutor(t)
	k := testKey()

	bad := errors.New("bad input")
	calls := 0
	err := ex.Run(context.Background(), k, func(ctx context.Context) error {
		calls++
		return NoRetry(bad)
	}, Options{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(*delays) != 0 {
		t.Fatalf("unexpected backoff sleeps: %v", *delays)
	}
	if !errors.Is(err, bad) {
		t.Fatalf("err = %v, want wrapped %v", err, bad)
	}
	var ex2 *ExhaustedError
	if errors.As(err, &ex2) {
		t.Fatalf("NoRetry must not report exhaustion: %v", err)
	}

	e, _ := st.Get(k)
	if e.FailureCount != 1 {
		t.Fatalf("FailureCount = %d, want 1", e.FailureCount)
	}
}

func TestRunRateLimitHintOverridesDelay(t *testing.T) {
	t.Parallel()
	ex, _, delays := newTestExecutor(t)
	k := testKey()

	calls := 0
	err := ex.Run(context.Background(), k, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return RateLimited(errors.New("quota"), 42*time.Second)
		}
		return nil
	}, Options{InitialDelay: time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(*delays) != 1 || (*delays)[0] != 42*time.Second {
		t.Fatalf("delays = %v, want [42s]", *delays)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()
	ex, st, _ := newTestExecutor(t)
	k := testKey()

	err := ex.Run(context.Background(), k, func(ctx context.Context) error {
		panic("kaboom")
	}, Options{MaxRetries: 1})
	if err == nil {
		t.Fatal("expected error from panicking callback")
	}

	e, _ := st.Get(k)
	if e.TotalRuns != 1 || e.FailureCount != 1 {
		t.Fatalf("stats = %d runs / %d failures, want 1/1", e.TotalRuns, e.FailureCount)
	}
}

func TestRunContextCancelAbortsBackoff(t *testing.T) {
	t.Parallel()
	st := stats.NewStore()
	ex := New(st, logx.Nop(), nil)
	k := testKey()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	ex.SetSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})
	err := ex.Run(ctx, k, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	}, Options{MaxRetries: 5, InitialDelay: time.Hour})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no attempt after cancel)", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	e, _ := st.Get(k)
	if e.FailureCount != 1 {
		t.Fatalf("FailureCount = %d, want 1", e.FailureCount)
	}
}

func TestMarkerHelpers(t *testing.T) {
	t.Parallel()
	base := errors.New("x")
	if !IsRateLimited(RateLimited(base, 0)) {
		t.Fatal("IsRateLimited = false for marked error")
	}
	if IsRateLimited(base) {
		t.Fatal("IsRateLimited = true for plain error")
	}
	if !IsNoRetry(NoRetry(base)) {
		t.Fatal("IsNoRetry = false for marked error")
	}
	if d, ok := RetryAfterHint(RateLimited(base, 9*time.Second)); !ok || d != 9*time.Second {
		t.Fatalf("RetryAfterHint = %v,%v", d, ok)
	}
	if _, ok := RetryAfterHint(RateLimited(base, 0)); ok {
		t.Fatal("RetryAfterHint reported a zero hint")
	}
	// Markers survive fmt wrapping.
	wrapped := fmt.Errorf("poll: %w", RateLimited(base, 0))
	if !IsRateLimited(wrapped) {
		t.Fatal("marker lost through wrapping")
	}
}
