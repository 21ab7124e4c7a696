package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestThrottle_Pacing(t *testing.T) {
	const interval = 20 * time.Millisecond
	th := NewThrottle(interval, 0, time.Millisecond, 5*time.Second, zap.NewNop())

	var mu sync.Mutex
	var dispatched []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := th.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				dispatched = append(dispatched, time.Now())
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(dispatched) != 6 {
		t.Fatalf("expected 6 dispatches, got %d", len(dispatched))
	}

	sort.Slice(dispatched, func(i, j int) bool { return dispatched[i].Before(dispatched[j]) })
	// Allow a small scheduling tolerance below the configured interval.
	minGap := interval - 5*time.Millisecond
	for i := 1; i < len(dispatched); i++ {
		if gap := dispatched[i].Sub(dispatched[i-1]); gap < minGap {
			t.Errorf("dispatch gap %d too small: %v < %v", i, gap, minGap)
		}
	}
}

func TestThrottle_BackoffExhaustsRetries(t *testing.T) {
	const base = 10 * time.Millisecond
	th := NewThrottle(time.Millisecond, 2, base, 5*time.Second, zap.NewNop())

	attempts := 0
	start := time.Now()
	err := th.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return ErrRateLimited
	})
	elapsed := time.Since(start)

	if attempts != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", attempts)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected terminal error to wrap ErrRateLimited, got %v", err)
	}
	// Backoff schedule is base, 2*base.
	if elapsed < 3*base {
		t.Errorf("expected at least %v of backoff, elapsed %v", 3*base, elapsed)
	}
}

func TestThrottle_NonRateLimitErrorPropagatesImmediately(t *testing.T) {
	th := NewThrottle(time.Millisecond, 3, time.Second, 5*time.Second, zap.NewNop())

	boom := errors.New("boom")
	attempts := 0
	err := th.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return boom
	})

	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", attempts)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestThrottle_DeadlineBoundsRetries(t *testing.T) {
	// Call timeout shorter than the first backoff delay: the call must be
	// abandoned instead of hanging through the schedule.
	th := NewThrottle(time.Millisecond, 3, time.Second, 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	err := th.Do(context.Background(), func(ctx context.Context) error {
		return ErrRateLimited
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("call not abandoned at deadline, took %v", elapsed)
	}
}
