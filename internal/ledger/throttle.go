package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Throttle serializes upstream calls so they are dispatched no closer
// together than a minimum interval, and absorbs transient rate-limit
// rejections with exponential backoff. Waiters are released in FIFO order.
type Throttle struct {
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
	callTimeout time.Duration
	logger      *zap.Logger
}

func NewThrottle(minInterval time.Duration, maxRetries int, backoffBase, callTimeout time.Duration, logger *zap.Logger) *Throttle {
	return &Throttle{
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Do runs fn once the caller's pacing slot comes up. A rate-limit error
// retries the same fn up to maxRetries times with exponential backoff; any
// other error propagates immediately. The whole call, retries included, is
// bounded by the configured deadline.
func (t *Throttle) Do(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := t.backoffBase * time.Duration(1<<(attempt-1))
			t.logger.Debug("backing off after rate limit",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("backoff abandoned: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pacing wait: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("retries exhausted: %w", lastErr)
}

// Throttled routes every Client call through a Throttle. All components
// share one instance so the node sees a single paced call stream.
type Throttled struct {
	inner    Client
	throttle *Throttle
}

func NewThrottled(inner Client, throttle *Throttle) *Throttled {
	return &Throttled{inner: inner, throttle: throttle}
}

func (t *Throttled) ListRecentActivity(ctx context.Context, wallet string, limit int) ([]ActivityRef, error) {
	var refs []ActivityRef
	err := t.throttle.Do(ctx, func(ctx context.Context) error {
		var err error
		refs, err = t.inner.ListRecentActivity(ctx, wallet, limit)
		return err
	})
	return refs, err
}

func (t *Throttled) FetchActivityDetail(ctx context.Context, ref ActivityRef) (*ActivityEvent, error) {
	var event *ActivityEvent
	err := t.throttle.Do(ctx, func(ctx context.Context) error {
		var err error
		event, err = t.inner.FetchActivityDetail(ctx, ref)
		return err
	})
	return event, err
}

func (t *Throttled) ListTopHolders(ctx context.Context, limit int) ([]HolderInfo, error) {
	var holders []HolderInfo
	err := t.throttle.Do(ctx, func(ctx context.Context) error {
		var err error
		holders, err = t.inner.ListTopHolders(ctx, limit)
		return err
	})
	return holders, err
}
