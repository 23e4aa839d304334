package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cozy-creator/model-cache/internal/types"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second

	maxInterval = 10 * time.Minute
)

// Policy is bounded retry with exponential backoff. The delay before retry
// k (0-indexed) is BaseDelay * 2^k unless FixedDelay is set. A Policy holds
// no per-call state and may be shared by unrelated operations.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	FixedDelay  time.Duration

	// Retryable decides which failures consume another attempt. Defaults to
	// types.IsRetryable.
	Retryable func(error) bool

	logger *zap.Logger
	timer  backoff.Timer
}

func NewPolicy(maxAttempts int, baseDelay time.Duration, logger *zap.Logger) Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		logger:      logger.Named("retry"),
	}
}

// WithTimer swaps the timer used between attempts.
func (p Policy) WithTimer(t backoff.Timer) Policy {
	p.timer = t
	return p
}

// ExhaustedError is returned once every attempt failed with a retryable
// error. It unwraps to the last failure so its kind is preserved.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.FixedDelay > 0 {
		b = backoff.NewConstantBackOff(p.FixedDelay)
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.BaseDelay
		exp.RandomizationFactor = 0
		exp.Multiplier = 2
		exp.MaxInterval = maxInterval
		exp.MaxElapsedTime = 0
		b = exp
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.attempts()-1)), ctx)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return types.IsRetryable(err)
}

// Do runs op until it succeeds, fails with a non-retryable error, the
// context is done, or MaxAttempts is reached.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	logger := p.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	attempt := 0
	exhausted := false
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if !p.retryable(err) {
			return res, backoff.Permanent(err)
		}
		if attempt >= p.attempts() {
			exhausted = true
		}
		return res, err
	}

	notify := func(err error, delay time.Duration) {
		logger.Warn("attempt failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.attempts()),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	res, err := backoff.RetryNotifyWithTimerAndData(operation, p.backOff(ctx), notify, p.timer)
	if err != nil && exhausted {
		logger.Error("attempts exhausted",
			zap.String("operation", name),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return res, &ExhaustedError{Attempts: attempt, Err: err}
	}

	return res, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
