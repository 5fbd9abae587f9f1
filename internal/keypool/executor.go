package keypool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"paperflow/internal/logging"
	"paperflow/internal/services"
)

// DefaultRateLimitPause is the fixed pause applied after an HTTP 429 before
// the next credential is tried.
const DefaultRateLimitPause = 1200 * time.Millisecond

// Class is the retry classification of one failed attempt.
type Class int

const (
	// Fatal failures stop the attempt loop immediately.
	Fatal Class = iota
	// RetryCredential failures move on to the next credential.
	RetryCredential
	// RetryRateLimited failures pause briefly, then move on.
	RetryRateLimited
)

func (c Class) String() string {
	switch c {
	case RetryCredential:
		return "retry_credential"
	case RetryRateLimited:
		return "retry_rate_limited"
	default:
		return "fatal"
	}
}

// Classify maps an attempt error onto a retry class.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// HTTP client timeouts arrive wrapped in a url.Error.
		var urlErr *url.Error
		if !errors.As(err, &urlErr) {
			return Fatal
		}
	}
	if errors.Is(err, ErrMissingField) {
		return Fatal
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return RetryCredential
		case http.StatusTooManyRequests:
			return RetryRateLimited
		default:
			return Fatal
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return RetryCredential
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return RetryCredential
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, services.ErrTransient) {
		return RetryCredential
	}
	return Fatal
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper overrides the pause used after rate-limited attempts.
func WithSleeper(sleeper Sleeper) Option {
	return func(e *Executor) {
		if sleeper != nil {
			e.sleep = sleeper
		}
	}
}

// WithRateLimitPause overrides DefaultRateLimitPause.
func WithRateLimitPause(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.pause = d
		}
	}
}

// WithRequestsPerSecond paces attempts through a token bucket. Zero disables
// pacing.
func WithRequestsPerSecond(rps float64) Option {
	return func(e *Executor) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Executor runs provider calls with credential rotation.
type Executor struct {
	rotator *Rotator
	limiter *rate.Limiter
	sleep   Sleeper
	pause   time.Duration
	logger  *slog.Logger
}

// NewExecutor constructs an Executor over rotator.
func NewExecutor(rotator *Rotator, opts ...Option) *Executor {
	e := &Executor{
		rotator: rotator,
		sleep:   sleepContext,
		pause:   DefaultRateLimitPause,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.String("provider", rotator.Provider()))
	return e
}

// Rotator exposes the executor's credential pool.
func (e *Executor) Rotator() *Rotator { return e.rotator }

// Call is one attempt of a provider request using key.
type Call func(ctx context.Context, key string) error

// Do runs call at most once per credential in the pool. It returns nil on the
// first success, the error itself on a fatal failure, and an *ExhaustedError
// wrapping the last failure once every credential failed retryably.
func (e *Executor) Do(ctx context.Context, call Call) error {
	attempts := max(e.rotator.Len(), 1)
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx, key, err := e.rotator.next()
		if err != nil {
			return err
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err = call(ctx, key)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		class := Classify(err)
		if class == Fatal {
			return err
		}
		last = err
		e.logger.Warn("provider attempt failed",
			logging.String(logging.FieldEventType, "provider_attempt_failed"),
			logging.Int("attempt", attempt),
			logging.Int("attempts", attempts),
			logging.Int("credential_index", idx),
			logging.String("credential", Mask(key)),
			logging.String("class", class.String()),
			logging.Error(err),
		)
		if class == RetryRateLimited && attempt < attempts {
			if err := e.sleep(ctx, e.pause); err != nil {
				return err
			}
		}
	}
	return &ExhaustedError{Provider: e.rotator.Provider(), Attempts: attempts, Last: last}
}

// Run is Do for calls that produce a value.
func Run[T any](ctx context.Context, e *Executor, call func(ctx context.Context, key string) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, func(ctx context.Context, key string) error {
		v, err := call(ctx, key)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
