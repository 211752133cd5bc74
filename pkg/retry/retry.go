package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"syscall"
	"time"
)

// Default retry parameters.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 10 * time.Second
	DefaultMultiplier   = 2.0
)

// ErrAttemptsExhausted wraps the last error after all retries failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Config controls retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// A value of N allows up to N+1 attempts in total.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor between retries.
	Multiplier float64

	// Jitter scales each delay by a uniform random factor in [0,1).
	Jitter bool
}

// DefaultConfig returns the retry configuration used for cloud calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		Jitter:       true,
	}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
// The classifier treats 429 and 5xx as transient.
type StatusCoder interface {
	StatusCode() int
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation is never transient; the caller gave up.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == 429 || (code >= 500 && code <= 599)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// DelayFor returns the backoff delay before retry attempt k (0-indexed).
// With jitter enabled the result is uniformly distributed in
// [0, min(MaxDelay, InitialDelay*Multiplier^k)); with jitter disabled it
// equals that bound.
func DelayFor(cfg Config, attempt int) time.Duration {
	base := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if capped := float64(cfg.MaxDelay); base > capped {
		base = capped
	}
	if cfg.Jitter {
		base *= rand.Float64()
	}
	return time.Duration(base)
}

// Do runs fn up to cfg.MaxRetries+1 times, sleeping between attempts.
// Non-transient errors fail immediately. The operation name is used for
// logging only. A nil logger disables logging.
func Do[T any](ctx context.Context, logger *slog.Logger, name string, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := DelayFor(cfg, attempt)
		if logger != nil {
			logger.Debug("retrying operation",
				"operation", name,
				"attempt", attempt+1,
				"max_attempts", cfg.MaxRetries+1,
				"delay", delay,
				"error", err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	if logger != nil {
		logger.Warn("operation failed after retries",
			"operation", name,
			"attempts", cfg.MaxRetries+1,
			"error", lastErr)
	}
	return zero, errors.Join(ErrAttemptsExhausted, lastErr)
}
