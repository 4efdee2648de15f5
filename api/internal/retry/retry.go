// Package retry runs remote calls under an exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"slices"
	"strings"
	"syscall"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultInitialDelay = 2 * time.Second
	defaultMaxDelay     = 120 * time.Second
	defaultMultiplier   = 2.0
	defaultMaxAttempts  = 7
	defaultJitter       = 0.2
)

var defaultCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

type Sleeper func(ctx context.Context, d time.Duration) error
type RandFunc func() float64

type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
	// Jitter is the upper bound of the random fraction added to every delay.
	Jitter float64
	// Codes lists the HTTP statuses treated as transient.
	Codes []int
	Sleep Sleeper
	Rand  RandFunc
}

func DefaultPolicy() Policy {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return Policy{
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
		Multiplier:   defaultMultiplier,
		MaxAttempts:  defaultMaxAttempts,
		Jitter:       defaultJitter,
		Codes:        slices.Clone(defaultCodes),
		Sleep:        defaultSleep,
		Rand:         rng.Float64,
	}
}

// Validate checks that the policy yields a strictly increasing delay sequence
// until MaxDelay, even in the worst jitter case.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("retry attempts must be >= 1, got %d", p.MaxAttempts)
	case p.InitialDelay <= 0:
		return fmt.Errorf("retry initial delay must be > 0, got %s", p.InitialDelay)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("retry max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay)
	case p.Multiplier <= 1:
		return fmt.Errorf("retry multiplier must be > 1, got %g", p.Multiplier)
	case p.Jitter < 0 || p.Jitter >= 1:
		return fmt.Errorf("retry jitter must be in [0,1), got %g", p.Jitter)
	case p.Multiplier <= 1+p.Jitter:
		return fmt.Errorf("retry jitter %g is too wide for multiplier %g", p.Jitter, p.Multiplier)
	}
	return nil
}

type ExhaustedError struct {
	Cause    error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry attempts exhausted after %d: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Do calls op until it succeeds, fails with a non-transient error, the context
// ends or MaxAttempts calls have been made.
func Do(ctx context.Context, policy Policy, logger *slog.Logger, op func(ctx context.Context) error) error {
	policy = withDefaults(policy)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		code, reason, transient := policy.classify(ctx, err)
		if !transient {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.jitterDelay(policy.Delay(attempt))
		logRetry(logger, attempt+1, policy.MaxAttempts, code, reason, delay, err)
		if err := policy.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Cause: lastErr, Attempts: policy.MaxAttempts}
}

// Delay returns the un-jittered wait before retry number retryIndex (1-based).
func (p Policy) Delay(retryIndex int) time.Duration {
	if retryIndex < 1 {
		retryIndex = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retryIndex-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

func (p Policy) jitterDelay(delay time.Duration) time.Duration {
	if delay <= 0 || p.Jitter <= 0 {
		return delay
	}
	adjusted := float64(delay) * (1 + p.Rand()*p.Jitter)
	if adjusted > float64(p.MaxDelay) {
		adjusted = float64(p.MaxDelay)
	}
	return time.Duration(adjusted)
}

func withDefaults(p Policy) Policy {
	if p.InitialDelay == 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = defaultMultiplier
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Codes == nil {
		p.Codes = slices.Clone(defaultCodes)
	}
	if p.Sleep == nil {
		p.Sleep = defaultSleep
	}
	if p.Rand == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		p.Rand = rng.Float64
	}
	return p
}

func defaultSleep(ctx context.Context, d time.Duration) error {
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

func (p Policy) classify(ctx context.Context, err error) (int, string, bool) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return 0, "", false
	}
	if code := StatusCode(err); code != 0 {
		return code, reasonForStatus(code), slices.Contains(p.Codes, code)
	}
	if isTransientNetErr(err) {
		return 0, reasonForNetErr(err), true
	}
	return 0, "", false
}

// StatusCode extracts an HTTP status from a Google API error. gRPC statuses
// are mapped to their HTTP equivalents; 0 means no status is attached.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return http.StatusTooManyRequests
		case codes.Internal:
			return http.StatusInternalServerError
		case codes.Unavailable:
			return http.StatusServiceUnavailable
		case codes.DeadlineExceeded:
			return http.StatusGatewayTimeout
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
			return http.StatusBadRequest
		case codes.Unauthenticated:
			return http.StatusUnauthorized
		case codes.PermissionDenied:
			return http.StatusForbidden
		case codes.NotFound:
			return http.StatusNotFound
		}
	}
	return 0
}

func reasonForStatus(code int) string {
	switch code {
	case http.StatusTooManyRequests:
		return "rate limit"
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "upstream 5xx"
	default:
		return "http error"
	}
}

func isTransientNetErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection reset")
}

func reasonForNetErr(err error) string {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "eof"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection refused"
	}
	if errors.Is(err, syscall.ECONNRESET) || strings.Contains(strings.ToLower(err.Error()), "connection reset") {
		return "connection reset"
	}
	return "timeout"
}

func logRetry(logger *slog.Logger, attempt, maxAttempts, code int, reason string, delay time.Duration, cause error) {
	if logger == nil {
		return
	}
	args := []any{
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", maxAttempts),
		slog.String("reason", reason),
		slog.Duration("retry_in", delay),
		slog.String("error", cause.Error()),
	}
	if code > 0 {
		args = append(args, slog.Int("status", code))
	}
	logger.Warn("retrying request", args...)
}
