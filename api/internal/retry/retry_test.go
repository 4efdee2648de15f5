package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordSleeper struct {
	delays []time.Duration
}

func (s *recordSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testPolicy(sleep Sleeper, attempts int) Policy {
	return Policy{
		InitialDelay: 2 * time.Second,
		MaxDelay:     120 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
		Jitter:       0.2,
		Codes:        []int{429, 500, 503, 504},
		Sleep:        sleep,
		Rand:         func() float64 { return 0.5 },
	}
}

func TestDoSucceedsAfterTransientErrors(t *testing.T) {
	var calls int
	sleep := &recordSleeper{}
	err := Do(context.Background(), testPolicy(sleep.Sleep, 5), nil, func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "overloaded"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(sleep.delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(sleep.delays))
	}
}

func TestDoNeverExceedsMaxAttempts(t *testing.T) {
	for _, attempts := range []int{1, 2, 7} {
		var calls int
		sleep := &recordSleeper{}
		err := Do(context.Background(), testPolicy(sleep.Sleep, attempts), nil, func(ctx context.Context) error {
			calls++
			return &googleapi.Error{Code: http.StatusTooManyRequests}
		})
		var exhausted *ExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("attempts=%d: expected ExhaustedError, got %v", attempts, err)
		}
		if exhausted.Attempts != attempts {
			t.Fatalf("attempts=%d: error reports %d attempts", attempts, exhausted.Attempts)
		}
		if calls != attempts {
			t.Fatalf("attempts=%d: expected %d calls, got %d", attempts, attempts, calls)
		}
		if len(sleep.delays) != attempts-1 {
			t.Fatalf("attempts=%d: expected %d sleeps, got %d", attempts, attempts-1, len(sleep.delays))
		}
		var gerr *googleapi.Error
		if !errors.As(err, &gerr) || gerr.Code != http.StatusTooManyRequests {
			t.Fatalf("attempts=%d: cause not preserved: %v", attempts, err)
		}
	}
}

func TestDoNoRetryOnClientError(t *testing.T) {
	var calls int
	sleep := &recordSleeper{}
	want := &googleapi.Error{Code: http.StatusBadRequest, Message: "bad request"}
	err := Do(context.Background(), testPolicy(sleep.Sleep, 5), nil, func(ctx context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 || len(sleep.delays) != 0 {
		t.Fatalf("expected a single call and no sleeps, got %d calls %d sleeps", calls, len(sleep.delays))
	}
}

func TestDoRetriesGRPCUnavailable(t *testing.T) {
	var calls int
	sleep := &recordSleeper{}
	err := Do(context.Background(), testPolicy(sleep.Sleep, 3), nil, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return status.Error(codes.Unavailable, "try later")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoRetriesUnexpectedEOF(t *testing.T) {
	var calls int
	sleep := &recordSleeper{}
	_ = Do(context.Background(), testPolicy(sleep.Sleep, 2), nil, func(ctx context.Context) error {
		calls++
		return io.ErrUnexpectedEOF
	})
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoContextCancelStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	sleepFunc := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	err := Do(ctx, testPolicy(sleepFunc, 5), nil, func(ctx context.Context) error {
		calls++
		return &googleapi.Error{Code: http.StatusServiceUnavailable}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDelaysStrictlyIncreaseUntilCap(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		sleep := &recordSleeper{}
		policy := testPolicy(sleep.Sleep, 10)
		policy.Rand = rng.Float64
		_ = Do(context.Background(), policy, nil, func(ctx context.Context) error {
			return &googleapi.Error{Code: http.StatusInternalServerError}
		})
		for i := 1; i < len(sleep.delays); i++ {
			prev, cur := sleep.delays[i-1], sleep.delays[i]
			if cur > policy.MaxDelay {
				t.Fatalf("delay %s exceeds cap %s", cur, policy.MaxDelay)
			}
			if prev == policy.MaxDelay {
				if cur != policy.MaxDelay {
					t.Fatalf("delay dropped below cap after reaching it: %v", sleep.delays)
				}
				continue
			}
			if cur <= prev {
				t.Fatalf("delays not strictly increasing: %v", sleep.delays)
			}
		}
	}
}

func TestDelayWithoutJitter(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("retry %d: expected %s, got %s", i+1, w, got)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	bad := []Policy{
		{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, MaxAttempts: 0},
		{InitialDelay: 0, MaxDelay: time.Minute, Multiplier: 2, MaxAttempts: 3},
		{InitialDelay: time.Minute, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 3},
		{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 1, MaxAttempts: 3},
		{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 1.5, MaxAttempts: 3, Jitter: 0.6},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestStatusCode(t *testing.T) {
	if got := StatusCode(status.Error(codes.ResourceExhausted, "quota")); got != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
