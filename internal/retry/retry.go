// Package retry applies an exponential backoff policy around single attempts.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/apex/log"

	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

// Policy bounds attempts and backoff. Delay(n) = BaseDelay * 2^n, capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Sleep waits between attempts; nil uses a context-aware timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// Delay returns the wait after the given zero-based attempt
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		return p.MaxDelay
	}
	return d
}

// Do runs attempt until it succeeds, is blocked, fails permanently or the
// attempt budget is spent. An exhausted budget becomes a terminal failure
// whose message names the attempt count.
func (p Policy) Do(ctx context.Context, attempt func(ctx context.Context) llm.Response) llm.Response {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last llm.Response
	for n := 0; n < max; n++ {
		last = attempt(ctx)
		if last.Kind != llm.KindFailure || !last.Retryable {
			return last
		}
		log.WithFields(log.Fields{
			"attempt": n + 1,
			"of":      max,
			"code":    last.Code,
		}).Warnf("request failed: %s", last.Message)

		if n == max-1 {
			break
		}
		if err := sleep(ctx, p.Delay(n)); err != nil {
			return llm.Failure(0, fmt.Sprintf("After %d attempts - %v", n+1, err), false)
		}
	}
	return llm.Failure(0, fmt.Sprintf("After %d attempts - %s", max, last.Error()), false)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
