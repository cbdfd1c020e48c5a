package retry

import (
	"context"
	"testing"
	"time"

	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 5 * time.Second, MaxDelay: time.Minute}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 5 * time.Second},
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, time.Minute},
		{80, time.Minute},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func recordSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestPolicy_Do(t *testing.T) {
	tests := []struct {
		name       string
		responses  []llm.Response
		wantCalls  int
		wantKind   llm.Kind
		wantValue  string
		wantSleeps int
	}{
		{
			name:      "first try succeeds",
			responses: []llm.Response{llm.Success("ok")},
			wantCalls: 1,
			wantKind:  llm.KindSuccess,
			wantValue: "ok",
		},
		{
			name:       "succeeds after transient failures",
			responses:  []llm.Response{llm.Failure(503, "busy", true), llm.Failure(429, "slow down", true), llm.Success("ok")},
			wantCalls:  3,
			wantKind:   llm.KindSuccess,
			wantValue:  "ok",
			wantSleeps: 2,
		},
		{
			name:      "blocked is not retried",
			responses: []llm.Response{llm.Blocked("No content in response (Finish reason: SAFETY, Safety: [])")},
			wantCalls: 1,
			wantKind:  llm.KindBlocked,
			wantValue: "Error: No content in response (Finish reason: SAFETY, Safety: [])",
		},
		{
			name:      "permanent failure is not retried",
			responses: []llm.Response{llm.Failure(400, "bad request", false)},
			wantCalls: 1,
			wantKind:  llm.KindFailure,
			wantValue: "Error: Status 400, Message: bad request",
		},
		{
			name:       "budget exhausted",
			responses:  []llm.Response{llm.Failure(500, "a", true), llm.Failure(500, "b", true), llm.Failure(500, "c", true)},
			wantCalls:  3,
			wantKind:   llm.KindFailure,
			wantValue:  "Error: After 3 attempts - Status 500, Message: c",
			wantSleeps: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var delays []time.Duration
			p := Policy{MaxAttempts: 3, BaseDelay: 5 * time.Second, Sleep: recordSleeps(&delays)}

			calls := 0
			got := p.Do(context.Background(), func(context.Context) llm.Response {
				r := tt.responses[calls]
				calls++
				return r
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.ResultValue() != tt.wantValue {
				t.Errorf("ResultValue() = %q, want %q", got.ResultValue(), tt.wantValue)
			}
			if len(delays) != tt.wantSleeps {
				t.Errorf("sleeps = %v, want %d", delays, tt.wantSleeps)
			}
			if len(delays) == 2 && (delays[0] != 5*time.Second || delays[1] != 10*time.Second) {
				t.Errorf("delays = %v, want [5s 10s]", delays)
			}
		})
	}
}

func TestPolicy_DoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	got := p.Do(ctx, func(context.Context) llm.Response {
		return llm.Failure(503, "busy", true)
	})
	if got.Kind != llm.KindFailure || got.Retryable {
		t.Errorf("Do() = %+v, want terminal failure", got)
	}
}
