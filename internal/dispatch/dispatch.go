// Package dispatch sends unresolved work items to a provider and folds the
// results back into a (language, task) result set.
package dispatch

import (
	"context"
	"time"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

// Preparer turns a work item into a request. An error is a local failure
// (unreadable image or text) and is recorded as the item's result.
type Preparer func(ctx context.Context, item domain.WorkItem) (llm.Request, error)

// Job is the work for one (language, task) pair
type Job struct {
	Spec    domain.TaskSpec
	Items   []domain.WorkItem // unresolved items only
	Prepare Preparer
	// Results is merged in place; Run is its only writer until it returns
	Results domain.Results
	Save    func(domain.Results) error
}

// Summary counts what one Run did
type Summary struct {
	Requested int // items sent to the provider
	Resolved  int // items that got a result value, success or error
	Errors    int // resolved items whose value is an error
	Saves     int
	Abandoned int // items left unresolved (abandoned chunks, cancellation)
}

// JobEvent reports a batch job reaching a final state for this run
type JobEvent struct {
	Spec      domain.TaskSpec
	Chunk     int
	Attempt   int
	Job       domain.BatchJob
	Requests  int
	Abandoned bool
}

// Hooks observe a run; every field is optional
type Hooks struct {
	// Resolved is called once per item that received a result value
	Resolved func(spec domain.TaskSpec, item int, value string)
	// Request is called after every direct-mode request
	Request func(kind llm.Kind, latency time.Duration)
	// Job is called for every batch submission once its fate is known
	Job func(ev JobEvent)
}

func (h Hooks) resolved(spec domain.TaskSpec, item int, value string) {
	if h.Resolved != nil {
		h.Resolved(spec, item, value)
	}
}

func (h Hooks) request(kind llm.Kind, latency time.Duration) {
	if h.Request != nil {
		h.Request(kind, latency)
	}
}

func (h Hooks) job(ev JobEvent) {
	if h.Job != nil {
		h.Job(ev)
	}
}

// Dispatcher runs one job to completion or exhaustion
type Dispatcher interface {
	Run(ctx context.Context, job Job) (Summary, error)
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

// Combine fans every event out to each of hooks in order
func Combine(hooks ...Hooks) Hooks {
	return Hooks{
		Resolved: func(spec domain.TaskSpec, item int, value string) {
			for _, h := range hooks {
				h.resolved(spec, item, value)
			}
		},
		Request: func(kind llm.Kind, latency time.Duration) {
			for _, h := range hooks {
				h.request(kind, latency)
			}
		},
		Job: func(ev JobEvent) {
			for _, h := range hooks {
				h.job(ev)
			}
		},
	}
}
