package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
	"github.com/hochfrequenz/vlm-rationales/internal/retry"
)

// Direct sends one request per item with at most Concurrency in flight.
// Producers report results over a channel; the calling goroutine is the only
// writer of the result set and the checkpoint.
type Direct struct {
	client      llm.Client
	policy      retry.Policy
	concurrency int
	saveEvery   int
	hooks       Hooks
}

// NewDirect creates a direct-mode dispatcher
func NewDirect(client llm.Client, policy retry.Policy, concurrency, saveEvery int, hooks Hooks) *Direct {
	if concurrency < 1 {
		concurrency = 1
	}
	if saveEvery < 1 {
		saveEvery = 1
	}
	return &Direct{
		client:      client,
		policy:      policy,
		concurrency: concurrency,
		saveEvery:   saveEvery,
		hooks:       hooks,
	}
}

type itemResult struct {
	item      domain.WorkItem
	value     string
	requested bool
	skipped   bool // cancelled before a result existed
}

// Run dispatches every item in job.Items. Cancelling ctx stops new requests;
// items without a result stay unresolved. The checkpoint is saved every
// saveEvery results and once at the end.
func (d *Direct) Run(ctx context.Context, job Job) (Summary, error) {
	var sum Summary
	logger := log.WithFields(log.Fields{
		"language": job.Spec.Language.Name,
		"task":     int(job.Spec.Task),
		"items":    len(job.Items),
	})
	if len(job.Items) == 0 {
		return sum, nil
	}
	logger.WithField("concurrency", d.concurrency).Info("dispatching directly")

	sem := semaphore.NewWeighted(int64(d.concurrency))
	out := make(chan itemResult)

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(out)
		}()
		for _, item := range job.Items {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func(item domain.WorkItem) {
				defer wg.Done()
				defer sem.Release(1)
				out <- d.process(ctx, job, item)
			}(item)
		}
	}()

	var saveErr error
	unsaved := 0
	save := func() {
		if err := job.Save(job.Results); err != nil {
			logger.WithError(err).Warn("checkpoint save failed")
			saveErr = err
			return
		}
		saveErr = nil
		sum.Saves++
		unsaved = 0
	}

	for r := range out {
		if r.requested {
			sum.Requested++
		}
		if r.skipped {
			continue
		}
		job.Results[r.item.Key()] = r.value
		sum.Resolved++
		if domain.IsErrorValue(r.value) {
			sum.Errors++
		}
		d.hooks.resolved(job.Spec, r.item.ID, r.value)

		unsaved++
		if unsaved >= d.saveEvery {
			save()
		}
	}
	save()

	sum.Abandoned = len(job.Items) - sum.Resolved
	logger.WithFields(log.Fields{
		"resolved":  sum.Resolved,
		"errors":    sum.Errors,
		"abandoned": sum.Abandoned,
	}).Info("direct dispatch finished")

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if saveErr != nil {
		return sum, fmt.Errorf("final checkpoint save: %w", saveErr)
	}
	return sum, nil
}

func (d *Direct) process(ctx context.Context, job Job, item domain.WorkItem) itemResult {
	if ctx.Err() != nil {
		return itemResult{item: item, skipped: true}
	}

	req, err := job.Prepare(ctx, item)
	if err != nil {
		log.WithFields(log.Fields{"item": item.ID, "image": item.ImagePath}).
			WithError(err).Warn("item preparation failed")
		return itemResult{item: item, value: domain.ErrorValue(err.Error())}
	}

	start := time.Now()
	resp := d.policy.Do(ctx, func(ctx context.Context) llm.Response {
		return d.client.Generate(ctx, req)
	})
	d.hooks.request(resp.Kind, time.Since(start))

	// a cancelled request has no result worth recording
	if ctx.Err() != nil && !resp.OK() {
		return itemResult{item: item, requested: true, skipped: true}
	}
	if resp.Kind == llm.KindBlocked {
		log.WithFields(log.Fields{"item": item.ID}).Warnf("blocked: %s", resp.Reason)
	}
	return itemResult{item: item, value: resp.ResultValue(), requested: true}
}
