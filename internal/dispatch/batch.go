package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

// BatchOptions tunes the chunk lifecycle
type BatchOptions struct {
	ChunkSize     int
	PollInterval  time.Duration
	MaxPolls      int
	MaxRetries    int
	RetryDelay    time.Duration
	ArtifactDir   string
	KeepArtifacts int
}

// Batch groups items into chunks, submits each chunk as one provider job and
// polls it to a terminal status. Failed jobs are resubmitted whole.
type Batch struct {
	client llm.JobClient
	opts   BatchOptions
	hooks  Hooks

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatch creates a batch-mode dispatcher
func NewBatch(client llm.JobClient, opts BatchOptions, hooks Hooks) *Batch {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 200
	}
	if opts.MaxPolls < 1 {
		opts.MaxPolls = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Batch{
		client: client,
		opts:   opts,
		hooks:  hooks,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// WithClock replaces the wall clock and the sleep function
func (b *Batch) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Batch {
	b.now = now
	b.sleep = sleep
	return b
}

// chunkOutcome is the fate of one chunk after all its attempts
type chunkOutcome int

const (
	chunkDone chunkOutcome = iota
	chunkAbandoned
	chunkIndeterminate
)

// Run submits job.Items chunk by chunk. The checkpoint is saved after every
// chunk that produced results, including a chunk cut short by cancellation. An abandoned chunk leaves its items unresolved
// for the next run.
func (b *Batch) Run(ctx context.Context, job Job) (Summary, error) {
	var sum Summary
	logger := log.WithFields(log.Fields{
		"language": job.Spec.Language.Name,
		"task":     int(job.Spec.Task),
		"items":    len(job.Items),
	})
	if len(job.Items) == 0 {
		return sum, nil
	}
	if err := os.MkdirAll(b.opts.ArtifactDir, 0755); err != nil {
		return sum, fmt.Errorf("create artifact dir: %w", err)
	}

	chunks := (len(job.Items) + b.opts.ChunkSize - 1) / b.opts.ChunkSize
	logger.WithFields(log.Fields{"chunks": chunks, "chunk_size": b.opts.ChunkSize}).Info("dispatching in batches")

	defer func() {
		if err := CleanupArtifacts(b.opts.ArtifactDir, b.opts.KeepArtifacts); err != nil {
			logger.WithError(err).Warn("artifact cleanup failed")
		}
	}()

	for n := 0; n < chunks; n++ {
		if err := ctx.Err(); err != nil {
			sum.Abandoned = len(job.Items) - sum.Resolved
			return sum, err
		}
		lo := n * b.opts.ChunkSize
		hi := lo + b.opts.ChunkSize
		if hi > len(job.Items) {
			hi = len(job.Items)
		}
		chunkSum, err := b.runChunk(ctx, job, n+1, job.Items[lo:hi])
		sum.Requested += chunkSum.Requested
		sum.Resolved += chunkSum.Resolved
		sum.Errors += chunkSum.Errors
		sum.Saves += chunkSum.Saves
		if err != nil {
			sum.Abandoned = len(job.Items) - sum.Resolved
			return sum, err
		}
	}

	sum.Abandoned = len(job.Items) - sum.Resolved
	logger.WithFields(log.Fields{
		"resolved":  sum.Resolved,
		"errors":    sum.Errors,
		"abandoned": sum.Abandoned,
	}).Info("batch dispatch finished")
	return sum, nil
}

func (b *Batch) runChunk(ctx context.Context, job Job, chunk int, items []domain.WorkItem) (Summary, error) {
	var sum Summary
	logger := log.WithFields(log.Fields{
		"language": job.Spec.Language.Name,
		"task":     int(job.Spec.Task),
		"chunk":    chunk,
	})

	local := make(domain.Results)
	artifact, idMap, err := b.writeArtifact(ctx, job, chunk, items, local)
	if err != nil {
		return sum, err
	}

	// local failures never reach the provider but still count as results
	for key, value := range local {
		job.Results[key] = value
		sum.Resolved++
		sum.Errors++
		b.hooks.resolved(job.Spec, mustAtoi(key), value)
	}

	if len(idMap) == 0 {
		if len(local) > 0 {
			if err := job.Save(job.Results); err != nil {
				return sum, fmt.Errorf("save checkpoint: %w", err)
			}
			sum.Saves++
		}
		return sum, nil
	}
	sum.Requested = len(idMap)

	outcome, merged, err := b.submitWithRetry(ctx, job, chunk, artifact, idMap)
	if err != nil && ctx.Err() != nil {
		// local failures are already in job.Results and must reach the checkpoint
		if len(local) > 0 {
			if saveErr := job.Save(job.Results); saveErr != nil {
				logger.WithError(saveErr).Error("saving checkpoint after cancellation failed")
			} else {
				sum.Saves++
			}
		}
		return sum, err
	}

	for key, value := range merged {
		job.Results[key] = value
		sum.Resolved++
		if domain.IsErrorValue(value) {
			sum.Errors++
		}
		b.hooks.resolved(job.Spec, mustAtoi(key), value)
	}

	switch outcome {
	case chunkAbandoned:
		logger.WithField("requests", len(idMap)).Error("chunk abandoned after retries; items stay unresolved")
	case chunkIndeterminate:
		logger.WithField("requests", len(idMap)).Error("job did not reach a terminal status in time; items stay unresolved")
	}

	if len(merged) > 0 || len(local) > 0 {
		if err := job.Save(job.Results); err != nil {
			return sum, fmt.Errorf("save checkpoint: %w", err)
		}
		sum.Saves++
	}
	return sum, nil
}

// writeArtifact prepares every item of the chunk and writes the request file.
// Local failures land in local instead of the artifact.
func (b *Batch) writeArtifact(ctx context.Context, job Job, chunk int, items []domain.WorkItem, local domain.Results) (llm.Artifact, map[string]int, error) {
	idMap := make(map[string]int, len(items))
	var buf bytes.Buffer

	for _, item := range items {
		req, err := job.Prepare(ctx, item)
		if err != nil {
			log.WithFields(log.Fields{"item": item.ID, "image": item.ImagePath}).
				WithError(err).Warn("item preparation failed")
			local[item.Key()] = domain.ErrorValue(err.Error())
			continue
		}
		prefix := "img"
		if job.Spec.IsTextPairedTask() {
			prefix = "pair"
		}
		customID := fmt.Sprintf("%s_%d_%s", prefix, item.ID, uuid.NewString())
		line, err := b.client.EncodeRequest(customID, req)
		if err != nil {
			return llm.Artifact{}, nil, fmt.Errorf("encode request for item %d: %w", item.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		idMap[customID] = item.ID
	}

	if len(idMap) == 0 {
		return llm.Artifact{}, idMap, nil
	}

	name := fmt.Sprintf("batch_%s_task%d_chunk%d_%s.jsonl",
		job.Spec.Language.Code, int(job.Spec.Task), chunk, uuid.NewString()[:8])
	path := filepath.Join(b.opts.ArtifactDir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return llm.Artifact{}, nil, fmt.Errorf("write artifact: %w", err)
	}
	return llm.Artifact{Path: path, Requests: len(idMap)}, idMap, nil
}

// submitWithRetry drives one chunk through up to 1+MaxRetries submissions
func (b *Batch) submitWithRetry(ctx context.Context, job Job, chunk int, artifact llm.Artifact, idMap map[string]int) (chunkOutcome, domain.Results, error) {
	logger := log.WithFields(log.Fields{
		"language": job.Spec.Language.Name,
		"task":     int(job.Spec.Task),
		"chunk":    chunk,
	})

	for attempt := 0; attempt <= b.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := b.opts.RetryDelay * time.Duration(1<<uint(attempt))
			logger.WithFields(log.Fields{"attempt": attempt + 1, "delay": delay}).Warn("resubmitting chunk")
			if err := b.sleep(ctx, delay); err != nil {
				return chunkAbandoned, nil, err
			}
		}

		submitted, err := b.client.Submit(ctx, artifact)
		if err != nil {
			if ctx.Err() != nil {
				return chunkAbandoned, nil, ctx.Err()
			}
			logger.WithError(err).Warn("job submission failed")
			continue
		}
		submitted.IDMap = idMap
		logger.WithFields(log.Fields{"job": submitted.JobID, "requests": artifact.Requests}).Info("job submitted")

		final, err := b.poll(ctx, submitted)
		if err != nil {
			return chunkAbandoned, nil, err
		}
		final.IDMap = idMap

		if !final.Status.IsTerminal() {
			final.Status = domain.JobIndeterminate
			b.hooks.job(JobEvent{Spec: job.Spec, Chunk: chunk, Attempt: attempt + 1, Job: final, Requests: artifact.Requests, Abandoned: true})
			return chunkIndeterminate, nil, nil
		}

		if final.Status == domain.JobCompleted && final.OutputArtifactID != "" {
			merged, err := b.collect(ctx, final)
			if err == nil {
				b.hooks.job(JobEvent{Spec: job.Spec, Chunk: chunk, Attempt: attempt + 1, Job: final, Requests: artifact.Requests})
				return chunkDone, merged, nil
			}
			if ctx.Err() != nil {
				return chunkAbandoned, nil, ctx.Err()
			}
			logger.WithError(err).Warn("downloading results failed")
		} else {
			logger.WithFields(log.Fields{"job": final.JobID, "status": final.Status}).Warn("job did not produce results")
		}

		b.logErrorArtifact(ctx, final)
		last := attempt == b.opts.MaxRetries
		b.hooks.job(JobEvent{Spec: job.Spec, Chunk: chunk, Attempt: attempt + 1, Job: final, Requests: artifact.Requests, Abandoned: last})
	}
	return chunkAbandoned, nil, nil
}

// poll retrieves the job until it is terminal, the poll budget is spent or
// the deadline passes. A failed retrieval waits twice the interval.
func (b *Batch) poll(ctx context.Context, job domain.BatchJob) (domain.BatchJob, error) {
	deadline := b.now().Add(time.Duration(b.opts.MaxPolls) * b.opts.PollInterval)
	current := job

	for polls := 0; polls < b.opts.MaxPolls; polls++ {
		got, err := b.client.Retrieve(ctx, job.JobID)
		wait := b.opts.PollInterval
		if err != nil {
			if ctx.Err() != nil {
				return current, ctx.Err()
			}
			log.WithField("job", job.JobID).WithError(err).Warn("poll failed")
			wait = 2 * b.opts.PollInterval
		} else {
			current = got
			log.WithFields(log.Fields{
				"job":       got.JobID,
				"status":    got.Status,
				"completed": got.Counts.Completed,
				"failed":    got.Counts.Failed,
				"total":     got.Counts.Total,
			}).Debug("job status")
			if got.Status.IsTerminal() {
				return current, nil
			}
		}
		if polls == b.opts.MaxPolls-1 || !b.now().Before(deadline) {
			break
		}
		if err := b.sleep(ctx, wait); err != nil {
			return current, err
		}
	}
	return current, nil
}

// collect downloads the output file and maps every line back to its item
func (b *Batch) collect(ctx context.Context, job domain.BatchJob) (domain.Results, error) {
	data, err := b.client.Download(ctx, job.OutputArtifactID)
	if err != nil {
		return nil, err
	}

	merged := make(domain.Results)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		customID, resp, err := b.client.DecodeResult(line)
		if err != nil {
			log.WithField("job", job.JobID).WithError(err).Warn("skipping undecodable result line")
			continue
		}
		id, ok := job.IDMap[customID]
		if !ok {
			log.WithFields(log.Fields{"job": job.JobID, "custom_id": customID}).Warn("result for unknown correlation id")
			continue
		}
		merged[fmt.Sprintf("%d", id)] = resp.ResultValue()
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return merged, nil
}

// logErrorArtifact downloads the job's error file, if any, and logs its lines
func (b *Batch) logErrorArtifact(ctx context.Context, job domain.BatchJob) {
	if job.ErrorArtifactID == "" {
		return
	}
	data, err := b.client.Download(ctx, job.ErrorArtifactID)
	if err != nil {
		log.WithField("job", job.JobID).WithError(err).Warn("could not download error file")
		return
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	shown := 0
	for sc.Scan() {
		if shown == 5 {
			log.WithField("job", job.JobID).Warn("further error lines omitted")
			return
		}
		log.WithField("job", job.JobID).Warnf("error file: %s", sc.Text())
		shown++
	}
}
