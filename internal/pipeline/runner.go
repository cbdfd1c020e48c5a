// Package pipeline runs the (language, task) matrix: it selects eligible
// items, skips what the checkpoint already holds, dispatches the rest and
// writes the final artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/hochfrequenz/vlm-rationales/internal/checkpoint"
	"github.com/hochfrequenz/vlm-rationales/internal/config"
	"github.com/hochfrequenz/vlm-rationales/internal/dispatch"
	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/items"
	"github.com/hochfrequenz/vlm-rationales/internal/ledger"
	"github.com/hochfrequenz/vlm-rationales/internal/metrics"
	"github.com/hochfrequenz/vlm-rationales/internal/prompts"
	"github.com/hochfrequenz/vlm-rationales/internal/results"
)

// Progress follows the items of one pair as they resolve
type Progress interface {
	Start(spec domain.TaskSpec, total int)
	Advance(spec domain.TaskSpec, value string)
	Finish(spec domain.TaskSpec)
}

// Options wires a Runner
type Options struct {
	Config  *config.Config
	Catalog *prompts.Catalog
	Prompts *prompts.Loader

	// NewDispatcher builds the dispatcher once the runner's hooks exist
	NewDispatcher func(hooks dispatch.Hooks) dispatch.Dispatcher
	Provider      string

	Ledger   *ledger.Store    // optional
	Metrics  *metrics.Metrics // optional
	Progress Progress         // optional

	// Hooks are called alongside the runner's own hooks
	Hooks dispatch.Hooks
}

// PairStatus is the outcome of one (language, task) pair
type PairStatus string

const (
	PairCompleted PairStatus = "completed"
	PairPartial   PairStatus = "partial"
	PairUpToDate  PairStatus = "up_to_date"
	PairNoItems   PairStatus = "no_items"
	PairFailed    PairStatus = "failed"
)

// PairSummary reports one (language, task) pair
type PairSummary struct {
	Spec         domain.TaskSpec
	Status       PairStatus
	Eligible     int
	Pending      int
	Dispatch     dispatch.Summary
	ArtifactPath string
	Duration     time.Duration
	Err          error
}

// Runner drives the matrix sequentially; parallelism lives inside dispatch
type Runner struct {
	cfg        *config.Config
	catalog    *prompts.Catalog
	prompts    *prompts.Loader
	store      *checkpoint.Store
	finalizer  *results.Finalizer
	dispatcher dispatch.Dispatcher
	provider   string
	ledger     *ledger.Store
	metrics    *metrics.Metrics
	progress   Progress
	extra      dispatch.Hooks

	mu    sync.Mutex
	runID string
}

// New creates a Runner
func New(opts Options) *Runner {
	r := &Runner{
		cfg:       opts.Config,
		catalog:   opts.Catalog,
		prompts:   opts.Prompts,
		store:     checkpoint.NewStore(opts.Config.CheckpointDir()),
		finalizer: results.NewFinalizer(opts.Config.ResultsDir(), opts.Config.Model.PathModel),
		provider:  opts.Provider,
		ledger:    opts.Ledger,
		metrics:   opts.Metrics,
		progress:  opts.Progress,
		extra:     opts.Hooks,
	}
	if r.metrics != nil {
		r.store.OnSave(r.metrics.CheckpointSaved)
	}
	if opts.NewDispatcher != nil {
		r.dispatcher = opts.NewDispatcher(r.hooks())
	}
	return r
}

// Store returns the checkpoint store
func (r *Runner) Store() *checkpoint.Store {
	return r.store
}

// Finalizer returns the artifact writer
func (r *Runner) Finalizer() *results.Finalizer {
	return r.finalizer
}

// Metrics returns the metrics collector, or nil
func (r *Runner) Metrics() *metrics.Metrics {
	return r.metrics
}

func (r *Runner) hooks() dispatch.Hooks {
	var all []dispatch.Hooks
	if r.metrics != nil {
		all = append(all, r.metrics.Hooks(r.provider))
	}
	if r.progress != nil {
		all = append(all, dispatch.Hooks{
			Resolved: func(spec domain.TaskSpec, item int, value string) {
				r.progress.Advance(spec, value)
			},
		})
	}
	if r.ledger != nil {
		all = append(all, dispatch.Hooks{
			Job: func(ev dispatch.JobEvent) {
				if err := r.ledger.RecordJob(r.currentRun(), ev); err != nil {
					log.WithError(err).WithField("job", ev.Job.JobID).Warn("ledger: record job failed")
				}
			},
		})
	}
	all = append(all, r.extra)
	return dispatch.Combine(all...)
}

func (r *Runner) currentRun() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

func (r *Runner) setRun(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = id
}

// Pairs resolves the configured languages and tasks into task specs,
// languages outermost
func (r *Runner) Pairs() ([]domain.TaskSpec, error) {
	var specs []domain.TaskSpec
	for _, name := range r.cfg.Run.Languages {
		lang, err := r.catalog.Language(name)
		if err != nil {
			return nil, err
		}
		for _, n := range r.cfg.Run.Tasks {
			spec, err := r.catalog.Spec(lang, domain.TaskNumber(n))
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

// Eligible returns the items a task covers: image-text items for the
// text-paired tasks, otherwise all items or only the image-only ones
// depending on the configured scope.
func (r *Runner) Eligible(spec domain.TaskSpec, scan *items.Scan) []domain.WorkItem {
	if spec.IsTextPairedTask() {
		return scan.ImageText
	}
	if r.cfg.Run.ImageTaskScope == config.ScopeImageOnly {
		return scan.ImageOnly
	}
	return scan.All
}

// Run processes every configured pair. A cancelled context stops after the
// current pair has saved its checkpoint; other pair failures are reported in
// the summaries and do not stop the run.
func (r *Runner) Run(ctx context.Context, scan *items.Scan) ([]PairSummary, error) {
	if r.dispatcher == nil {
		return nil, errors.New("pipeline: no dispatcher configured")
	}
	specs, err := r.Pairs()
	if err != nil {
		return nil, err
	}

	var out []PairSummary
	for _, spec := range specs {
		sum := r.RunPair(ctx, spec, scan)
		out = append(out, sum)
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	}
	if r.metrics != nil {
		r.metrics.RunFinished(time.Now())
	}
	return out, nil
}

// RunPair processes one (language, task) pair
func (r *Runner) RunPair(ctx context.Context, spec domain.TaskSpec, scan *items.Scan) PairSummary {
	start := time.Now()
	sum := PairSummary{Spec: spec}
	logger := log.WithFields(log.Fields{"language": spec.Language.Name, "task": int(spec.Task)})

	eligible := r.Eligible(spec, scan)
	sum.Eligible = len(eligible)
	if len(eligible) == 0 {
		logger.Info("no eligible items")
		sum.Status = PairNoItems
		return sum
	}

	existing := r.store.Load(spec.Language, spec.Task)
	var pending []domain.WorkItem
	for _, item := range eligible {
		if !existing.Resolved(item.Key(), r.cfg.Run.RetryErrors) {
			pending = append(pending, item)
		}
	}
	sum.Pending = len(pending)
	logger.WithFields(log.Fields{
		"eligible": len(eligible),
		"done":     len(eligible) - len(pending),
		"pending":  len(pending),
	}).Info("pair loaded")

	if len(pending) == 0 {
		sum.Status = PairUpToDate
		sum.ArtifactPath, sum.Err = r.finalizer.Finalize(spec.Language, spec.Task, existing)
		if sum.Err != nil {
			sum.Status = PairFailed
		}
		sum.Duration = time.Since(start)
		return sum
	}

	if err := r.probe(spec, pending[0]); err != nil {
		logger.WithError(err).Error("prompt cannot be rendered; skipping pair")
		sum.Status = PairFailed
		sum.Err = err
		return sum
	}

	var run *ledger.Run
	if r.ledger != nil {
		var err error
		run, err = r.ledger.StartRun(spec, r.cfg.Run.Mode, r.provider, r.cfg.Model.APIModel, len(pending))
		if err != nil {
			logger.WithError(err).Warn("ledger: start run failed")
		} else {
			r.setRun(run.ID)
		}
	}

	if r.progress != nil {
		r.progress.Start(spec, len(pending))
	}
	ds, err := r.dispatcher.Run(ctx, dispatch.Job{
		Spec:    spec,
		Items:   pending,
		Prepare: r.preparer(spec),
		Results: existing,
		Save: func(res domain.Results) error {
			return r.store.Save(spec.Language, spec.Task, res)
		},
	})
	if r.progress != nil {
		r.progress.Finish(spec)
	}
	sum.Dispatch = ds

	switch {
	case err != nil:
		sum.Status = PairFailed
		sum.Err = err
	case ds.Abandoned > 0:
		sum.Status = PairPartial
	default:
		sum.Status = PairCompleted
	}

	path, ferr := r.finalizer.Finalize(spec.Language, spec.Task, existing)
	if ferr != nil {
		logger.WithError(ferr).Error("writing results failed")
		if sum.Err == nil {
			sum.Err = ferr
			sum.Status = PairFailed
		}
	} else {
		sum.ArtifactPath = path
	}
	sum.Duration = time.Since(start)

	if run != nil {
		msg := ""
		if sum.Err != nil {
			msg = sum.Err.Error()
		}
		if err := r.ledger.FinishRun(run.ID, ledgerStatus(sum.Status), ds, sum.ArtifactPath, msg); err != nil {
			logger.WithError(err).Warn("ledger: finish run failed")
		}
		r.setRun("")
	}

	logger.WithFields(log.Fields{
		"status":    sum.Status,
		"resolved":  ds.Resolved,
		"errors":    ds.Errors,
		"abandoned": ds.Abandoned,
		"took":      sum.Duration.Round(time.Millisecond),
	}).Info("pair finished")
	return sum
}

// probe renders the prompt for one item without loading its image, so that a
// broken template fails the pair instead of every item
func (r *Runner) probe(spec domain.TaskSpec, item domain.WorkItem) error {
	if _, err := r.prompts.BuildPrompt(spec, item, "probe"); err != nil {
		var te *prompts.TemplateError
		if errors.As(err, &te) {
			return err
		}
		return fmt.Errorf("render %s: %w", spec.Key(), err)
	}
	return nil
}

// Finalize rewrites the artifacts of every configured pair from its checkpoint
func (r *Runner) Finalize() ([]string, error) {
	specs, err := r.Pairs()
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, spec := range specs {
		cov := r.store.Coverage(spec.Language, spec.Task)
		if !cov.Exists {
			continue
		}
		res := r.store.Load(spec.Language, spec.Task)
		path, err := r.finalizer.Finalize(spec.Language, spec.Task, res)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func ledgerStatus(s PairStatus) ledger.RunStatus {
	switch s {
	case PairCompleted:
		return ledger.RunCompleted
	case PairPartial:
		return ledger.RunPartial
	case PairUpToDate, PairNoItems:
		return ledger.RunSkipped
	}
	return ledger.RunFailed
}
