// Package pipeline runs the three scrape stages against the staging
// store: segmentation, company id enrichment, and financial fetching.
// Each stage owns the job while it runs and checks the persisted job
// status between iterations, so pause and stop requests issued through
// the API take effect at the next page or batch boundary.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nivo-analytics/screener-cli/internal/config"
	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/internal/registry"
	"github.com/nivo-analytics/screener-cli/internal/staging"
)

// ErrDuplicateJob marks a Start refused because a job with the same
// filter hash is already running.
var ErrDuplicateJob = eris.New("pipeline: a job for this segment is already running")

// Runner executes pipeline stages for one job at a time.
type Runner struct {
	store  *staging.Store
	client registry.Client
	reg    config.RegistryConfig
	scrape config.ScrapeConfig
	log    *zap.Logger
}

// NewRunner wires a stage runner.
func NewRunner(store *staging.Store, client registry.Client, reg config.RegistryConfig, scrape config.ScrapeConfig, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{store: store, client: client, reg: reg, scrape: scrape, log: log}
}

// Start creates a new job for the filter, refusing when a job with the
// same filter hash is already running.
func (r *Runner) Start(ctx context.Context, filter model.SegmentFilter) (*model.Job, error) {
	filter = filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	existing, err := r.store.FindRunningJob(ctx, filter.Hash())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, eris.Wrapf(ErrDuplicateJob, "job %s", existing.ID)
	}

	job, err := r.store.CreateJob(ctx, filter)
	if err != nil {
		return nil, err
	}
	r.log.Info("created scrape job",
		zap.String("job_id", job.ID),
		zap.String("filter_hash", job.FilterHash),
	)
	return job, nil
}

// Pause requests a pause; the running stage stops at its next boundary.
func (r *Runner) Pause(ctx context.Context, jobID string) error {
	return r.store.SetStatus(ctx, jobID, model.JobStatusPaused)
}

// Stop marks the job as errored with an operator stop message.
func (r *Runner) Stop(ctx context.Context, jobID string) error {
	return r.store.FailJob(ctx, jobID, "stopped by operator")
}

// requireStage checks the job is at the expected stage before a stage
// runs, auto-advancing from the previous stage when it finished clean.
func (r *Runner) requireStage(ctx context.Context, jobID string, want model.Stage) (*model.Job, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Stage.CanAdvanceTo(want) && job.Status == model.JobStatusDone {
		if err := r.store.AdvanceStage(ctx, jobID, want); err != nil {
			return nil, err
		}
		job, err = r.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
	}
	if job.Stage != want {
		return nil, eris.Errorf("pipeline: job %s is at stage %s, expected %s",
			jobID, job.Stage, want)
	}
	return job, nil
}

// keepRunning reloads the job and reports whether the stage should
// continue. A pause or stop flips the persisted status; the stage sees
// it here and exits without touching the status further.
func (r *Runner) keepRunning(ctx context.Context, jobID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nil
	}
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == model.JobStatusRunning, nil
}

// chunk splits items into batches of size n.
func chunk[T any](items []T, n int) [][]T {
	if n <= 0 {
		n = len(items)
	}
	var out [][]T
	for len(items) > 0 {
		end := min(n, len(items))
		out = append(out, items[:end])
		items = items[end:]
	}
	return out
}
