package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/internal/resilience"
)

// Segment runs stage 1: it walks the segmentation listing page by page
// and upserts company stubs keyed by orgnr. The loop resumes from the
// job's last completed page, stops on a run of empty pages or the page
// cap, and survives individual page failures. Only a run of consecutive
// page failures is fatal.
func (r *Runner) Segment(ctx context.Context, jobID string) error {
	job, err := r.requireStage(ctx, jobID, model.StageSegmentation)
	if err != nil {
		return err
	}
	if err := r.store.SetStatus(ctx, jobID, model.JobStatusRunning); err != nil {
		return err
	}

	maxPages := r.reg.MaxPages
	maxEmpty := r.reg.MaxEmptyPages
	maxFails := r.scrape.MaxConsecutiveFails
	if maxPages <= 0 {
		maxPages = 3000
	}
	if maxEmpty <= 0 {
		maxEmpty = 3
	}
	if maxFails <= 0 {
		maxFails = 3
	}

	// Transient page failures retry within their own budget before they
	// count against the consecutive-failure streak.
	pageRetry := resilience.RetryConfig{
		MaxAttempts: r.scrape.PageRetries,
		OnRetry:     resilience.RetryLogger("registry", "segmentation page"),
	}

	emptyStreak := 0
	failStreak := 0

	for page := job.LastPage + 1; page <= maxPages; page++ {
		ok, err := r.keepRunning(ctx, jobID)
		if err != nil {
			return err
		}
		if !ok {
			r.log.Info("segmentation interrupted", zap.String("job_id", jobID), zap.Int("page", page))
			return nil
		}

		stubs, err := resilience.DoVal(ctx, pageRetry, func(ctx context.Context) ([]model.CompanyStub, error) {
			return r.client.SegmentationPage(ctx, job.Filters, page)
		})
		if err != nil {
			failStreak++
			r.log.Warn("segmentation page failed",
				zap.String("job_id", jobID),
				zap.Int("page", page),
				zap.Int("fail_streak", failStreak),
				zap.Error(err),
			)
			if ierr := r.store.IncrementErrorCount(ctx, jobID, err.Error()); ierr != nil {
				return ierr
			}
			if failStreak >= maxFails {
				return r.failAndWrapErr(ctx, jobID, err, "too many consecutive page failures")
			}
			continue
		}
		failStreak = 0

		if len(stubs) == 0 {
			emptyStreak++
			if emptyStreak >= maxEmpty {
				r.log.Info("segmentation exhausted",
					zap.String("job_id", jobID),
					zap.Int("last_page", page),
				)
				break
			}
			continue
		}
		emptyStreak = 0

		if _, err := r.store.UpsertCompanies(ctx, jobID, stubs); err != nil {
			return r.failAndWrapErr(ctx, jobID, err, "persist segmentation page")
		}

		stats, err := r.store.Stats(ctx, jobID)
		if err != nil {
			return err
		}
		if err := r.store.UpdateSegmentProgress(ctx, jobID, page, stats.Companies); err != nil {
			return err
		}

		r.log.Debug("segmentation page done",
			zap.String("job_id", jobID),
			zap.Int("page", page),
			zap.Int("companies", stats.Companies),
		)
	}

	stats, err := r.store.Stats(ctx, jobID)
	if err != nil {
		return err
	}
	if err := r.store.SetTotals(ctx, jobID, stats); err != nil {
		return err
	}
	if err := r.store.SetStatus(ctx, jobID, model.JobStatusDone); err != nil {
		return err
	}
	r.log.Info("segmentation complete",
		zap.String("job_id", jobID),
		zap.Int("companies", stats.Companies),
	)
	return nil
}

func (r *Runner) failAndWrapErr(ctx context.Context, jobID string, cause error, msg string) error {
	if err := r.store.FailJob(ctx, jobID, msg+": "+cause.Error()); err != nil {
		return err
	}
	return eris.Wrap(cause, "pipeline: "+msg)
}
