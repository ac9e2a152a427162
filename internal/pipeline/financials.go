package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/internal/staging"
)

// Financials runs stage 3: it fetches up to the configured number of
// fiscal years for every company with a resolved id whose financials
// are still pending. Rows append idempotently, companies without
// published accounts are marked so the stage does not revisit them,
// and per-company failures never abort the batch.
func (r *Runner) Financials(ctx context.Context, jobID string) ([]model.ItemResult, error) {
	if _, err := r.requireStage(ctx, jobID, model.StageFinancials); err != nil {
		return nil, err
	}
	if err := r.store.SetStatus(ctx, jobID, model.JobStatusRunning); err != nil {
		return nil, err
	}

	pending, err := r.store.CompaniesForFinancials(ctx, jobID, 0)
	if err != nil {
		return nil, err
	}

	batchSize := r.reg.FinancialBatch
	if batchSize <= 0 {
		batchSize = 50
	}
	workers := r.reg.FinancialWorkers
	if workers <= 0 {
		workers = 3
	}
	maxYears := r.reg.MaxYears
	if maxYears <= 0 {
		maxYears = 5
	}

	var (
		mu        sync.Mutex
		results   []model.ItemResult
		processed int
	)

	for _, batch := range chunk(pending, batchSize) {
		ok, err := r.keepRunning(ctx, jobID)
		if err != nil {
			return results, err
		}
		if !ok {
			r.log.Info("financial fetch interrupted", zap.String("job_id", jobID))
			return results, nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)

		for _, stub := range batch {
			g.Go(func() error {
				res := r.fetchOne(gctx, jobID, stub, maxYears)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				if !res.Ok {
					if err := r.store.IncrementErrorCount(gctx, jobID, res.Reason); err != nil {
						r.log.Warn("record financial error", zap.Error(err))
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}

		processed += len(batch)
		if err := r.store.SetProcessedCount(ctx, jobID, processed); err != nil {
			return results, err
		}
	}

	stats, err := r.store.Stats(ctx, jobID)
	if err != nil {
		return results, err
	}
	if err := r.store.SetTotals(ctx, jobID, stats); err != nil {
		return results, err
	}
	if err := r.store.SetStatus(ctx, jobID, model.JobStatusDone); err != nil {
		return results, err
	}
	r.log.Info("financial fetch complete",
		zap.String("job_id", jobID),
		zap.Int("financial_rows", stats.Financials),
		zap.Int("failed", len(model.FailedItems(results))),
	)
	return results, nil
}

func (r *Runner) fetchOne(ctx context.Context, jobID string, stub model.CompanyStub, maxYears int) model.ItemResult {
	years, err := r.client.Financials(ctx, stub.CompanyID, maxYears)
	if err != nil {
		if serr := r.store.SetFinStatus(ctx, jobID, stub.OrgNr, staging.FinStatusError, err.Error()); serr != nil {
			r.log.Warn("mark financial status", zap.Error(serr))
		}
		return model.ErrResult(stub.OrgNr, err.Error())
	}

	if len(years) == 0 {
		if serr := r.store.SetFinStatus(ctx, jobID, stub.OrgNr, staging.FinStatusNoFinancials, ""); serr != nil {
			return model.ErrResult(stub.OrgNr, serr.Error())
		}
		return model.OkResult(stub.OrgNr)
	}

	// The fetch returns rows keyed by company id; pin them to our orgnr.
	for i := range years {
		years[i].OrgNr = stub.OrgNr
	}

	n, err := r.store.AppendFinancials(ctx, jobID, years)
	if err != nil {
		if serr := r.store.SetFinStatus(ctx, jobID, stub.OrgNr, staging.FinStatusError, err.Error()); serr != nil {
			r.log.Warn("mark financial status", zap.Error(serr))
		}
		return model.ErrResult(stub.OrgNr, fmt.Sprintf("persist financials: %v", err))
	}
	if err := r.store.SetFinStatus(ctx, jobID, stub.OrgNr, staging.FinStatusFetched, ""); err != nil {
		return model.ErrResult(stub.OrgNr, err.Error())
	}

	r.log.Debug("fetched financials",
		zap.String("orgnr", stub.OrgNr),
		zap.Int("years", n),
	)
	return model.OkResult(stub.OrgNr)
}
