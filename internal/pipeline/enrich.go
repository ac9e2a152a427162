package pipeline

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/internal/registry"
)

// Enrich runs stage 2: it resolves the registry-internal company id for
// every staged company that lacks one, searching by orgnr first and by
// name as a fallback. Companies are processed in batches with a bounded
// worker group. A single company failing never aborts the batch; the
// failure lands in its ItemResult and the job's error counter.
func (r *Runner) Enrich(ctx context.Context, jobID string) ([]model.ItemResult, error) {
	if _, err := r.requireStage(ctx, jobID, model.StageEnrichment); err != nil {
		return nil, err
	}
	if err := r.store.SetStatus(ctx, jobID, model.JobStatusRunning); err != nil {
		return nil, err
	}

	pending, err := r.store.CompaniesMissingID(ctx, jobID, 0)
	if err != nil {
		return nil, err
	}

	batchSize := r.reg.EnrichBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	workers := r.reg.EnrichWorkers
	if workers <= 0 {
		workers = 5
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
			r.log.Info("enrichment interrupted", zap.String("job_id", jobID))
			return results, nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)

		for _, stub := range batch {
			g.Go(func() error {
				res := r.enrichOne(gctx, jobID, stub)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				if !res.Ok {
					if err := r.store.IncrementErrorCount(gctx, jobID, res.Reason); err != nil {
						r.log.Warn("record enrich error", zap.Error(err))
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
	r.log.Info("enrichment complete",
		zap.String("job_id", jobID),
		zap.Int("resolved", stats.CompanyIDs),
		zap.Int("failed", len(model.FailedItems(results))),
	)
	return results, nil
}

// enrichOne resolves one company id. Resolution order: search by orgnr,
// search by name with an exact normalized match, then the segmentation
// listing's own id hint if the search came up empty.
func (r *Runner) enrichOne(ctx context.Context, jobID string, stub model.CompanyStub) model.ItemResult {
	companyID, err := r.resolveCompanyID(ctx, stub)
	if err != nil {
		return model.ErrResult(stub.OrgNr, err.Error())
	}
	if companyID == "" {
		return model.ErrResult(stub.OrgNr, "no company id found")
	}
	if err := r.store.SetCompanyID(ctx, jobID, stub.OrgNr, companyID); err != nil {
		return model.ErrResult(stub.OrgNr, err.Error())
	}
	return model.OkResult(stub.OrgNr)
}

func (r *Runner) resolveCompanyID(ctx context.Context, stub model.CompanyStub) (string, error) {
	hits, err := r.client.Search(ctx, stub.OrgNr)
	if err != nil {
		return "", err
	}
	if id := matchByOrgNr(hits, stub.OrgNr); id != "" {
		return id, nil
	}

	if stub.Name != "" {
		hits, err = r.client.Search(ctx, stub.Name)
		if err != nil {
			return "", err
		}
		if id := matchByOrgNr(hits, stub.OrgNr); id != "" {
			return id, nil
		}
		if id := matchByName(hits, stub.Name); id != "" {
			return id, nil
		}
	}

	return stub.CompanyIDHint, nil
}

func matchByOrgNr(hits []registry.SearchHit, orgnr string) string {
	for _, h := range hits {
		if h.OrgNr == orgnr {
			return h.CompanyID
		}
	}
	return ""
}

func matchByName(hits []registry.SearchHit, name string) string {
	want := normalizeName(name)
	for _, h := range hits {
		if normalizeName(h.Name) == want {
			return h.CompanyID
		}
	}
	return ""
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
