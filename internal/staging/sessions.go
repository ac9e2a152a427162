package staging

import (
	"context"
	"os"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

// Session is a job together with its staged row counts, as shown by the
// sessions listing.
type Session struct {
	Job   model.Job      `json:"job"`
	Stats model.JobStats `json:"stats"`
}

// ListSessions scans the staging directory and returns every job with
// its row counts, newest first. Unreadable session files are skipped.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "staging: read dir %s", s.dir)
	}

	var sessions []Session
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		jobID, ok := sessionIDFromFile(e.Name())
		if !ok {
			continue
		}
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			continue
		}
		stats, err := s.Stats(ctx, jobID)
		if err != nil {
			continue
		}
		sessions = append(sessions, Session{Job: *job, Stats: stats})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Job.CreatedAt.After(sessions[j].Job.CreatedAt)
	})
	return sessions, nil
}

// FindRunningJob returns the running job matching a filter hash, if any.
// Used to refuse starting a duplicate scrape for the same segment.
func (s *Store) FindRunningJob(ctx context.Context, filterHash string) (*model.Job, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.Job.FilterHash == filterHash && sess.Job.Status == model.JobStatusRunning {
			job := sess.Job
			return &job, nil
		}
	}
	return nil, nil
}
