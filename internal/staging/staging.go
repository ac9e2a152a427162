// Package staging persists scrape jobs and their intermediate rows in
// per-job SQLite databases before validation and migration.
package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

// FinStatus values tracked per staged company for stage 3 batching.
const (
	FinStatusPending      = "pending"
	FinStatusFetched      = "fetched"
	FinStatusNoFinancials = "no_financials"
	FinStatusError        = "error"
)

// Store manages one SQLite database per job under a staging directory.
type Store struct {
	dir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewStore creates the staging directory if needed and returns a Store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "staging: create dir %s", dir)
	}
	return &Store{dir: dir, dbs: make(map[string]*sql.DB)}, nil
}

// Close closes all open job databases.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = eris.Wrapf(err, "staging: close %s", id)
		}
		delete(s.dbs, id)
	}
	return firstErr
}

const stagingMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	stage              TEXT NOT NULL,
	status             TEXT NOT NULL,
	last_page          INTEGER NOT NULL DEFAULT 0,
	processed_count    INTEGER NOT NULL DEFAULT 0,
	total_companies    INTEGER NOT NULL DEFAULT 0,
	total_company_ids  INTEGER NOT NULL DEFAULT 0,
	total_financials   INTEGER NOT NULL DEFAULT 0,
	error_count        INTEGER NOT NULL DEFAULT 0,
	last_error         TEXT NOT NULL DEFAULT '',
	filter_hash        TEXT NOT NULL,
	params             TEXT NOT NULL,
	validation_summary TEXT,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS companies (
	orgnr           TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	company_id      TEXT NOT NULL DEFAULT '',
	company_id_hint TEXT NOT NULL DEFAULT '',
	homepage        TEXT NOT NULL DEFAULT '',
	segments        TEXT NOT NULL DEFAULT '[]',
	revenue_sek     REAL,
	profit_sek      REAL,
	foundation_year INTEGER,
	fin_status      TEXT NOT NULL DEFAULT 'pending',
	fin_error       TEXT NOT NULL DEFAULT '',
	scraped_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS financials (
	orgnr      TEXT NOT NULL,
	company_id TEXT NOT NULL,
	year       INTEGER NOT NULL,
	period     TEXT NOT NULL,
	currency   TEXT NOT NULL DEFAULT 'SEK',
	sdi        REAL,
	dr         REAL,
	ors        REAL,
	ek         REAL,
	sv         REAL,
	ant        INTEGER,
	raw        TEXT NOT NULL DEFAULT '{}',
	scraped_at DATETIME NOT NULL,
	PRIMARY KEY (orgnr, year, period)
);

CREATE INDEX IF NOT EXISTS idx_companies_company_id ON companies(company_id);
CREATE INDEX IF NOT EXISTS idx_companies_fin_status ON companies(fin_status);
CREATE INDEX IF NOT EXISTS idx_financials_orgnr ON financials(orgnr);
`

func (s *Store) dbPath(jobID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("staging_%s.db", jobID))
}

// open returns the job's database, opening and migrating it on first use.
func (s *Store) open(jobID string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[jobID]; ok {
		return db, nil
	}

	db, err := sql.Open("sqlite", s.dbPath(jobID))
	if err != nil {
		return nil, eris.Wrapf(err, "staging: open job db %s", jobID)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "staging: exec %s", pragma)
		}
	}
	if _, err := db.Exec(stagingMigration); err != nil {
		db.Close()
		return nil, eris.Wrapf(err, "staging: migrate job db %s", jobID)
	}

	s.dbs[jobID] = db
	return db, nil
}

// CreateJob creates a new job row in its own staging database. The job
// starts in stage 1 with status pending.
func (s *Store) CreateJob(ctx context.Context, filter model.SegmentFilter) (*model.Job, error) {
	filter = filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:         uuid.New().String(),
		Stage:      model.StageSegmentation,
		Status:     model.JobStatusPending,
		FilterHash: filter.Hash(),
		Filters:    filter,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	db, err := s.open(job.ID)
	if err != nil {
		return nil, err
	}

	params, err := json.Marshal(filter)
	if err != nil {
		return nil, eris.Wrap(err, "staging: marshal filter")
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO jobs (id, stage, status, filter_hash, params, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Stage), string(job.Status), job.FilterHash, string(params),
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "staging: insert job")
	}
	return job, nil
}

// GetJob returns the job record for a session.
func (s *Store) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	if _, err := os.Stat(s.dbPath(jobID)); err != nil {
		return nil, eris.Errorf("staging: job not found: %s", jobID)
	}
	db, err := s.open(jobID)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx,
		`SELECT id, stage, status, last_page, processed_count, total_companies,
		        total_company_ids, total_financials, error_count, last_error,
		        filter_hash, params, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// SetStatus transitions the job's status, rejecting illegal transitions.
func (s *Store) SetStatus(ctx context.Context, jobID string, target model.JobStatus) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.CanTransition(target) {
		return eris.Errorf("staging: illegal status transition %s -> %s for job %s",
			job.Status, target, jobID)
	}
	db, err := s.open(jobID)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(target), time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "staging: update status for job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

// AdvanceStage moves the job to the next pipeline stage and resets the
// status to pending for the new stage. Skipping stages is rejected.
func (s *Store) AdvanceStage(ctx context.Context, jobID string, target model.Stage) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Stage.CanAdvanceTo(target) {
		return eris.Errorf("staging: illegal stage transition %s -> %s for job %s",
			job.Stage, target, jobID)
	}
	if job.Status != model.JobStatusDone {
		return eris.Errorf("staging: stage %s is not done for job %s", job.Stage, jobID)
	}
	db, err := s.open(jobID)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET stage = ?, status = ?, processed_count = 0, updated_at = ? WHERE id = ?`,
		string(target), string(model.JobStatusPending), time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "staging: advance stage for job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

// FailJob marks the job as errored with the fatal message.
func (s *Store) FailJob(ctx context.Context, jobID, msg string) error {
	db, err := s.open(jobID)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, error_count = error_count + 1,
		        updated_at = ? WHERE id = ?`,
		string(model.JobStatusError), msg, time.Now().UTC(), jobID)
	return eris.Wrapf(err, "staging: fail job %s", jobID)
}

// UpdateSegmentProgress records the last fetched page and the running
// company total after each stage-1 page, so a crashed run can resume.
func (s *Store) UpdateSegmentProgress(ctx context.Context, jobID string, lastPage, totalCompanies int) error {
	db, err := s.open(jobID)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE jobs SET last_page = ?, processed_count = ?, total_companies = ?,
		        updated_at = ? WHERE id = ?`,
		lastPage, totalCompanies, totalCompanies, time.Now().UTC(), jobID)
	return eris.Wrapf(err, "staging: update segment progress for job %s", jobID)
}

// SetProcessedCount updates the current stage's processed counter.
func (s *Store) SetProcessedCount(ctx context.Context, jobID string, n int) error {
	db, err := s.open(jobID)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE jobs SET processed_count = ?, updated_at = ? WHERE id = ?`,
		n, time.Now().UTC(), jobID)
	return eris.Wrapf(err, "staging: set processed count for job %s", jobID)
}

// SetTotals writes the cumulative per-stage counters onto the job row.
func (s *Store) SetTotals(ctx context.Context, jobID string, stats model.JobStats) error {
	db, err := s.open(jobID)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE jobs SET total_companies = ?, total_company_ids = ?, total_financials = ?,
		        updated_at = ? WHERE id = ?`,
		stats.Companies, stats.CompanyIDs, stats.Financials, time.Now().UTC(), jobID)
	return eris.Wrapf(err, "staging: set totals for job %s", jobID)
}

// IncrementErrorCount bumps the error counter and records the message
// without failing the job.
func (s *Store) IncrementErrorCount(ctx context.Context, jobID, msg string) error {
	db, err := s.open(jobID)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE jobs SET error_count = error_count + 1, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		msg, time.Now().UTC(), jobID)
	return eris.Wrapf(err, "staging: increment error count for job %s", jobID)
}

// SaveValidationSummary persists the latest validation report on the job.
func (s *Store) SaveValidationSummary(ctx context.Context, jobID string, summary *model.ValidationSummary) error {
	db, err := s.open(jobID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "staging: marshal validation summary")
	}
	_, err = db.ExecContext(ctx,
		`UPDATE jobs SET validation_summary = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), jobID)
	return eris.Wrapf(err, "staging: save validation summary for job %s", jobID)
}

// ValidationSummary returns the persisted summary, or nil if none exists.
func (s *Store) ValidationSummary(ctx context.Context, jobID string) (*model.ValidationSummary, error) {
	db, err := s.open(jobID)
	if err != nil {
		return nil, err
	}
	var raw sql.NullString
	err = db.QueryRowContext(ctx,
		`SELECT validation_summary FROM jobs WHERE id = ?`, jobID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("staging: job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "staging: read validation summary for job %s", jobID)
	}
	if !raw.Valid {
		return nil, nil
	}
	var summary model.ValidationSummary
	if err := json.Unmarshal([]byte(raw.String), &summary); err != nil {
		return nil, eris.Wrap(err, "staging: unmarshal validation summary")
	}
	return &summary, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var stage, status, params string

	err := row.Scan(&j.ID, &stage, &status, &j.LastPage, &j.ProcessedCount,
		&j.TotalCompanies, &j.TotalCompanyIDs, &j.TotalFinancials,
		&j.ErrorCount, &j.LastError, &j.FilterHash, &params,
		&j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("staging: job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "staging: scan job")
	}

	j.Stage, err = model.ParseStage(stage)
	if err != nil {
		return nil, err
	}
	j.Status, err = model.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &j.Filters); err != nil {
		return nil, eris.Wrap(err, "staging: unmarshal filter params")
	}
	return &j, nil
}

// sessionIDFromFile extracts the job id from a staging db filename.
func sessionIDFromFile(name string) (string, bool) {
	if !strings.HasPrefix(name, "staging_") || !strings.HasSuffix(name, ".db") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, "staging_"), ".db"), true
}
