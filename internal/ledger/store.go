// Package ledger records runs and batch jobs in SQLite so that operators can
// see what was submitted, when, and how it ended.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/vlm-rationales/internal/dispatch"
	"github.com/hochfrequenz/vlm-rationales/internal/domain"
)

// RunStatus is the lifecycle state of one (language, task) run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed" // every pending item resolved
	RunPartial   RunStatus = "partial"   // some items left unresolved
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped" // nothing pending
)

// Run is one attempt at a (language, task) pair
type Run struct {
	ID           string
	Language     string
	Task         int
	Mode         string
	Provider     string
	Model        string
	Status       RunStatus
	Pending      int
	Resolved     int
	Errors       int
	Abandoned    int
	ArtifactPath string
	Message      string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Job is a ledger row for one batch submission
type Job struct {
	JobID          string
	RunID          string
	Chunk          int
	Attempt        int
	Status         domain.JobStatus
	Requests       int
	Completed      int
	Failed         int
	InputArtifact  string
	OutputArtifact string
	ErrorArtifact  string
	Abandoned      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New opens the ledger at dbPath, creating it and its directory if needed.
// ":memory:" gives a private in-memory ledger.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a second pooled connection to :memory: would see an empty database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a running row and returns it with a fresh ID
func (s *Store) StartRun(spec domain.TaskSpec, mode, provider, model string, pending int) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Language:  spec.Language.Name,
		Task:      int(spec.Task),
		Mode:      mode,
		Provider:  provider,
		Model:     model,
		Status:    RunRunning,
		Pending:   pending,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, language, task, mode, provider, model, status, pending, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Language, run.Task, run.Mode, run.Provider, run.Model, string(run.Status), run.Pending, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stores the outcome of a run
func (s *Store) FinishRun(id string, status RunStatus, sum dispatch.Summary, artifactPath, message string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, resolved = ?, errors = ?, abandoned = ?, artifact_path = ?, message = ?, finished_at = ?
		WHERE id = ?
	`, string(status), sum.Resolved, sum.Errors, sum.Abandoned, artifactPath, message, time.Now().UTC(), id)
	return err
}

// RecordJob upserts the latest known state of a batch submission
func (s *Store) RecordJob(runID string, ev dispatch.JobEvent) error {
	now := time.Now().UTC()
	created := ev.Job.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.Exec(`
		INSERT INTO batch_jobs (job_id, run_id, chunk, attempt, status, requests, completed, failed,
			input_artifact, output_artifact, error_artifact, abandoned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			completed = excluded.completed,
			failed = excluded.failed,
			output_artifact = excluded.output_artifact,
			error_artifact = excluded.error_artifact,
			abandoned = excluded.abandoned,
			updated_at = excluded.updated_at
	`,
		ev.Job.JobID,
		runID,
		ev.Chunk,
		ev.Attempt,
		string(ev.Job.Status),
		ev.Requests,
		ev.Job.Counts.Completed,
		ev.Job.Counts.Failed,
		ev.Job.InputArtifactID,
		ev.Job.OutputArtifactID,
		ev.Job.ErrorArtifactID,
		ev.Abandoned,
		created,
		now,
	)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Language string
	Task     int
	Status   RunStatus
	Limit    int
}

// ListRuns returns runs matching opts, newest first
func (s *Store) ListRuns(opts ListOptions) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []interface{}

	if opts.Language != "" {
		query += " AND language = ?"
		args = append(args, opts.Language)
	}
	if opts.Task != 0 {
		query += " AND task = ?"
		args = append(args, opts.Task)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY started_at DESC, id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListJobs returns the batch jobs of a run, or of every run if runID is empty
func (s *Store) ListJobs(runID string) ([]*Job, error) {
	query := `SELECT job_id, run_id, chunk, attempt, status, requests, completed, failed,
		input_artifact, output_artifact, error_artifact, abandoned, created_at, updated_at
		FROM batch_jobs`
	var args []interface{}
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY created_at, chunk, attempt"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		var status string
		var in, out, errArt sql.NullString
		if err := rows.Scan(&j.JobID, &j.RunID, &j.Chunk, &j.Attempt, &status, &j.Requests, &j.Completed, &j.Failed,
			&in, &out, &errArt, &j.Abandoned, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		j.Status = domain.JobStatus(status)
		j.InputArtifact = in.String
		j.OutputArtifact = out.String
		j.ErrorArtifact = errArt.String
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// OpenJobs returns submissions whose last known status was not terminal
func (s *Store) OpenJobs() ([]*Job, error) {
	all, err := s.ListJobs("")
	if err != nil {
		return nil, err
	}
	var open []*Job
	for _, j := range all {
		if !j.Status.IsTerminal() {
			open = append(open, j)
		}
	}
	return open, nil
}

const runColumns = `id, language, task, mode, provider, model, status, pending, resolved, errors, abandoned,
	artifact_path, message, started_at, finished_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var status string
	var artifact, message sql.NullString
	var finished sql.NullTime

	err := row.Scan(&run.ID, &run.Language, &run.Task, &run.Mode, &run.Provider, &run.Model, &status,
		&run.Pending, &run.Resolved, &run.Errors, &run.Abandoned, &artifact, &message, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.ArtifactPath = artifact.String
	run.Message = message.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
