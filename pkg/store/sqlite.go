package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clipforge/clipforge/pkg/models"
)

// staleClaimAfter is how long a claimed job may go without a heartbeat
// before another worker may take it over. 90s = 3 missed heartbeats at
// the 30s heartbeat interval.
const staleClaimAfter = 90 * time.Second

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL for concurrent readers, busy timeout to ride out writer contention,
	// immediate txlock so write transactions fail fast instead of deadlocking.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY storms
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		source_text TEXT,
		target_minutes INTEGER NOT NULL DEFAULT 1,
		voice_id TEXT,
		visual_style TEXT,
		language TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		cost_credits_reserved INTEGER NOT NULL DEFAULT 0,
		cost_credits_final INTEGER,
		checkpoint_state BLOB,
		error_code TEXT,
		error_message TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		heartbeat_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS job_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		message TEXT NOT NULL,
		level TEXT NOT NULL DEFAULT 'info',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS step_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		error_code TEXT,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS cost_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		service TEXT NOT NULL,
		operation TEXT NOT NULL,
		cost_usd REAL NOT NULL,
		meta TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		job_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		ref TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (job_id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id);
	CREATE INDEX IF NOT EXISTS idx_step_metrics_job ON step_metrics(job_id);
	CREATE INDEX IF NOT EXISTS idx_step_metrics_step ON step_metrics(step);
	CREATE INDEX IF NOT EXISTS idx_cost_entries_job ON cost_entries(job_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateProject inserts a new project
func (s *SQLiteStore) CreateProject(project *models.Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, user_id, topic, source_text, target_minutes, voice_id, visual_style, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, project.ID, project.UserID, project.Topic, project.SourceText, project.TargetMinutes,
		project.VoiceID, project.VisualStyle, project.Language, project.CreatedAt)
	return err
}

// GetProject retrieves a project by ID
func (s *SQLiteStore) GetProject(id string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRow(`
		SELECT id, user_id, topic, source_text, target_minutes, voice_id, visual_style, language, created_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.UserID, &p.Topic, &p.SourceText, &p.TargetMinutes,
		&p.VoiceID, &p.VisualStyle, &p.Language, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateJob inserts a new job
func (s *SQLiteStore) CreateJob(job *models.Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, project_id, user_id, status, progress, cost_credits_reserved,
		                  cost_credits_final, checkpoint_state, error_code, error_message,
		                  created_at, started_at, finished_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.ProjectID, job.UserID, job.Status, job.Progress, job.CostCreditsReserved,
		nullableInt(job.CostCreditsFinal), job.CheckpointState, job.ErrorCode, job.ErrorMessage,
		job.CreatedAt, job.StartedAt, job.FinishedAt, job.HeartbeatAt)
	return err
}

const jobColumns = `id, project_id, user_id, status, progress, cost_credits_reserved,
	cost_credits_final, checkpoint_state, error_code, error_message,
	created_at, started_at, finished_at, heartbeat_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var job models.Job
	var finalCredits sql.NullInt64
	var errorCode, errorMessage sql.NullString
	err := row.Scan(&job.ID, &job.ProjectID, &job.UserID, &job.Status, &job.Progress,
		&job.CostCreditsReserved, &finalCredits, &job.CheckpointState,
		&errorCode, &errorMessage, &job.CreatedAt, &job.StartedAt, &job.FinishedAt, &job.HeartbeatAt)
	if err != nil {
		return nil, err
	}
	if finalCredits.Valid {
		job.CostCreditsFinal = int(finalCredits.Int64)
	}
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMessage.String
	return &job, nil
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(id string) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJobs returns jobs filtered by status, or all jobs when status is empty
func (s *SQLiteStore) GetJobs(status models.JobStatus) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at`
	args := []any{}
	if status != "" {
		query = `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY created_at`
		args = append(args, status)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNextJob hands out the oldest runnable job and stamps its heartbeat.
// The stamp acts as a lease: a job whose heartbeat is fresh belongs to a
// living worker and is skipped, whether it is QUEUED-but-just-claimed or
// mid-flight. Stale mid-flight jobs are handed out whether or not they have
// a checkpoint; the runner either resumes them or fails them terminally, so
// no job lingers invisible forever.
func (s *SQLiteStore) ClaimNextJob() (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	staleBefore := now.Add(-staleClaimAfter)

	job, err := scanJob(s.db.QueryRow(`
		SELECT `+jobColumns+` FROM jobs
		WHERE (heartbeat_at IS NULL OR heartbeat_at < ?)
		  AND status NOT IN (?, ?)
		ORDER BY created_at
		LIMIT 1
	`, staleBefore, models.JobStatusReady, models.JobStatusFailed))
	if err == sql.ErrNoRows {
		return nil, ErrNoQueuedJobs
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`UPDATE jobs SET heartbeat_at = ? WHERE id = ?`, now, job.ID); err != nil {
		return nil, err
	}
	job.HeartbeatAt = &now
	return job, nil
}

// UpdateJobStatus moves a job to a new status/progress pair, enforcing the
// forward-only transition and monotone progress invariants.
func (s *SQLiteStore) UpdateJobStatus(id string, status models.JobStatus, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getJobLocked(id)
	if err != nil {
		return err
	}
	if err := models.ValidateTransition(current.Status, status); err != nil {
		return err
	}
	if err := models.ValidateProgress(current.Progress, progress); err != nil {
		return err
	}

	_, err = s.db.Exec(`UPDATE jobs SET status = ?, progress = ? WHERE id = ?`, status, progress, id)
	return err
}

func (s *SQLiteStore) getJobLocked(id string) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// UpdateJobHeartbeat stamps job liveness for the lease tracker
func (s *SQLiteStore) UpdateJobHeartbeat(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE jobs SET heartbeat_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkJobStarted records when a runner first picked the job up
func (s *SQLiteStore) MarkJobStarted(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE jobs SET started_at = COALESCE(started_at, ?) WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FinishJobSuccess moves the job to READY, records final credits and
// clears the checkpoint in one write.
func (s *SQLiteStore) FinishJobSuccess(id string, finalCredits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getJobLocked(id)
	if err != nil {
		return err
	}
	if err := models.ValidateTransition(current.Status, models.JobStatusReady); err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE jobs SET status = ?, progress = 100, cost_credits_final = ?,
		       checkpoint_state = NULL, finished_at = ?
		WHERE id = ?
	`, models.JobStatusReady, finalCredits, time.Now().UTC(), id)
	return err
}

// FinishJobFailure moves the job to FAILED with the failing step's error.
// The checkpoint is preserved so the job stays eligible for a manual retry.
func (s *SQLiteStore) FinishJobFailure(id string, errorCode, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getJobLocked(id)
	if err != nil {
		return err
	}
	if err := models.ValidateTransition(current.Status, models.JobStatusFailed); err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE jobs SET status = ?, error_code = ?, error_message = ?, finished_at = ?
		WHERE id = ?
	`, models.JobStatusFailed, errorCode, errorMessage, time.Now().UTC(), id)
	return err
}

// SaveCheckpoint persists the resume snapshot for a job
func (s *SQLiteStore) SaveCheckpoint(jobID string, snapshot []byte) error {
	res, err := s.db.Exec(`UPDATE jobs SET checkpoint_state = ? WHERE id = ?`, snapshot, jobID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ClearCheckpoint removes the resume snapshot
func (s *SQLiteStore) ClearCheckpoint(jobID string) error {
	res, err := s.db.Exec(`UPDATE jobs SET checkpoint_state = NULL WHERE id = ?`, jobID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AppendJobEvent appends one row to the job's event log
func (s *SQLiteStore) AppendJobEvent(event *models.JobEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO job_events (job_id, stage, message, level, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.JobID, event.Stage, event.Message, event.Level, event.CreatedAt)
	return err
}

// GetJobEvents returns a job's event log in append order
func (s *SQLiteStore) GetJobEvents(jobID string) ([]*models.JobEvent, error) {
	rows, err := s.db.Query(`
		SELECT job_id, stage, message, level, created_at
		FROM job_events WHERE job_id = ? ORDER BY id
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.JobEvent
	for rows.Next() {
		var ev models.JobEvent
		if err := rows.Scan(&ev.JobID, &ev.Stage, &ev.Message, &ev.Level, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// AppendStepMetrics durably appends a job's step metrics in one transaction
func (s *SQLiteStore) AppendStepMetrics(metrics []*models.StepMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, m := range metrics {
		if _, err := tx.Exec(`
			INSERT INTO step_metrics (job_id, step, status, started_at, ended_at, duration_ms, error_code, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, m.JobID, m.Step, m.Status, m.StartedAt, m.EndedAt, m.DurationMs, m.ErrorCode, m.ErrorMessage); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

const stepMetricColumns = `job_id, step, status, started_at, ended_at, duration_ms, error_code, error_message`

func (s *SQLiteStore) queryStepMetrics(query string, args ...any) ([]*models.StepMetric, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []*models.StepMetric
	for rows.Next() {
		var m models.StepMetric
		var errorCode, errorMessage sql.NullString
		if err := rows.Scan(&m.JobID, &m.Step, &m.Status, &m.StartedAt, &m.EndedAt,
			&m.DurationMs, &errorCode, &errorMessage); err != nil {
			return nil, err
		}
		m.ErrorCode = errorCode.String
		m.ErrorMessage = errorMessage.String
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// GetStepMetrics returns all recorded step attempts for one job
func (s *SQLiteStore) GetStepMetrics(jobID string) ([]*models.StepMetric, error) {
	return s.queryStepMetrics(`SELECT `+stepMetricColumns+` FROM step_metrics WHERE job_id = ? ORDER BY id`, jobID)
}

// GetAllStepMetrics returns the full step-metric history across jobs
func (s *SQLiteStore) GetAllStepMetrics() ([]*models.StepMetric, error) {
	return s.queryStepMetrics(`SELECT ` + stepMetricColumns + ` FROM step_metrics ORDER BY id`)
}

// AppendCostEntries durably appends a job's cost entries in one transaction
func (s *SQLiteStore) AppendCostEntries(entries []*models.CostEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, e := range entries {
		meta, err := json.Marshal(e.Meta)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to marshal cost meta: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO cost_entries (job_id, service, operation, cost_usd, meta, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.JobID, e.Service, e.Operation, e.CostUsd, string(meta), e.CreatedAt); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetCostEntries returns a job's cost breakdown in append order
func (s *SQLiteStore) GetCostEntries(jobID string) ([]*models.CostEntry, error) {
	rows, err := s.db.Query(`
		SELECT job_id, service, operation, cost_usd, meta, created_at
		FROM cost_entries WHERE job_id = ? ORDER BY id
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.CostEntry
	for rows.Next() {
		var e models.CostEntry
		var metaJSON string
		if err := rows.Scan(&e.JobID, &e.Service, &e.Operation, &e.CostUsd, &metaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if metaJSON != "" && metaJSON != "null" {
			if err := json.Unmarshal([]byte(metaJSON), &e.Meta); err != nil {
				return nil, fmt.Errorf("failed to unmarshal cost meta: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PutArtifact records (or overwrites) an artifact reference for idempotency checks
func (s *SQLiteStore) PutArtifact(jobID, kind, ref string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO artifacts (job_id, kind, ref, created_at)
		VALUES (?, ?, ?, ?)
	`, jobID, kind, ref, time.Now().UTC())
	return err
}

// GetArtifact returns a previously recorded artifact reference, or "" when absent
func (s *SQLiteStore) GetArtifact(jobID, kind string) (string, error) {
	var ref string
	err := s.db.QueryRow(`SELECT ref FROM artifacts WHERE job_id = ? AND kind = ?`, jobID, kind).Scan(&ref)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

// CountJobsByStatus returns the number of jobs per status
func (s *SQLiteStore) CountJobsByStatus() (map[models.JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
