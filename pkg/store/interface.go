package store

import (
	"errors"
	"time"

	"github.com/clipforge/clipforge/pkg/models"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrNoQueuedJobs    = errors.New("no queued jobs")
)

// Store defines the persistence capability the pipeline depends on.
// Both the SQLite and in-memory implementations satisfy it; the runner
// never assumes a specific product behind the interface.
type Store interface {
	// Project operations
	CreateProject(project *models.Project) error
	GetProject(id string) (*models.Project, error)

	// Job operations
	CreateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	GetJobs(status models.JobStatus) ([]*models.Job, error)
	ClaimNextJob() (*models.Job, error)
	UpdateJobStatus(id string, status models.JobStatus, progress int) error
	UpdateJobHeartbeat(id string, at time.Time) error
	MarkJobStarted(id string, at time.Time) error
	FinishJobSuccess(id string, finalCredits int) error
	FinishJobFailure(id string, errorCode, errorMessage string) error

	// Checkpoint operations
	SaveCheckpoint(jobID string, snapshot []byte) error
	ClearCheckpoint(jobID string) error

	// Append-only event log
	AppendJobEvent(event *models.JobEvent) error
	GetJobEvents(jobID string) ([]*models.JobEvent, error)

	// Observability sinks, flushed once per job
	AppendStepMetrics(metrics []*models.StepMetric) error
	GetStepMetrics(jobID string) ([]*models.StepMetric, error)
	GetAllStepMetrics() ([]*models.StepMetric, error)
	AppendCostEntries(entries []*models.CostEntry) error
	GetCostEntries(jobID string) ([]*models.CostEntry, error)

	// Artifact registry backing the steps' idempotency checks
	PutArtifact(jobID, kind, ref string) error
	GetArtifact(jobID, kind string) (string, error)

	// Aggregates for the metrics endpoint
	CountJobsByStatus() (map[models.JobStatus]int, error)

	// Lifecycle
	Close() error
	HealthCheck() error
}

// Config holds database configuration
type Config struct {
	Type string // "sqlite" or "memory"
	Path string // SQLite file path
}

// New creates a store based on configuration
func New(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = "clipforge.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, errors.New("unsupported store type: " + config.Type)
	}
}
