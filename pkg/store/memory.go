package store

import (
	"sort"
	"sync"
	"time"

	"github.com/clipforge/clipforge/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and local experiments.
// It enforces the same transition and progress invariants as the SQLite store.
type MemoryStore struct {
	mu          sync.Mutex
	projects    map[string]*models.Project
	jobs        map[string]*models.Job
	events      []*models.JobEvent
	stepMetrics []*models.StepMetric
	costEntries []*models.CostEntry
	artifacts   map[string]map[string]string // jobID -> kind -> ref
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]*models.Project),
		jobs:      make(map[string]*models.Job),
		artifacts: make(map[string]map[string]string),
	}
}

func (s *MemoryStore) CreateProject(project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *project
	s.projects[project.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProject(id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getJobLocked(id)
}

func (s *MemoryStore) getJobLocked(id string) (*models.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) GetJobs(status models.JobStatus) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*models.Job
	for _, j := range s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		cp := *j
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	return jobs, nil
}

func (s *MemoryStore) ClaimNextJob() (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	staleBefore := now.Add(-staleClaimAfter)

	var candidates []*models.Job
	for _, j := range s.jobs {
		// a fresh heartbeat means a living worker owns the job
		if j.HeartbeatAt != nil && !j.HeartbeatAt.Before(staleBefore) {
			continue
		}
		// stale mid-flight jobs are claimable with or without a checkpoint;
		// the runner resumes or terminally fails them
		if j.Status == models.JobStatusQueued || models.IsActiveState(j.Status) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoQueuedJobs
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].CreatedAt.Before(candidates[k].CreatedAt) })

	claimed := candidates[0]
	claimed.HeartbeatAt = &now
	cp := *claimed
	return &cp, nil
}

func (s *MemoryStore) UpdateJobStatus(id string, status models.JobStatus, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if err := models.ValidateTransition(j.Status, status); err != nil {
		return err
	}
	if err := models.ValidateProgress(j.Progress, progress); err != nil {
		return err
	}
	j.Status = status
	j.Progress = progress
	return nil
}

func (s *MemoryStore) UpdateJobHeartbeat(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.HeartbeatAt = &at
	return nil
}

func (s *MemoryStore) MarkJobStarted(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.StartedAt == nil {
		j.StartedAt = &at
	}
	return nil
}

func (s *MemoryStore) FinishJobSuccess(id string, finalCredits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if err := models.ValidateTransition(j.Status, models.JobStatusReady); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusReady
	j.Progress = 100
	j.CostCreditsFinal = finalCredits
	j.CheckpointState = nil
	j.FinishedAt = &now
	return nil
}

func (s *MemoryStore) FinishJobFailure(id string, errorCode, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if err := models.ValidateTransition(j.Status, models.JobStatusFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusFailed
	j.ErrorCode = errorCode
	j.ErrorMessage = errorMessage
	j.FinishedAt = &now
	return nil
}

func (s *MemoryStore) SaveCheckpoint(jobID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.CheckpointState = append([]byte(nil), snapshot...)
	return nil
}

func (s *MemoryStore) ClearCheckpoint(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.CheckpointState = nil
	return nil
}

func (s *MemoryStore) AppendJobEvent(event *models.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) GetJobEvents(jobID string) ([]*models.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []*models.JobEvent
	for _, ev := range s.events {
		if ev.JobID == jobID {
			cp := *ev
			events = append(events, &cp)
		}
	}
	return events, nil
}

func (s *MemoryStore) AppendStepMetrics(metrics []*models.StepMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metrics {
		cp := *m
		s.stepMetrics = append(s.stepMetrics, &cp)
	}
	return nil
}

func (s *MemoryStore) GetStepMetrics(jobID string) ([]*models.StepMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var metrics []*models.StepMetric
	for _, m := range s.stepMetrics {
		if m.JobID == jobID {
			cp := *m
			metrics = append(metrics, &cp)
		}
	}
	return metrics, nil
}

func (s *MemoryStore) GetAllStepMetrics() ([]*models.StepMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics := make([]*models.StepMetric, 0, len(s.stepMetrics))
	for _, m := range s.stepMetrics {
		cp := *m
		metrics = append(metrics, &cp)
	}
	return metrics, nil
}

func (s *MemoryStore) AppendCostEntries(entries []*models.CostEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		cp := *e
		s.costEntries = append(s.costEntries, &cp)
	}
	return nil
}

func (s *MemoryStore) GetCostEntries(jobID string) ([]*models.CostEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []*models.CostEntry
	for _, e := range s.costEntries {
		if e.JobID == jobID {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

func (s *MemoryStore) PutArtifact(jobID, kind, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifacts[jobID] == nil {
		s.artifacts[jobID] = make(map[string]string)
	}
	s.artifacts[jobID][kind] = ref
	return nil
}

func (s *MemoryStore) GetArtifact(jobID, kind string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifacts[jobID][kind], nil
}

func (s *MemoryStore) CountJobsByStatus() (map[models.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.JobStatus]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) Close() error       { return nil }
func (s *MemoryStore) HealthCheck() error { return nil }
