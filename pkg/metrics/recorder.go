package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

// FailureCategory buckets a failed job by what kind of thing broke,
// so dashboards can answer "external flakiness or our own bugs?"
// without re-deriving it per query.
type FailureCategory string

const (
	CategoryExternalAPI FailureCategory = "external_api"
	CategoryGeneration  FailureCategory = "generation"
	CategoryRendering   FailureCategory = "rendering"
	CategorySystem      FailureCategory = "system"
	CategoryUnknown     FailureCategory = "unknown"
)

// categoryByErrorCode is the fixed lookup from a step's error code to its
// failure bucket.
var categoryByErrorCode = map[string]FailureCategory{
	"ERR_TTS":         CategoryExternalAPI,
	"ERR_ALIGNMENT":   CategoryExternalAPI,
	"ERR_SCRIPT_GEN":  CategoryGeneration,
	"ERR_VISUAL_PLAN": CategoryGeneration,
	"ERR_IMAGE_GEN":   CategoryGeneration,
	"ERR_MODERATION":  CategoryGeneration,
	"ERR_TIMELINE":    CategoryRendering,
	"ERR_RENDER":      CategoryRendering,
	"ERR_PACKAGING":   CategoryRendering,
	"ERR_NOTIFY":      CategoryExternalAPI,
	"ERR_UNKNOWN":     CategorySystem,
}

// CategoryForErrorCode maps an error code to its failure bucket
func CategoryForErrorCode(code string) FailureCategory {
	if cat, ok := categoryByErrorCode[code]; ok {
		return cat
	}
	return CategoryUnknown
}

// RunData is one job's full step history plus its derived failure category
type RunData struct {
	JobID           string               `json:"job_id"`
	Steps           []*models.StepMetric `json:"steps"`
	FailureCategory FailureCategory      `json:"failure_category,omitempty"`
}

// Recorder brackets step executions for one job run. Durations come from
// the wall clock, never estimates. A step that is re-entered after a resume
// produces a new StepMetric, not a mutation of the old one.
type Recorder struct {
	mu      sync.Mutex
	jobID   string
	open    map[string]time.Time
	steps   []*models.StepMetric
	flushed bool
}

// NewRecorder creates a step-metric recorder for one job run
func NewRecorder(jobID string) *Recorder {
	return &Recorder{
		jobID: jobID,
		open:  make(map[string]time.Time),
	}
}

// StartStep marks a step as started
func (r *Recorder) StartStep(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[name] = time.Now().UTC()
}

// EndStep closes a step bracket and appends its metric
func (r *Recorder) EndStep(name string, status models.StepStatus, errorCode, errorMessage string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	started, ok := r.open[name]
	if !ok {
		started = now // EndStep without StartStep still records, with zero duration
	}
	delete(r.open, name)

	r.steps = append(r.steps, &models.StepMetric{
		JobID:        r.jobID,
		Step:         name,
		Status:       status,
		StartedAt:    started,
		EndedAt:      now,
		DurationMs:   now.Sub(started).Milliseconds(),
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	})
}

// SkipStep records a stage the runner did not execute (resume fast-forward)
func (r *Recorder) SkipStep(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.steps = append(r.steps, &models.StepMetric{
		JobID:     r.jobID,
		Step:      name,
		Status:    models.StepStatusSkipped,
		StartedAt: now,
		EndedAt:   now,
	})
}

// GetData returns the run's step list plus the failure category derived
// from the first failing step's error code.
func (r *Recorder) GetData() RunData {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := RunData{JobID: r.jobID, Steps: make([]*models.StepMetric, len(r.steps))}
	for i, m := range r.steps {
		cp := *m
		data.Steps[i] = &cp
	}
	for _, m := range r.steps {
		if m.Status == models.StepStatusFailed {
			data.FailureCategory = CategoryForErrorCode(m.ErrorCode)
			break
		}
	}
	return data
}

// Flush writes the run's metrics to the store in one append, once.
func (r *Recorder) Flush(st store.Store) error {
	r.mu.Lock()
	if r.flushed {
		r.mu.Unlock()
		return fmt.Errorf("metrics recorder for job %s already flushed", r.jobID)
	}
	steps := r.steps
	r.flushed = true
	r.mu.Unlock()

	return st.AppendStepMetrics(steps)
}
