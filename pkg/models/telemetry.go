package models

import (
	"time"
)

// StepStatus is the outcome of one step attempt
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// StepMetric records one attempt of one pipeline step. A step that is
// re-entered after a resume produces a new row, never a mutation of the
// old one.
type StepMetric struct {
	JobID        string     `json:"job_id"`
	Step         string     `json:"step"`
	Status       StepStatus `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      time.Time  `json:"ended_at"`
	DurationMs   int64      `json:"duration_ms"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// CostService identifies which external provider a cost entry bills against
type CostService string

const (
	CostServiceOpenAI  CostService = "openai"
	CostServiceGemini  CostService = "gemini"
	CostServiceStorage CostService = "storage"
)

// CostEntry attributes a dollar cost to one external call. Entries are
// immutable once recorded; the tracker only ever appends.
type CostEntry struct {
	JobID     string             `json:"job_id"`
	Service   CostService        `json:"service"`
	Operation string             `json:"operation"`
	CostUsd   float64            `json:"cost_usd"`
	Meta      map[string]float64 `json:"meta,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}
