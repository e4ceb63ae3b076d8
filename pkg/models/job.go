package models

import (
	"time"
)

// JobStatus represents the status of a video-generation job
type JobStatus string

const (
	JobStatusQueued        JobStatus = "QUEUED"
	JobStatusScripting     JobStatus = "SCRIPTING"
	JobStatusVoiceGen      JobStatus = "VOICE_GEN"
	JobStatusAlignment     JobStatus = "ALIGNMENT"
	JobStatusVisualPlan    JobStatus = "VISUAL_PLAN"
	JobStatusImageGen      JobStatus = "IMAGE_GEN"
	JobStatusTimelineBuild JobStatus = "TIMELINE_BUILD"
	JobStatusRendering     JobStatus = "RENDERING"
	JobStatusPackaging     JobStatus = "PACKAGING"
	JobStatusReady         JobStatus = "READY"
	JobStatusFailed        JobStatus = "FAILED"
)

// Job represents one video-generation request
type Job struct {
	ID                  string     `json:"id"`
	ProjectID           string     `json:"project_id"`
	UserID              string     `json:"user_id"`
	Status              JobStatus  `json:"status"`
	Progress            int        `json:"progress"` // 0-100, monotone while the job is alive
	CostCreditsReserved int        `json:"cost_credits_reserved"`
	CostCreditsFinal    int        `json:"cost_credits_final,omitempty"`
	CheckpointState     []byte     `json:"checkpoint_state,omitempty"` // JSON snapshot, nil once terminal success
	ErrorCode           string     `json:"error_code,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
	HeartbeatAt         *time.Time `json:"heartbeat_at,omitempty"`
}

// Project holds the user-supplied inputs a job renders from
type Project struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Topic         string    `json:"topic"`
	SourceText    string    `json:"source_text,omitempty"`
	TargetMinutes int       `json:"target_minutes"`
	VoiceID       string    `json:"voice_id,omitempty"`
	VisualStyle   string    `json:"visual_style,omitempty"`
	Language      string    `json:"language,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// JobEvent is one human-readable line in a job's event log
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Level     string    `json:"level"` // info, warn, error
	CreatedAt time.Time `json:"created_at"`
}

// IsTerminalState returns true if the status is terminal (no further transitions)
func IsTerminalState(status JobStatus) bool {
	return status == JobStatusReady || status == JobStatusFailed
}

// IsActiveState returns true if a runner is expected to be advancing the job
func IsActiveState(status JobStatus) bool {
	return status != JobStatusQueued && !IsTerminalState(status)
}

// IsResumable reports whether a job can be handed back to a runner.
// Fresh jobs always qualify; interrupted jobs need a checkpoint to restore from.
func (j *Job) IsResumable() bool {
	if j.Status == JobStatusQueued {
		return true
	}
	return IsActiveState(j.Status) && len(j.CheckpointState) > 0
}
