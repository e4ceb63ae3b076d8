package checkpoint

import (
	"encoding/json"
	"fmt"

	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

// Snapshot is the durable resume point of a job. It carries everything a
// fresh worker needs to fast-forward past completed stages: the name of the
// last stage that completed, the accumulated artifacts and the progress the
// job had reached. Stage, not job status, drives the fast-forward; several
// stages can share one status.
type Snapshot struct {
	Version   int              `json:"version"`
	Stage     string           `json:"stage"`
	Artifacts models.Artifacts `json:"artifacts"`
	Progress  int              `json:"progress"`
}

const snapshotVersion = 2

// Save serializes the snapshot and persists it on the job row. Saving is
// best-effort from the runner's point of view; callers decide whether a
// failed save is fatal.
func Save(st store.Store, jobID, stage string, artifacts models.Artifacts, progress int) error {
	snap := Snapshot{
		Version:   snapshotVersion,
		Stage:     stage,
		Artifacts: artifacts,
		Progress:  progress,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := st.SaveCheckpoint(jobID, data); err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return nil
}

// Load decodes a job's saved snapshot. A job without a checkpoint returns
// (nil, nil) so callers can distinguish "start fresh" from a decode error.
func Load(job *models.Job) (*Snapshot, error) {
	if len(job.CheckpointState) == 0 {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(job.CheckpointState, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint for job %s: %w", job.ID, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d for job %s", snap.Version, job.ID)
	}
	return &snap, nil
}

// Clear removes the snapshot once the job has reached a terminal success
func Clear(st store.Store, jobID string) error {
	return st.ClearCheckpoint(jobID)
}
