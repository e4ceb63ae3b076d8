package checkpoint

import (
	"testing"

	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

func seedJob(t *testing.T, st store.Store) *models.Job {
	t.Helper()
	if err := st.CreateProject(&models.Project{ID: "proj-1", UserID: "user-1", Topic: "volcanoes"}); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	job := &models.Job{ID: "job-1", ProjectID: "proj-1", UserID: "user-1", Status: models.JobStatusQueued, CostCreditsReserved: 5}
	if err := st.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	return job
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st)

	artifacts := models.Artifacts{
		Script:              "a short script",
		NarrationPath:       "jobs/job-1/narration.mp3",
		NarrationDurationMs: 61000,
		ImagePaths:          []string{"jobs/job-1/img-0.png", "jobs/job-1/img-1.png"},
	}
	if err := Save(st, "job-1", "images", artifacts, 55); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	job, err := st.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	snap, err := Load(job)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot, got nil")
	}
	if snap.Progress != 55 {
		t.Errorf("progress = %d, want 55", snap.Progress)
	}
	if snap.Stage != "images" {
		t.Errorf("stage = %q, want images", snap.Stage)
	}
	if snap.Artifacts.Script != artifacts.Script {
		t.Errorf("script = %q, want %q", snap.Artifacts.Script, artifacts.Script)
	}
	if len(snap.Artifacts.ImagePaths) != 2 {
		t.Errorf("image paths = %d, want 2", len(snap.Artifacts.ImagePaths))
	}
}

func TestLoadWithoutCheckpointReturnsNil(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st)

	job, err := st.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	snap, err := Load(job)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot for fresh job, got %+v", snap)
	}
}

func TestLoadRejectsCorruptState(t *testing.T) {
	job := &models.Job{ID: "job-1", CheckpointState: []byte("{not json")}
	if _, err := Load(job); err == nil {
		t.Fatal("expected decode error for corrupt checkpoint")
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	job := &models.Job{ID: "job-1", CheckpointState: []byte(`{"version":1,"progress":55}`)}
	if _, err := Load(job); err == nil {
		t.Fatal("expected error for an unsupported snapshot version")
	}
}

func TestClearRemovesCheckpoint(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st)

	if err := Save(st, "job-1", "script_moderation", models.Artifacts{Script: "s"}, 15); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := Clear(st, "job-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	job, err := st.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if len(job.CheckpointState) != 0 {
		t.Fatal("checkpoint should be gone after Clear")
	}
}
