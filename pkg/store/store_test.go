package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipforge/clipforge/pkg/models"
)

// every test runs against both implementations; they must be
// behaviorally identical.
func eachStore(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		defer st.Close()
		fn(t, st)
	})
}

func seed(t *testing.T, st Store, jobID string, createdAt time.Time) {
	t.Helper()
	_ = st.CreateProject(&models.Project{ID: "proj-1", UserID: "user-1", Topic: "tides", TargetMinutes: 1, CreatedAt: createdAt})
	err := st.CreateJob(&models.Job{
		ID:                  jobID,
		ProjectID:           "proj-1",
		UserID:              "user-1",
		Status:              models.JobStatusQueued,
		CostCreditsReserved: 3,
		CreatedAt:           createdAt,
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
}

func TestJobRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		seed(t, st, "job-1", time.Now().UTC())

		job, err := st.GetJob("job-1")
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Status != models.JobStatusQueued || job.CostCreditsReserved != 3 {
			t.Errorf("unexpected job: %+v", job)
		}

		if _, err := st.GetJob("nope"); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("missing job should return ErrJobNotFound, got %v", err)
		}
	})
}

func TestClaimOrderAndLease(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		base := time.Now().UTC().Add(-time.Minute)
		seed(t, st, "older", base)
		if err := st.CreateJob(&models.Job{
			ID: "newer", ProjectID: "proj-1", UserID: "user-1",
			Status: models.JobStatusQueued, CreatedAt: base.Add(time.Second),
		}); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}

		first, err := st.ClaimNextJob()
		if err != nil {
			t.Fatalf("ClaimNextJob failed: %v", err)
		}
		if first.ID != "older" {
			t.Errorf("claimed %s, want the oldest job", first.ID)
		}

		// the claim stamp leases the job to its worker
		second, err := st.ClaimNextJob()
		if err != nil {
			t.Fatalf("ClaimNextJob failed: %v", err)
		}
		if second.ID == first.ID {
			t.Error("a freshly claimed job must not be handed out twice")
		}

		if _, err := st.ClaimNextJob(); !errors.Is(err, ErrNoQueuedJobs) {
			t.Errorf("empty queue should return ErrNoQueuedJobs, got %v", err)
		}
	})
}

func TestClaimRecoversStaleCheckpointedJob(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		seed(t, st, "job-1", time.Now().UTC().Add(-time.Hour))
		if err := st.UpdateJobStatus("job-1", models.JobStatusImageGen, 55); err != nil {
			t.Fatalf("UpdateJobStatus failed: %v", err)
		}
		if err := st.SaveCheckpoint("job-1", []byte(`{"version":1}`)); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}
		stale := time.Now().UTC().Add(-10 * time.Minute)
		if err := st.UpdateJobHeartbeat("job-1", stale); err != nil {
			t.Fatalf("UpdateJobHeartbeat failed: %v", err)
		}

		job, err := st.ClaimNextJob()
		if err != nil {
			t.Fatalf("stale checkpointed job should be reclaimable: %v", err)
		}
		if job.ID != "job-1" || job.Status != models.JobStatusImageGen {
			t.Errorf("unexpected claim: %+v", job)
		}
	})
}

func TestClaimRecoversStaleJobWithoutCheckpoint(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		seed(t, st, "job-1", time.Now().UTC().Add(-time.Hour))
		if err := st.UpdateJobStatus("job-1", models.JobStatusScripting, 5); err != nil {
			t.Fatalf("UpdateJobStatus failed: %v", err)
		}
		stale := time.Now().UTC().Add(-10 * time.Minute)
		if err := st.UpdateJobHeartbeat("job-1", stale); err != nil {
			t.Fatalf("UpdateJobHeartbeat failed: %v", err)
		}

		// a worker died before the first checkpoint; the job must still be
		// handed out so the runner can fail it terminally
		job, err := st.ClaimNextJob()
		if err != nil {
			t.Fatalf("stale mid-flight job without checkpoint should be claimable: %v", err)
		}
		if job.ID != "job-1" || job.Status != models.JobStatusScripting {
			t.Errorf("unexpected claim: %+v", job)
		}
	})
}

func TestStatusTransitionsAreForwardOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		seed(t, st, "job-1", time.Now().UTC())

		if err := st.UpdateJobStatus("job-1", models.JobStatusVoiceGen, 25); err != nil {
			t.Fatalf("forward transition failed: %v", err)
		}
		if err := st.UpdateJobStatus("job-1", models.JobStatusScripting, 5); err == nil {
			t.Error("backward transition must be rejected")
		}
		if err := st.UpdateJobStatus("job-1", models.JobStatusVoiceGen, 10); err == nil {
			t.Error("progress regression must be rejected")
		}
		if err := st.UpdateJobStatus("job-1", models.JobStatusVoiceGen, 30); err != nil {
			t.Errorf("self re-entry with higher progress should work: %v", err)
		}
	})
}

func TestFinishSuccessClearsCheckpoint(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		seed(t, st, "job-1", time.Now().UTC())
		if err := st.UpdateJobStatus("job-1", models.JobStatusPackaging, 95); err != nil {
			t.Fatalf("UpdateJobStatus failed: %v", err)
		}
		if err := st.SaveCheckpoint("job-1", []byte(`{"version":1}`)); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}

		if err := st.FinishJobSuccess("job-1", 2); err != nil {
			t.Fatalf("FinishJobSuccess failed: %v", err)
		}
		job, _ := st.GetJob("job-1")
		if job.Status != models.JobStatusReady || job.Progress != 100 || job.CostCreditsFinal != 2 {
			t.Errorf("unexpected terminal job: %+v", job)
		}
		if len(job.CheckpointState) != 0 {
			t.Error("checkpoint must be cleared on success")
		}
		if job.FinishedAt == nil {
			t.Error("finished_at must be set")
		}

		if err := st.UpdateJobStatus("job-1", models.JobStatusPackaging, 95); err == nil {
			t.Error("terminal jobs must not transition again")
		}
	})
}

func TestFinishFailureKeepsCheckpoint(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		seed(t, st, "job-1", time.Now().UTC())
		if err := st.UpdateJobStatus("job-1", models.JobStatusRendering, 80); err != nil {
			t.Fatalf("UpdateJobStatus failed: %v", err)
		}
		if err := st.SaveCheckpoint("job-1", []byte(`{"version":1}`)); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}

		if err := st.FinishJobFailure("job-1", "ERR_RENDER", "engine crashed"); err != nil {
			t.Fatalf("FinishJobFailure failed: %v", err)
		}
		job, _ := st.GetJob("job-1")
		if job.Status != models.JobStatusFailed || job.ErrorCode != "ERR_RENDER" {
			t.Errorf("unexpected failed job: %+v", job)
		}
		if job.Progress != 80 {
			t.Errorf("failure must not advance progress, got %d", job.Progress)
		}
		if len(job.CheckpointState) == 0 {
			t.Error("failure must keep the checkpoint for manual retries")
		}
	})
}

func TestEventLogKeepsAppendOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		seed(t, st, "job-1", time.Now().UTC())
		stages := []string{"scripting", "voice", "images"}
		for _, stage := range stages {
			err := st.AppendJobEvent(&models.JobEvent{
				JobID: "job-1", Stage: stage, Message: "stage started", Level: "info",
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				t.Fatalf("AppendJobEvent failed: %v", err)
			}
		}

		events, err := st.GetJobEvents("job-1")
		if err != nil {
			t.Fatalf("GetJobEvents failed: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("events = %d, want 3", len(events))
		}
		for i, stage := range stages {
			if events[i].Stage != stage {
				t.Errorf("event %d = %s, want %s", i, events[i].Stage, stage)
			}
		}
	})
}

func TestArtifactRegistry(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		seed(t, st, "job-1", time.Now().UTC())

		if ref, err := st.GetArtifact("job-1", "video"); err != nil || ref != "" {
			t.Errorf("missing artifact should be (\"\", nil), got (%q, %v)", ref, err)
		}
		if err := st.PutArtifact("job-1", "video", "work/video.mp4"); err != nil {
			t.Fatalf("PutArtifact failed: %v", err)
		}
		if err := st.PutArtifact("job-1", "video", "work/video-v2.mp4"); err != nil {
			t.Fatalf("PutArtifact overwrite failed: %v", err)
		}
		ref, err := st.GetArtifact("job-1", "video")
		if err != nil {
			t.Fatalf("GetArtifact failed: %v", err)
		}
		if ref != "work/video-v2.mp4" {
			t.Errorf("ref = %q, want the overwritten value", ref)
		}
	})
}

func TestCostAndMetricSinks(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		seed(t, st, "job-1", time.Now().UTC())
		now := time.Now().UTC()

		err := st.AppendStepMetrics([]*models.StepMetric{
			{JobID: "job-1", Step: "scripting", Status: models.StepStatusSuccess, StartedAt: now, EndedAt: now, DurationMs: 120},
			{JobID: "job-1", Step: "voice", Status: models.StepStatusFailed, StartedAt: now, EndedAt: now, DurationMs: 80, ErrorCode: "ERR_TTS"},
		})
		if err != nil {
			t.Fatalf("AppendStepMetrics failed: %v", err)
		}
		err = st.AppendCostEntries([]*models.CostEntry{
			{JobID: "job-1", Service: models.CostServiceOpenAI, Operation: "script", CostUsd: 0.004,
				Meta: map[string]float64{"input_tokens": 200}, CreatedAt: now},
		})
		if err != nil {
			t.Fatalf("AppendCostEntries failed: %v", err)
		}

		metrics, err := st.GetStepMetrics("job-1")
		if err != nil || len(metrics) != 2 {
			t.Fatalf("GetStepMetrics = %d entries, err %v", len(metrics), err)
		}
		if metrics[1].ErrorCode != "ERR_TTS" {
			t.Errorf("metric order or fields wrong: %+v", metrics[1])
		}

		entries, err := st.GetCostEntries("job-1")
		if err != nil || len(entries) != 1 {
			t.Fatalf("GetCostEntries = %d entries, err %v", len(entries), err)
		}
		if entries[0].Meta["input_tokens"] != 200 {
			t.Errorf("cost meta did not round-trip: %+v", entries[0])
		}
	})
}

func TestCountJobsByStatus(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		seed(t, st, "job-1", time.Now().UTC())
		seed2 := &models.Job{ID: "job-2", ProjectID: "proj-1", UserID: "user-1",
			Status: models.JobStatusQueued, CreatedAt: time.Now().UTC()}
		if err := st.CreateJob(seed2); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
		if err := st.UpdateJobStatus("job-2", models.JobStatusScripting, 5); err != nil {
			t.Fatalf("UpdateJobStatus failed: %v", err)
		}

		counts, err := st.CountJobsByStatus()
		if err != nil {
			t.Fatalf("CountJobsByStatus failed: %v", err)
		}
		if counts[models.JobStatusQueued] != 1 || counts[models.JobStatusScripting] != 1 {
			t.Errorf("unexpected counts: %v", counts)
		}
	})
}
