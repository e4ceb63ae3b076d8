package worker

import (
	"context"
	"testing"
	"time"

	"github.com/clipforge/clipforge/pkg/batch"
	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/costs"
	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/retry"
	"github.com/clipforge/clipforge/pkg/steps"
	"github.com/clipforge/clipforge/pkg/store"
)

func newTestWorker(t *testing.T, st store.Store) *Worker {
	t.Helper()
	bundle, _, _, _, _, _, _, _ := clients.NewFakeBundle()
	log := logging.NewLogger(logging.ERROR, false)

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Store:   st,
		Clients: bundle,
		Steps:   steps.Build(bundle),
		Pricing: costs.DefaultPricing(),
		WorkDir: t.TempDir(),
		Logger:  log,
		Batch: batch.Config{
			BatchSize:  3,
			PauseDelay: time.Millisecond,
			Retry: retry.Config{
				MaxRetries:     1,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
				Multiplier:     2.0,
			},
		},
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	return New(st, runner, log, Config{
		Concurrency:       2,
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
	})
}

func seedJobs(t *testing.T, st store.Store, n int) []string {
	t.Helper()
	if err := st.CreateProject(&models.Project{ID: "proj-1", UserID: "user-1", Topic: "tides", TargetMinutes: 1}); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a'+i)) + "-job"
		job := &models.Job{
			ID:                  ids[i],
			ProjectID:           "proj-1",
			UserID:              "user-1",
			Status:              models.JobStatusQueued,
			CostCreditsReserved: 2,
			CreatedAt:           time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if err := st.CreateJob(job); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
	}
	return ids
}

func TestWorkerDrainsQueue(t *testing.T) {
	st := store.NewMemoryStore()
	ids := seedJobs(t, st, 3)
	w := newTestWorker(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		ready := 0
		for _, id := range ids {
			job, err := st.GetJob(id)
			if err != nil {
				t.Fatalf("GetJob failed: %v", err)
			}
			if job.Status == models.JobStatusReady {
				ready++
			}
		}
		if ready == len(ids) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker did not finish all jobs in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestWorkerStampsHeartbeat(t *testing.T) {
	st := store.NewMemoryStore()
	ids := seedJobs(t, st, 1)
	w := newTestWorker(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		job, err := st.GetJob(ids[0])
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.HeartbeatAt != nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("no heartbeat recorded")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWorkerIdlesOnEmptyQueue(t *testing.T) {
	st := store.NewMemoryStore()
	w := newTestWorker(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("idle worker should exit cleanly, got %v", err)
	}
}
