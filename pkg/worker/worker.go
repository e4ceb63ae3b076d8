package worker

import (
	"context"
	"errors"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"

	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/store"
)

// Config tunes the claim loop
type Config struct {
	Concurrency       int           // parallel jobs this worker owns at once
	PollInterval      time.Duration // backoff when the queue is empty
	HeartbeatInterval time.Duration
}

// DefaultConfig runs one job at a time with a 30s heartbeat
func DefaultConfig() Config {
	return Config{
		Concurrency:       1,
		PollInterval:      2 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Worker claims resumable jobs from the store and drives each one through
// the pipeline. Several claim loops may run in parallel; each owns exactly
// one job at a time and the store is the only shared state.
type Worker struct {
	store  store.Store
	runner *pipeline.Runner
	log    *logging.Logger
	config Config
}

func New(st store.Store, runner *pipeline.Runner, log *logging.Logger, config Config) *Worker {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	return &Worker{store: st, runner: runner, log: log, config: config}
}

// Run blocks until the context is cancelled. In-flight jobs finish their
// current stage and checkpoint through the normal pipeline path.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker starting", map[string]interface{}{
		"concurrency": w.config.Concurrency,
	})

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.config.Concurrency; i++ {
		i := i
		g.Go(func() error {
			w.claimLoop(gctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) claimLoop(ctx context.Context, slot int) {
	log := w.log.WithField("slot", slot)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.store.ClaimNextJob()
		if err != nil {
			if !errors.Is(err, store.ErrNoQueuedJobs) {
				log.Error("claim failed", map[string]interface{}{"error": err.Error()})
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.PollInterval):
			}
			continue
		}

		w.processJob(ctx, log, job)
	}
}

func (w *Worker) processJob(ctx context.Context, log *logging.Logger, job *models.Job) {
	log.Info("claimed job", map[string]interface{}{
		"job_id": job.ID,
		"status": string(job.Status),
	})

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, job.ID)

	if err := w.runner.Run(ctx, job); err != nil {
		log.Error("run aborted on infrastructure error", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

// heartbeatLoop stamps liveness while a job runs so another worker can
// tell an alive owner from a crashed one.
func (w *Worker) heartbeatLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.UpdateJobHeartbeat(jobID, time.Now().UTC()); err != nil {
				w.log.Warn("heartbeat failed", map[string]interface{}{
					"job_id": jobID,
					"error":  err.Error(),
				})
				continue
			}
			w.log.Debug("heartbeat", hostLoad(jobID))
		}
	}
}

// hostLoad samples host CPU and memory for heartbeat logs
func hostLoad(jobID string) map[string]interface{} {
	fields := map[string]interface{}{"job_id": jobID}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		fields["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["mem_percent"] = vm.UsedPercent
	}
	return fields
}
