package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/clipforge/clipforge/pkg/batch"
	"github.com/clipforge/clipforge/pkg/checkpoint"
	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/costs"
	"github.com/clipforge/clipforge/pkg/credits"
	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

// Stage names. The table below is the single source of truth for order,
// status and progress floors; steps are looked up by these names.
const (
	StageScripting        = "scripting"
	StageScriptModeration = "script_moderation"
	StageVoice            = "voice"
	StageAlignment        = "alignment"
	StageVisualPlan       = "visual_plan"
	StagePlanModeration   = "plan_moderation"
	StageImages           = "images"
	StageTimeline         = "timeline"
	StageRender           = "render"
	StageThumbnail        = "thumbnail"
	StagePackaging        = "packaging"
	StageNotify           = "notify"
)

type stage struct {
	name       string
	status     models.JobStatus
	progress   int
	bestEffort bool // failure logs a warning but never fails the job
}

// stageTable is the fixed pipeline order. Progress values are floors:
// entering a stage raises progress to its floor and progress never moves
// backwards while the job is alive.
var stageTable = []stage{
	{StageScripting, models.JobStatusScripting, 5, false},
	{StageScriptModeration, models.JobStatusScripting, 15, false},
	{StageVoice, models.JobStatusVoiceGen, 25, false},
	{StageAlignment, models.JobStatusAlignment, 40, false},
	{StageVisualPlan, models.JobStatusVisualPlan, 50, false},
	{StagePlanModeration, models.JobStatusVisualPlan, 52, false},
	{StageImages, models.JobStatusImageGen, 55, false},
	{StageTimeline, models.JobStatusTimelineBuild, 75, false},
	{StageRender, models.JobStatusRendering, 80, false},
	{StageThumbnail, models.JobStatusRendering, 90, true},
	{StagePackaging, models.JobStatusPackaging, 95, false},
	{StageNotify, models.JobStatusPackaging, 98, true},
}

// StageNames returns the pipeline's stage names in execution order
func StageNames() []string {
	names := make([]string, len(stageTable))
	for i, st := range stageTable {
		names[i] = st.name
	}
	return names
}

// stageIndex returns a stage's position in the table, -1 for unknown names
func stageIndex(name string) int {
	for i, st := range stageTable {
		if st.name == name {
			return i
		}
	}
	return -1
}

// RunnerConfig wires a Runner's collaborators. Everything is injected;
// the Runner holds no globals and no singletons.
type RunnerConfig struct {
	Store    store.Store
	Clients  *clients.Bundle
	Steps    map[string]Step
	Ledger   credits.Ledger
	Policy   credits.Policy
	Pricing  costs.Pricing
	Batch    batch.Config
	WorkDir  string
	Logger   *logging.Logger
	Exporter *metrics.Exporter // optional
}

// Runner drives one job through the fixed stage table
type Runner struct {
	store    store.Store
	clients  *clients.Bundle
	steps    map[string]Step
	ledger   credits.Ledger
	policy   credits.Policy
	pricing  costs.Pricing
	batch    batch.Config
	workDir  string
	log      *logging.Logger
	exporter *metrics.Exporter
}

// NewRunner validates that every stage has a step and builds the runner
func NewRunner(config RunnerConfig) (*Runner, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("runner requires a store")
	}
	for _, st := range stageTable {
		if config.Steps[st.name] == nil {
			return nil, fmt.Errorf("no step registered for stage %s", st.name)
		}
	}
	log := config.Logger
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	if config.Batch.BatchSize == 0 {
		config.Batch = batch.DefaultConfig()
	}
	if config.Policy.RefundThreshold == "" {
		config.Policy = credits.DefaultPolicy()
	}
	return &Runner{
		store:    config.Store,
		clients:  config.Clients,
		steps:    config.Steps,
		ledger:   config.Ledger,
		policy:   config.Policy,
		pricing:  config.Pricing,
		batch:    config.Batch,
		workDir:  config.WorkDir,
		log:      log,
		exporter: config.Exporter,
	}, nil
}

// Run executes one job to a terminal status. It never returns a stage
// failure as an error; stage failures become FAILED jobs. The returned
// error covers only infrastructure faults the runner could not absorb.
func (r *Runner) Run(ctx context.Context, job *models.Job) error {
	log := r.log.WithField("job_id", job.ID)

	project, err := r.store.GetProject(job.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load project for job %s: %w", job.ID, err)
	}

	pctx := &Context{
		Job:     job,
		Project: project,
		Store:   r.store,
		Clients: r.clients,
		Metrics: metrics.NewRecorder(job.ID),
		Costs:   costs.NewTracker(job.ID, r.pricing),
		Log:     log,
		Batch:   r.batch,
		WorkDir: filepath.Join(r.workDir, job.ID),
	}

	// A panic anywhere in a step is an implementation bug, not a reason
	// to leave the job stuck in a live status.
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic during pipeline run", map[string]interface{}{
				"panic": fmt.Sprintf("%v", rec),
				"stage": string(job.Status),
			})
			r.finishFailure(pctx, &StepError{Code: ErrCodeUnknown, Message: "internal error"})
		}
	}()

	// lastDone is the index of the last stage the checkpoint proves complete;
	// everything at or before it is skipped on resume.
	lastDone := -1
	if job.Status != models.JobStatusQueued {
		snap, err := checkpoint.Load(job)
		if err != nil {
			log.Error("job is mid-flight but its checkpoint is unreadable", map[string]interface{}{
				"status": string(job.Status), "error": err.Error(),
			})
			r.finishFailure(pctx, &StepError{Code: ErrCodeUnknown, Message: "checkpoint unreadable"})
			return nil
		}
		if snap == nil {
			log.Error("job was interrupted before its first checkpoint", map[string]interface{}{
				"status": string(job.Status),
			})
			r.finishFailure(pctx, &StepError{Code: ErrCodeUnknown, Message: "interrupted before first checkpoint"})
			return nil
		}
		lastDone = stageIndex(snap.Stage)
		if lastDone < 0 {
			log.Error("checkpoint names an unknown stage", map[string]interface{}{
				"stage": snap.Stage,
			})
			r.finishFailure(pctx, &StepError{Code: ErrCodeUnknown, Message: "checkpoint unreadable"})
			return nil
		}
		pctx.Artifacts = snap.Artifacts
		log.Info("resuming from checkpoint", map[string]interface{}{
			"status":   string(job.Status),
			"stage":    snap.Stage,
			"progress": snap.Progress,
		})
		r.event(pctx, "resume", fmt.Sprintf("resumed after %s at %s", snap.Stage, job.Status), "info")
	}

	if job.StartedAt == nil {
		if err := r.store.MarkJobStarted(job.ID, nowUTC()); err != nil {
			return fmt.Errorf("failed to mark job %s started: %w", job.ID, err)
		}
	}

	imagesIndex := stageIndex(StageImages)
	for i, st := range stageTable {
		if i <= lastDone {
			// completed before the crash; artifacts came from the checkpoint
			pctx.Metrics.SkipStep(st.name)
			continue
		}

		// progress floors never move a resumed job backwards
		progress := st.progress
		if job.Progress > progress {
			progress = job.Progress
		}
		if err := r.store.UpdateJobStatus(job.ID, st.status, progress); err != nil {
			log.Error("failed to persist stage transition", map[string]interface{}{
				"stage": st.name, "error": err.Error(),
			})
			r.finishFailure(pctx, &StepError{Code: ErrCodeUnknown, Message: "failed to persist stage transition"})
			return nil
		}
		job.Status = st.status
		job.Progress = progress

		r.event(pctx, st.name, "stage started", "info")
		pctx.Metrics.StartStep(st.name)

		result := r.steps[st.name].Run(ctx, pctx)

		if result.Err != nil {
			pctx.Metrics.EndStep(st.name, models.StepStatusFailed, result.Err.Code, result.Err.Message)

			switch {
			case st.bestEffort:
				log.Warn("best-effort stage failed, continuing", map[string]interface{}{
					"stage": st.name, "error_code": result.Err.Code,
				})
				r.event(pctx, st.name, "stage failed (non-fatal): "+result.Err.Message, "warn")
			case st.name == StagePackaging && pctx.Artifacts.VideoPath != "":
				// the video itself exists, so deliver it unpackaged
				log.Warn("packaging failed but video exists, delivering anyway", map[string]interface{}{
					"error_code": result.Err.Code,
				})
				r.event(pctx, st.name, "packaging failed, delivering unpackaged video", "warn")
			default:
				r.event(pctx, st.name, "stage failed: "+result.Err.Message, "error")
				r.finishFailure(pctx, result.Err)
				return nil
			}
		} else {
			pctx.Metrics.EndStep(st.name, models.StepStatusSuccess, "", "")
			pctx.Artifacts.Merge(result.Artifacts)
			r.event(pctx, st.name, "stage completed", "info")
		}

		if i >= imagesIndex {
			// the expensive work is behind us from images on; every surviving
			// stage moves the resume point forward, tolerated failures
			// included, so the checkpoint never lags the persisted status
			if err := checkpoint.Save(r.store, job.ID, st.name, pctx.Artifacts, job.Progress); err != nil {
				log.Warn("failed to save checkpoint", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	r.finishSuccess(pctx)
	return nil
}

func (r *Runner) finishSuccess(pctx *Context) {
	job := pctx.Job
	final := credits.FinalCredits(pctx.Artifacts.NarrationDurationMs)

	if err := r.store.FinishJobSuccess(job.ID, final); err != nil {
		pctx.Log.Error("failed to persist terminal success", map[string]interface{}{"error": err.Error()})
	}
	job.Status = models.JobStatusReady
	job.Progress = 100
	job.CostCreditsFinal = final

	if r.ledger != nil {
		if err := r.ledger.FinalizeCredits(job.UserID, job.ID, final); err != nil {
			pctx.Log.Error("failed to finalize credits", map[string]interface{}{"error": err.Error()})
		}
	}
	if err := checkpoint.Clear(r.store, job.ID); err != nil {
		pctx.Log.Warn("failed to clear checkpoint", map[string]interface{}{"error": err.Error()})
	}

	r.event(pctx, "done", fmt.Sprintf("video ready, %d credits", final), "info")
	pctx.Log.Info("job ready", map[string]interface{}{
		"final_credits": final,
		"cost_usd":      pctx.Costs.TotalCost(),
	})
	r.flush(pctx, models.JobStatusReady)
}

func (r *Runner) finishFailure(pctx *Context, stepErr *StepError) {
	job := pctx.Job
	failedStatus, failedProgress := job.Status, job.Progress

	if err := r.store.FinishJobFailure(job.ID, stepErr.Code, stepErr.Message); err != nil {
		pctx.Log.Error("failed to persist terminal failure", map[string]interface{}{"error": err.Error()})
	}

	refund := r.policy.ShouldRefund(failedStatus, failedProgress)
	pctx.Log.Info("credit decision for failed job", map[string]interface{}{
		"refund_eligible": refund,
		"status":          string(failedStatus),
		"progress":        failedProgress,
		"error_code":      stepErr.Code,
	})
	if refund {
		if r.ledger != nil {
			if err := r.ledger.ReleaseCredits(job.ID); err != nil {
				pctx.Log.Error("failed to release credits", map[string]interface{}{"error": err.Error()})
			}
		}
		r.event(pctx, "credits", "reserved credits released", "info")
	} else {
		r.event(pctx, "credits",
			fmt.Sprintf("reserved credits kept, failed at %s (%d%%)", failedStatus, failedProgress), "info")
	}

	job.Status = models.JobStatusFailed
	job.ErrorCode = stepErr.Code
	job.ErrorMessage = stepErr.Message
	r.flush(pctx, models.JobStatusFailed)
}

// flush writes the run's costs and metrics exactly once and feeds the
// live exporter if one is attached.
func (r *Runner) flush(pctx *Context, finalStatus models.JobStatus) {
	if err := pctx.Costs.Flush(r.store); err != nil {
		pctx.Log.Warn("failed to flush cost entries", map[string]interface{}{"error": err.Error()})
	}
	if err := pctx.Metrics.Flush(r.store); err != nil {
		pctx.Log.Warn("failed to flush step metrics", map[string]interface{}{"error": err.Error()})
	}
	if r.exporter != nil {
		r.exporter.ObserveRun(pctx.Metrics.GetData(), finalStatus)
	}
}

func (r *Runner) event(pctx *Context, stage, message, level string) {
	err := r.store.AppendJobEvent(&models.JobEvent{
		JobID:     pctx.Job.ID,
		Stage:     stage,
		Message:   message,
		Level:     level,
		CreatedAt: nowUTC(),
	})
	if err != nil {
		pctx.Log.Warn("failed to append job event", map[string]interface{}{"error": err.Error()})
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
