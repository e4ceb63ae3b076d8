package pipeline

import (
	"context"

	"github.com/clipforge/clipforge/pkg/batch"
	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/costs"
	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

// Context is the per-run state shared by every step of one job. All
// collaborators are injected; steps never reach for globals. Artifacts
// accumulate across stages and survive crashes through checkpoints.
type Context struct {
	Job     *models.Job
	Project *models.Project

	Artifacts models.Artifacts

	Store   store.Store
	Clients *clients.Bundle
	Metrics *metrics.Recorder
	Costs   *costs.Tracker
	Log     *logging.Logger

	Batch   batch.Config
	WorkDir string
}

// Heartbeat stamps job liveness; long-running steps call it between
// expensive operations so a watching scheduler knows the job is alive.
func (c *Context) Heartbeat() {
	if c.Store == nil {
		return
	}
	_ = c.Store.UpdateJobHeartbeat(c.Job.ID, nowUTC())
}

// Step is one unit of pipeline work. Run reports expected failures
// through the StepResult; only implementation bugs may panic.
type Step interface {
	Name() string
	Run(ctx context.Context, pctx *Context) StepResult
}
