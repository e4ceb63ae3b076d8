package steps

import (
	"context"
	"os"
	"path/filepath"

	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
)

// TimelineStep lays the generated images over the narration. It is pure
// assembly: no external calls, no cost entries.
type TimelineStep struct{}

func NewTimelineStep() *TimelineStep { return &TimelineStep{} }

func (s *TimelineStep) Name() string { return pipeline.StageTimeline }

func (s *TimelineStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	if pctx.Artifacts.Timeline != nil {
		return pipeline.Success(models.Artifacts{})
	}

	plan := pctx.Artifacts.VisualPlan
	images := pctx.Artifacts.ImagePaths
	totalMs := pctx.Artifacts.NarrationDurationMs
	if plan == nil || totalMs <= 0 {
		return pipeline.Failure(pipeline.ErrCodeTimeline, "missing plan or narration duration")
	}
	if len(images) != len(plan.Slots) {
		return pipeline.Failuref(pipeline.ErrCodeTimeline,
			"have %d images for %d slots", len(images), len(plan.Slots))
	}

	timeline := &models.Timeline{
		NarrationPath: pctx.Artifacts.NarrationPath,
		TotalMs:       totalMs,
	}
	for i, slot := range plan.Slots {
		entry := models.TimelineEntry{
			ImagePath: images[i],
			StartMs:   slot.StartMs,
			EndMs:     slot.EndMs,
		}
		if entry.EndMs > totalMs || i == len(plan.Slots)-1 {
			// the last image always holds until the narration ends
			entry.EndMs = totalMs
		}
		if entry.StartMs >= entry.EndMs {
			return pipeline.Failuref(pipeline.ErrCodeTimeline,
				"slot %d has an empty time range", i)
		}
		timeline.Entries = append(timeline.Entries, entry)
	}

	return pipeline.Success(models.Artifacts{Timeline: timeline})
}

// RenderStep hands the timeline to the opaque video engine
type RenderStep struct {
	renderer clients.Renderer
}

func NewRenderStep(renderer clients.Renderer) *RenderStep {
	return &RenderStep{renderer: renderer}
}

func (s *RenderStep) Name() string { return pipeline.StageRender }

func (s *RenderStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	if pctx.Artifacts.VideoPath != "" {
		return pipeline.Success(models.Artifacts{})
	}

	if err := os.MkdirAll(pctx.WorkDir, 0o755); err != nil {
		return pipeline.WrapError(pipeline.ErrCodeRender, "failed to create work directory", err)
	}

	pctx.Heartbeat()
	outPath := filepath.Join(pctx.WorkDir, "video.mp4")
	videoPath, err := s.renderer.RenderVideo(ctx, pctx.Artifacts.Timeline, outPath)
	if err != nil {
		return pipeline.WrapError(pipeline.ErrCodeRender, "render failed", err)
	}

	if err := pctx.Store.PutArtifact(pctx.Job.ID, "video", videoPath); err != nil {
		pctx.Log.Warn("failed to record video artifact", map[string]interface{}{"error": err.Error()})
	}
	return pipeline.Success(models.Artifacts{VideoPath: videoPath})
}

// ThumbnailStep extracts a poster frame. The runner treats it as
// best-effort: a video without a thumbnail still ships.
type ThumbnailStep struct {
	renderer clients.Renderer
}

func NewThumbnailStep(renderer clients.Renderer) *ThumbnailStep {
	return &ThumbnailStep{renderer: renderer}
}

func (s *ThumbnailStep) Name() string { return pipeline.StageThumbnail }

func (s *ThumbnailStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	if pctx.Artifacts.ThumbnailPath != "" {
		return pipeline.Success(models.Artifacts{})
	}

	outPath := filepath.Join(pctx.WorkDir, "thumbnail.jpg")
	thumbPath, err := s.renderer.RenderThumbnail(ctx, pctx.Artifacts.VideoPath, outPath)
	if err != nil {
		return pipeline.WrapError(pipeline.ErrCodeRender, "thumbnail extraction failed", err)
	}

	if err := pctx.Store.PutArtifact(pctx.Job.ID, "thumbnail", thumbPath); err != nil {
		pctx.Log.Warn("failed to record thumbnail artifact", map[string]interface{}{"error": err.Error()})
	}
	return pipeline.Success(models.Artifacts{ThumbnailPath: thumbPath})
}
