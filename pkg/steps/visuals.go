package steps

import (
	"context"
	"strings"
	"sync"

	"github.com/clipforge/clipforge/pkg/batch"
	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
)

// VisualPlanStep asks the model to break the script into timed visual
// slots, one image prompt per slot.
type VisualPlanStep struct {
	llm clients.LLMClient
}

func NewVisualPlanStep(llm clients.LLMClient) *VisualPlanStep {
	return &VisualPlanStep{llm: llm}
}

func (s *VisualPlanStep) Name() string { return pipeline.StageVisualPlan }

func (s *VisualPlanStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	if pctx.Artifacts.VisualPlan != nil {
		return pipeline.Success(models.Artifacts{})
	}

	plan, usage, err := s.llm.PlanVisuals(ctx, pctx.Artifacts.Script, pctx.Artifacts.WhisperSegments, pctx.Project.VisualStyle)
	pctx.Costs.TrackLLMTokens("visual_plan", usage.InputTokens, usage.OutputTokens)
	if err != nil {
		return pipeline.WrapError(pipeline.ErrCodeVisualPlan, "visual planning failed", err)
	}
	if plan == nil || len(plan.Slots) == 0 {
		return pipeline.Failure(pipeline.ErrCodeVisualPlan, "visual plan has no slots")
	}

	return pipeline.Success(models.Artifacts{VisualPlan: plan})
}

// PlanModerationStep checks the image prompts before any of them is
// sent to a paid image provider.
type PlanModerationStep struct {
	llm clients.LLMClient
}

func NewPlanModerationStep(llm clients.LLMClient) *PlanModerationStep {
	return &PlanModerationStep{llm: llm}
}

func (s *PlanModerationStep) Name() string { return pipeline.StagePlanModeration }

func (s *PlanModerationStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	prompts := make([]string, 0, len(pctx.Artifacts.VisualPlan.Slots))
	for _, slot := range pctx.Artifacts.VisualPlan.Slots {
		prompts = append(prompts, slot.Prompt)
	}

	verdict, usage, err := s.llm.Moderate(ctx, strings.Join(prompts, "\n"))
	pctx.Costs.TrackLLMTokens("plan_moderation", usage.InputTokens, usage.OutputTokens)
	if err != nil {
		return pipeline.WrapError(pipeline.ErrCodeModeration, "plan moderation failed", err)
	}
	if verdict.Flagged {
		return pipeline.Failuref(pipeline.ErrCodeModeration, "visual plan rejected: %s", verdict.Reason)
	}
	return pipeline.Success(models.Artifacts{})
}

// ImagesStep generates one image per plan slot through the bounded
// retrying batch executor. This is the most expensive stage of a run;
// the runner checkpoints right after it succeeds.
type ImagesStep struct {
	images clients.ImageClient
}

func NewImagesStep(images clients.ImageClient) *ImagesStep {
	return &ImagesStep{images: images}
}

func (s *ImagesStep) Name() string { return pipeline.StageImages }

func (s *ImagesStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	plan := pctx.Artifacts.VisualPlan
	if len(pctx.Artifacts.ImagePaths) == len(plan.Slots) && len(plan.Slots) > 0 {
		return pipeline.Success(models.Artifacts{})
	}

	paths := make([]string, len(plan.Slots))
	var mu sync.Mutex

	err := batch.Run(ctx, len(plan.Slots), pctx.Batch, func(ctx context.Context, i int) error {
		pctx.Heartbeat()
		path, err := s.images.GenerateImage(ctx, plan.Slots[i].Prompt, plan.Style)
		if err != nil {
			return err
		}
		mu.Lock()
		paths[i] = path
		mu.Unlock()
		pctx.Costs.TrackImages("image_gen", 1)
		return nil
	})
	if err != nil {
		return pipeline.WrapError(pipeline.ErrCodeImageGen, "image generation failed", err)
	}

	return pipeline.Success(models.Artifacts{ImagePaths: paths})
}
