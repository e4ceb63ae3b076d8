package steps

import (
	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/pipeline"
)

// Build returns the full stage-name -> step map the runner drives.
// Each step gets exactly the client handles it needs; nothing is global.
func Build(bundle *clients.Bundle) map[string]pipeline.Step {
	return map[string]pipeline.Step{
		pipeline.StageScripting:        NewScriptStep(bundle.LLM),
		pipeline.StageScriptModeration: NewScriptModerationStep(bundle.LLM),
		pipeline.StageVoice:            NewVoiceStep(bundle.Speech),
		pipeline.StageAlignment:        NewAlignmentStep(bundle.Transcriber),
		pipeline.StageVisualPlan:       NewVisualPlanStep(bundle.LLM),
		pipeline.StagePlanModeration:   NewPlanModerationStep(bundle.LLM),
		pipeline.StageImages:           NewImagesStep(bundle.Images),
		pipeline.StageTimeline:         NewTimelineStep(),
		pipeline.StageRender:           NewRenderStep(bundle.Renderer),
		pipeline.StageThumbnail:        NewThumbnailStep(bundle.Renderer),
		pipeline.StagePackaging:        NewPackagingStep(bundle.Objects),
		pipeline.StageNotify:           NewNotifyStep(bundle.Notifier),
	}
}
