package steps

import (
	"context"
	"strings"

	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
)

// ScriptStep writes the narration script from the project's topic or
// source text.
type ScriptStep struct {
	llm clients.LLMClient
}

func NewScriptStep(llm clients.LLMClient) *ScriptStep {
	return &ScriptStep{llm: llm}
}

func (s *ScriptStep) Name() string { return pipeline.StageScripting }

func (s *ScriptStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	if pctx.Artifacts.Script != "" {
		// restored from a checkpoint, no second paid call
		return pipeline.Success(models.Artifacts{})
	}

	script, usage, err := s.llm.GenerateScript(ctx, clients.ScriptRequest{
		Topic:         pctx.Project.Topic,
		SourceText:    pctx.Project.SourceText,
		TargetMinutes: pctx.Project.TargetMinutes,
		Language:      pctx.Project.Language,
	})
	pctx.Costs.TrackLLMTokens("script", usage.InputTokens, usage.OutputTokens)
	if err != nil {
		return pipeline.WrapError(pipeline.ErrCodeScriptGen, "script generation failed", err)
	}
	if strings.TrimSpace(script) == "" {
		return pipeline.Failure(pipeline.ErrCodeScriptGen, "model returned an empty script")
	}

	return pipeline.Success(models.Artifacts{Script: script})
}

// ScriptModerationStep rejects scripts that violate content policy.
// It produces no artifact; a pass simply lets the pipeline continue.
type ScriptModerationStep struct {
	llm clients.LLMClient
}

func NewScriptModerationStep(llm clients.LLMClient) *ScriptModerationStep {
	return &ScriptModerationStep{llm: llm}
}

func (s *ScriptModerationStep) Name() string { return pipeline.StageScriptModeration }

func (s *ScriptModerationStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	verdict, usage, err := s.llm.Moderate(ctx, pctx.Artifacts.Script)
	pctx.Costs.TrackLLMTokens("script_moderation", usage.InputTokens, usage.OutputTokens)
	if err != nil {
		return pipeline.WrapError(pipeline.ErrCodeModeration, "script moderation failed", err)
	}
	if verdict.Flagged {
		return pipeline.Failuref(pipeline.ErrCodeModeration, "script rejected: %s", verdict.Reason)
	}
	return pipeline.Success(models.Artifacts{})
}
