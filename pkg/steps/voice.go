package steps

import (
	"context"

	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
)

// VoiceStep synthesizes the narration audio
type VoiceStep struct {
	speech clients.SpeechClient
}

func NewVoiceStep(speech clients.SpeechClient) *VoiceStep {
	return &VoiceStep{speech: speech}
}

func (s *VoiceStep) Name() string { return pipeline.StageVoice }

func (s *VoiceStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	if pctx.Artifacts.NarrationPath != "" && pctx.Artifacts.NarrationDurationMs > 0 {
		return pipeline.Success(models.Artifacts{})
	}

	pctx.Heartbeat()
	result, err := s.speech.Synthesize(ctx, pctx.Artifacts.Script, pctx.Project.VoiceID)
	if err != nil {
		return pipeline.WrapError(pipeline.ErrCodeTTS, "voice synthesis failed", err)
	}
	pctx.Costs.TrackTTSCharacters("tts", len(pctx.Artifacts.Script))
	if result.DurationMs <= 0 {
		return pipeline.Failure(pipeline.ErrCodeTTS, "synthesized narration has no duration")
	}

	return pipeline.Success(models.Artifacts{
		NarrationPath:       result.AudioPath,
		NarrationDurationMs: result.DurationMs,
	})
}

// AlignmentStep recovers word-group timings by aligning the narration
// audio against its script.
type AlignmentStep struct {
	transcriber clients.TranscriptionClient
}

func NewAlignmentStep(transcriber clients.TranscriptionClient) *AlignmentStep {
	return &AlignmentStep{transcriber: transcriber}
}

func (s *AlignmentStep) Name() string { return pipeline.StageAlignment }

func (s *AlignmentStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	if len(pctx.Artifacts.WhisperSegments) > 0 {
		return pipeline.Success(models.Artifacts{})
	}

	pctx.Heartbeat()
	segments, err := s.transcriber.Align(ctx, pctx.Artifacts.NarrationPath, pctx.Artifacts.Script)
	if err != nil {
		return pipeline.WrapError(pipeline.ErrCodeAlignment, "alignment failed", err)
	}
	pctx.Costs.TrackTranscriptionMs("alignment", pctx.Artifacts.NarrationDurationMs)
	if len(segments) == 0 {
		return pipeline.Failure(pipeline.ErrCodeAlignment, "alignment produced no segments")
	}

	return pipeline.Success(models.Artifacts{WhisperSegments: segments})
}
