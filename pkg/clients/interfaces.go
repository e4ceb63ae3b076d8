package clients

import (
	"context"

	"github.com/clipforge/clipforge/pkg/models"
)

// TokenUsage reports the billable token counts of one LLM call
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// ScriptRequest carries the user inputs a script is generated from
type ScriptRequest struct {
	Topic         string
	SourceText    string
	TargetMinutes int
	Language      string
}

// ModerationResult is the verdict of a content-safety check
type ModerationResult struct {
	Flagged bool
	Reason  string
}

// LLMClient covers the text-model calls: script writing, content
// moderation and visual planning.
type LLMClient interface {
	GenerateScript(ctx context.Context, req ScriptRequest) (string, TokenUsage, error)
	Moderate(ctx context.Context, text string) (ModerationResult, TokenUsage, error)
	PlanVisuals(ctx context.Context, script string, segments []models.TranscriptSegment, style string) (*models.VisualPlan, TokenUsage, error)
}

// SpeechResult is the output of one synthesis call
type SpeechResult struct {
	AudioPath  string
	DurationMs int64
}

// SpeechClient turns a script into narration audio
type SpeechClient interface {
	Synthesize(ctx context.Context, text, voiceID string) (*SpeechResult, error)
}

// TranscriptionClient aligns narration audio against its script and
// returns word-group timings.
type TranscriptionClient interface {
	Align(ctx context.Context, audioPath, script string) ([]models.TranscriptSegment, error)
}

// ImageClient generates one image per prompt and returns its local path
type ImageClient interface {
	GenerateImage(ctx context.Context, prompt, style string) (string, error)
}

// Renderer is the opaque video engine. It consumes a timeline and
// produces files; how it renders is not this module's concern.
type Renderer interface {
	RenderVideo(ctx context.Context, timeline *models.Timeline, outPath string) (string, error)
	RenderThumbnail(ctx context.Context, videoPath, outPath string) (string, error)
}

// ObjectStore uploads finished files to durable storage
type ObjectStore interface {
	Upload(ctx context.Context, localPath, key string) (ref string, sizeBytes int64, err error)
}

// Notifier tells the user their video is ready
type Notifier interface {
	NotifyReady(ctx context.Context, userID, jobID, videoRef string) error
}

// Bundle groups every external collaborator a pipeline run needs.
// It is built once at startup and handed to the runner; nothing in the
// pipeline reaches for a global.
type Bundle struct {
	LLM         LLMClient
	Speech      SpeechClient
	Transcriber TranscriptionClient
	Images      ImageClient
	Renderer    Renderer
	Objects     ObjectStore
	Notifier    Notifier
}
