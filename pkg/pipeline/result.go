package pipeline

import (
	"fmt"

	"github.com/clipforge/clipforge/pkg/models"
)

// Stable per-stage error codes. These are the user-visible failure
// vocabulary; anything a stage cannot classify becomes ERR_UNKNOWN.
const (
	ErrCodeScriptGen  = "ERR_SCRIPT_GEN"
	ErrCodeModeration = "ERR_MODERATION"
	ErrCodeTTS        = "ERR_TTS"
	ErrCodeAlignment  = "ERR_ALIGNMENT"
	ErrCodeVisualPlan = "ERR_VISUAL_PLAN"
	ErrCodeImageGen   = "ERR_IMAGE_GEN"
	ErrCodeTimeline   = "ERR_TIMELINE"
	ErrCodeRender     = "ERR_RENDER"
	ErrCodePackaging  = "ERR_PACKAGING"
	ErrCodeNotify     = "ERR_NOTIFY"
	ErrCodeUnknown    = "ERR_UNKNOWN"
)

// StepError is an expected, classified step failure. Message is safe to
// show to the user; Details carries operator-facing context and never
// stack traces.
type StepError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StepResult is the outcome of one step: an artifact delta on success,
// a StepError on failure, never both.
type StepResult struct {
	Artifacts models.Artifacts
	Err       *StepError
}

// Success wraps a step's artifact delta
func Success(delta models.Artifacts) StepResult {
	return StepResult{Artifacts: delta}
}

// Failure builds a failed result with a classified code
func Failure(code, message string) StepResult {
	return StepResult{Err: &StepError{Code: code, Message: message}}
}

// Failuref is Failure with a formatted message
func Failuref(code, format string, args ...interface{}) StepResult {
	return StepResult{Err: &StepError{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// WrapError converts an underlying client error into a failed result,
// keeping the provider's text out of the user-visible message.
func WrapError(code, message string, err error) StepResult {
	return StepResult{Err: &StepError{
		Code:    code,
		Message: message,
		Details: map[string]interface{}{"cause": err.Error()},
	}}
}
