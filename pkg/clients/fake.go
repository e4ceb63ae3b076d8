package clients

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/clipforge/clipforge/pkg/models"
)

// Fakes for tests and local dry runs. Every fake counts its calls so
// tests can assert that a resumed job does not repeat paid work.

// FakeLLM returns canned text and deterministic plans
type FakeLLM struct {
	mu sync.Mutex

	Script     string
	FlagText   string // moderation flags any text containing this substring
	ScriptErr  error
	PlanErr    error
	PlanSlots  int
	Usage      TokenUsage

	ScriptCalls   int
	ModerateCalls int
	PlanCalls     int
}

func NewFakeLLM() *FakeLLM {
	return &FakeLLM{
		Script:    "Volcanoes are windows into the planet's interior.",
		PlanSlots: 4,
		Usage:     TokenUsage{InputTokens: 200, OutputTokens: 400},
	}
}

func (f *FakeLLM) GenerateScript(ctx context.Context, req ScriptRequest) (string, TokenUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ScriptCalls++
	if f.ScriptErr != nil {
		return "", TokenUsage{}, f.ScriptErr
	}
	return f.Script, f.Usage, nil
}

func (f *FakeLLM) Moderate(ctx context.Context, text string) (ModerationResult, TokenUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ModerateCalls++
	if f.FlagText != "" && strings.Contains(text, f.FlagText) {
		return ModerationResult{Flagged: true, Reason: "policy violation"}, f.Usage, nil
	}
	return ModerationResult{}, f.Usage, nil
}

func (f *FakeLLM) PlanVisuals(ctx context.Context, script string, segments []models.TranscriptSegment, style string) (*models.VisualPlan, TokenUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PlanCalls++
	if f.PlanErr != nil {
		return nil, TokenUsage{}, f.PlanErr
	}
	plan := &models.VisualPlan{Style: style}
	var totalMs int64 = 60000
	if len(segments) > 0 {
		totalMs = segments[len(segments)-1].EndMs
	}
	slotMs := totalMs / int64(f.PlanSlots)
	for i := 0; i < f.PlanSlots; i++ {
		plan.Slots = append(plan.Slots, models.VisualSlot{
			Index:   i,
			Prompt:  fmt.Sprintf("scene %d of %s", i+1, style),
			StartMs: int64(i) * slotMs,
			EndMs:   int64(i+1) * slotMs,
		})
	}
	return plan, f.Usage, nil
}

// FakeSpeech synthesizes nothing and reports a fixed duration
type FakeSpeech struct {
	mu sync.Mutex

	DurationMs int64
	Err        error
	Calls      int
}

func NewFakeSpeech() *FakeSpeech {
	return &FakeSpeech{DurationMs: 60000}
}

func (f *FakeSpeech) Synthesize(ctx context.Context, text, voiceID string) (*SpeechResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return &SpeechResult{AudioPath: "work/narration.mp3", DurationMs: f.DurationMs}, nil
}

// FakeTranscriber splits the script into evenly timed segments
type FakeTranscriber struct {
	mu sync.Mutex

	DurationMs int64
	Err        error
	Calls      int
}

func NewFakeTranscriber() *FakeTranscriber {
	return &FakeTranscriber{DurationMs: 60000}
}

func (f *FakeTranscriber) Align(ctx context.Context, audioPath, script string) ([]models.TranscriptSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	half := f.DurationMs / 2
	return []models.TranscriptSegment{
		{Text: script, StartMs: 0, EndMs: half, Conf: 0.98},
		{Text: script, StartMs: half, EndMs: f.DurationMs, Conf: 0.97},
	}, nil
}

// FakeImages returns a path per prompt and can fail selected prompts
type FakeImages struct {
	mu sync.Mutex

	FailPrompt string // any prompt containing this substring errors
	Err        error  // error returned for failing prompts
	Calls      int
}

func NewFakeImages() *FakeImages {
	return &FakeImages{Err: fmt.Errorf("image provider unavailable")}
}

func (f *FakeImages) GenerateImage(ctx context.Context, prompt, style string) (string, error) {
	f.mu.Lock()
	f.Calls++
	n := f.Calls
	fail := f.FailPrompt != "" && strings.Contains(prompt, f.FailPrompt)
	err := f.Err
	f.mu.Unlock()
	if fail {
		return "", err
	}
	return fmt.Sprintf("work/img-%d.png", n), nil
}

// FakeRenderer pretends to render
type FakeRenderer struct {
	mu sync.Mutex

	VideoErr     error
	ThumbnailErr error
	VideoCalls   int
	ThumbCalls   int
}

func (f *FakeRenderer) RenderVideo(ctx context.Context, timeline *models.Timeline, outPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.VideoCalls++
	if f.VideoErr != nil {
		return "", f.VideoErr
	}
	return outPath, nil
}

func (f *FakeRenderer) RenderThumbnail(ctx context.Context, videoPath, outPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ThumbCalls++
	if f.ThumbnailErr != nil {
		return "", f.ThumbnailErr
	}
	return outPath, nil
}

// FakeObjectStore records uploads in memory
type FakeObjectStore struct {
	mu sync.Mutex

	Err     error
	Size    int64
	Uploads map[string]string // key -> localPath
}

func NewFakeObjectStore() *FakeObjectStore {
	return &FakeObjectStore{Size: 4 << 20, Uploads: make(map[string]string)}
}

func (f *FakeObjectStore) Upload(ctx context.Context, localPath, key string) (string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", 0, f.Err
	}
	f.Uploads[key] = localPath
	return "store://" + key, f.Size, nil
}

// FakeNotifier records deliveries
type FakeNotifier struct {
	mu sync.Mutex

	Err   error
	Calls int
}

func (f *FakeNotifier) NotifyReady(ctx context.Context, userID, jobID, videoRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	return f.Err
}

// NewFakeBundle wires every fake into a ready-to-run bundle
func NewFakeBundle() (*Bundle, *FakeLLM, *FakeSpeech, *FakeTranscriber, *FakeImages, *FakeRenderer, *FakeObjectStore, *FakeNotifier) {
	llm := NewFakeLLM()
	speech := NewFakeSpeech()
	trans := NewFakeTranscriber()
	images := NewFakeImages()
	renderer := &FakeRenderer{}
	objects := NewFakeObjectStore()
	notifier := &FakeNotifier{}
	bundle := &Bundle{
		LLM:         llm,
		Speech:      speech,
		Transcriber: trans,
		Images:      images,
		Renderer:    renderer,
		Objects:     objects,
		Notifier:    notifier,
	}
	return bundle, llm, speech, trans, images, renderer, objects, notifier
}
