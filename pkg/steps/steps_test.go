package steps

import (
	"archive/zip"
	"context"
	"testing"
	"time"

	"github.com/clipforge/clipforge/pkg/batch"
	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/costs"
	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/retry"
	"github.com/clipforge/clipforge/pkg/store"
)

func testCtx(t *testing.T) *pipeline.Context {
	t.Helper()
	return &pipeline.Context{
		Job:     &models.Job{ID: "job-1", ProjectID: "proj-1", UserID: "user-1"},
		Project: &models.Project{ID: "proj-1", UserID: "user-1", Topic: "volcanoes", TargetMinutes: 1},
		Store:   store.NewMemoryStore(),
		Metrics: metrics.NewRecorder("job-1"),
		Costs:   costs.NewTracker("job-1", costs.DefaultPricing()),
		Log:     logging.NewLogger(logging.ERROR, false),
		Batch: batch.Config{
			BatchSize:  3,
			PauseDelay: time.Millisecond,
			Retry: retry.Config{
				MaxRetries:     2,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     2 * time.Millisecond,
				Multiplier:     2.0,
			},
		},
		WorkDir: t.TempDir(),
	}
}

func TestScriptStepSkipsWhenRestored(t *testing.T) {
	llm := clients.NewFakeLLM()
	pctx := testCtx(t)
	pctx.Artifacts.Script = "already written"

	result := NewScriptStep(llm).Run(context.Background(), pctx)
	if result.Err != nil {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if llm.ScriptCalls != 0 {
		t.Errorf("restored script must not trigger a paid call, got %d", llm.ScriptCalls)
	}
}

func TestScriptStepRejectsEmptyOutput(t *testing.T) {
	llm := clients.NewFakeLLM()
	llm.Script = "   "
	pctx := testCtx(t)

	result := NewScriptStep(llm).Run(context.Background(), pctx)
	if result.Err == nil || result.Err.Code != pipeline.ErrCodeScriptGen {
		t.Fatalf("want ERR_SCRIPT_GEN for a blank script, got %v", result.Err)
	}
}

func TestImagesStepShortCircuitsOnCheckpointedPaths(t *testing.T) {
	images := clients.NewFakeImages()
	pctx := testCtx(t)
	pctx.Artifacts.VisualPlan = &models.VisualPlan{Slots: []models.VisualSlot{
		{Index: 0, Prompt: "a"}, {Index: 1, Prompt: "b"},
	}}
	pctx.Artifacts.ImagePaths = []string{"work/img-1.png", "work/img-2.png"}

	result := NewImagesStep(images).Run(context.Background(), pctx)
	if result.Err != nil {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if images.Calls != 0 {
		t.Errorf("checkpointed images must not be regenerated, got %d calls", images.Calls)
	}
}

func TestImagesStepGeneratesOnePerSlot(t *testing.T) {
	images := clients.NewFakeImages()
	pctx := testCtx(t)
	pctx.Artifacts.VisualPlan = &models.VisualPlan{Slots: []models.VisualSlot{
		{Index: 0, Prompt: "a"}, {Index: 1, Prompt: "b"}, {Index: 2, Prompt: "c"},
		{Index: 3, Prompt: "d"}, {Index: 4, Prompt: "e"},
	}}

	result := NewImagesStep(images).Run(context.Background(), pctx)
	if result.Err != nil {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if len(result.Artifacts.ImagePaths) != 5 {
		t.Fatalf("image paths = %d, want 5", len(result.Artifacts.ImagePaths))
	}
	for i, path := range result.Artifacts.ImagePaths {
		if path == "" {
			t.Errorf("slot %d has no image path", i)
		}
	}
	if got := pctx.Costs.GetSummary().Entries; got != 5 {
		t.Errorf("cost entries = %d, want one per generated image", got)
	}
}

func TestTimelineClampsToNarrationEnd(t *testing.T) {
	pctx := testCtx(t)
	pctx.Artifacts.NarrationPath = "work/narration.mp3"
	pctx.Artifacts.NarrationDurationMs = 61500
	pctx.Artifacts.VisualPlan = &models.VisualPlan{Slots: []models.VisualSlot{
		{Index: 0, StartMs: 0, EndMs: 30000},
		{Index: 1, StartMs: 30000, EndMs: 60000}, // plan undershoots the narration
	}}
	pctx.Artifacts.ImagePaths = []string{"img-0.png", "img-1.png"}

	result := NewTimelineStep().Run(context.Background(), pctx)
	if result.Err != nil {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	timeline := result.Artifacts.Timeline
	if timeline.TotalMs != 61500 {
		t.Errorf("total = %d, want 61500", timeline.TotalMs)
	}
	last := timeline.Entries[len(timeline.Entries)-1]
	if last.EndMs != 61500 {
		t.Errorf("last image must hold to the narration end, got %d", last.EndMs)
	}
}

func TestTimelineRejectsSlotImageMismatch(t *testing.T) {
	pctx := testCtx(t)
	pctx.Artifacts.NarrationDurationMs = 60000
	pctx.Artifacts.VisualPlan = &models.VisualPlan{Slots: []models.VisualSlot{
		{Index: 0, StartMs: 0, EndMs: 60000},
	}}
	pctx.Artifacts.ImagePaths = []string{"a.png", "b.png"}

	result := NewTimelineStep().Run(context.Background(), pctx)
	if result.Err == nil || result.Err.Code != pipeline.ErrCodeTimeline {
		t.Fatalf("want ERR_TIMELINE, got %v", result.Err)
	}
}

func TestPackagingBundlesScriptAndManifest(t *testing.T) {
	objects := clients.NewFakeObjectStore()
	pctx := testCtx(t)
	pctx.Artifacts.Script = "a script"
	pctx.Artifacts.NarrationDurationMs = 60000
	pctx.Artifacts.VideoPath = "does/not/exist.mp4"

	result := NewPackagingStep(objects).Run(context.Background(), pctx)
	if result.Err != nil {
		t.Fatalf("unexpected failure: %v", result.Err)
	}

	zr, err := zip.OpenReader(result.Artifacts.ZipPath)
	if err != nil {
		t.Fatalf("bundle is not a readable zip: %v", err)
	}
	defer zr.Close()

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["script.txt"] || !names["manifest.json"] {
		t.Errorf("bundle missing required entries, have %v", names)
	}
	if names["video.mp4"] {
		t.Error("an unreadable video must not appear in the bundle")
	}

	if len(objects.Uploads) != 1 {
		t.Errorf("uploads = %d, want 1", len(objects.Uploads))
	}
	if ref, _ := pctx.Store.GetArtifact("job-1", "bundle"); ref == "" {
		t.Error("bundle ref should be recorded for the notify stage")
	}
}

func TestNotifyUsesBundleRef(t *testing.T) {
	notifier := &clients.FakeNotifier{}
	pctx := testCtx(t)
	if err := pctx.Store.PutArtifact("job-1", "bundle", "store://jobs/job-1/bundle.zip"); err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}

	result := NewNotifyStep(notifier).Run(context.Background(), pctx)
	if result.Err != nil {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if notifier.Calls != 1 {
		t.Errorf("notifier calls = %d, want 1", notifier.Calls)
	}
}
