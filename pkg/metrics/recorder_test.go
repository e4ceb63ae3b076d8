package metrics

import (
	"testing"
	"time"

	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

func TestRecorderBracketsSteps(t *testing.T) {
	r := NewRecorder("job-1")

	r.StartStep("scripting")
	time.Sleep(5 * time.Millisecond)
	r.EndStep("scripting", models.StepStatusSuccess, "", "")

	r.SkipStep("voice")

	r.StartStep("images")
	r.EndStep("images", models.StepStatusFailed, "ERR_IMAGE_GEN", "provider 429")

	data := r.GetData()
	if len(data.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(data.Steps))
	}

	first := data.Steps[0]
	if first.Step != "scripting" || first.Status != models.StepStatusSuccess {
		t.Errorf("unexpected first metric: %+v", first)
	}
	if first.DurationMs <= 0 {
		t.Errorf("duration should come from the wall clock, got %dms", first.DurationMs)
	}

	if data.Steps[1].Status != models.StepStatusSkipped {
		t.Errorf("skipped step not recorded: %+v", data.Steps[1])
	}

	if data.FailureCategory != CategoryGeneration {
		t.Errorf("failure category = %s, want %s", data.FailureCategory, CategoryGeneration)
	}
}

func TestRecorderReentryAppendsNewMetric(t *testing.T) {
	r := NewRecorder("job-1")
	r.StartStep("render")
	r.EndStep("render", models.StepStatusFailed, "ERR_RENDER", "crash")
	r.StartStep("render")
	r.EndStep("render", models.StepStatusSuccess, "", "")

	data := r.GetData()
	if len(data.Steps) != 2 {
		t.Fatalf("re-entered step should append, got %d metrics", len(data.Steps))
	}
	if data.Steps[0].Status != models.StepStatusFailed || data.Steps[1].Status != models.StepStatusSuccess {
		t.Errorf("metrics out of order: %+v", data.Steps)
	}
}

func TestCategoryForErrorCode(t *testing.T) {
	tests := []struct {
		code string
		want FailureCategory
	}{
		{"ERR_TTS", CategoryExternalAPI},
		{"ERR_ALIGNMENT", CategoryExternalAPI},
		{"ERR_SCRIPT_GEN", CategoryGeneration},
		{"ERR_IMAGE_GEN", CategoryGeneration},
		{"ERR_MODERATION", CategoryGeneration},
		{"ERR_RENDER", CategoryRendering},
		{"ERR_PACKAGING", CategoryRendering},
		{"ERR_UNKNOWN", CategorySystem},
		{"ERR_SOMETHING_NEW", CategoryUnknown},
	}
	for _, tt := range tests {
		if got := CategoryForErrorCode(tt.code); got != tt.want {
			t.Errorf("CategoryForErrorCode(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestRecorderFlushOnce(t *testing.T) {
	st := store.NewMemoryStore()
	r := NewRecorder("job-1")
	r.StartStep("scripting")
	r.EndStep("scripting", models.StepStatusSuccess, "", "")

	if err := r.Flush(st); err != nil {
		t.Fatalf("first Flush failed: %v", err)
	}
	if err := r.Flush(st); err == nil {
		t.Fatal("second Flush should fail")
	}

	persisted, err := st.GetStepMetrics("job-1")
	if err != nil {
		t.Fatalf("GetStepMetrics failed: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("persisted metrics = %d, want 1", len(persisted))
	}
}

func TestBuildReport(t *testing.T) {
	history := []*models.StepMetric{
		{Step: "scripting", Status: models.StepStatusSuccess, DurationMs: 100},
		{Step: "scripting", Status: models.StepStatusSuccess, DurationMs: 300},
		{Step: "scripting", Status: models.StepStatusFailed, DurationMs: 200, ErrorCode: "ERR_SCRIPT_GEN"},
		{Step: "images", Status: models.StepStatusFailed, DurationMs: 50, ErrorCode: "ERR_IMAGE_GEN"},
		{Step: "images", Status: models.StepStatusFailed, DurationMs: 60, ErrorCode: "ERR_IMAGE_GEN"},
		{Step: "images", Status: models.StepStatusSkipped},
	}

	report := buildReport(history)

	if len(report.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(report.Steps))
	}

	scripting := report.Steps[0]
	if scripting.Step != "scripting" || scripting.Attempts != 3 || scripting.Successes != 2 {
		t.Errorf("unexpected scripting aggregate: %+v", scripting)
	}
	if scripting.MedianMs != 200 || scripting.P95Ms != 300 {
		t.Errorf("median/p95 = %d/%d, want 200/300", scripting.MedianMs, scripting.P95Ms)
	}

	images := report.Steps[1]
	if images.Attempts != 2 {
		t.Errorf("skipped attempts must not count: %+v", images)
	}

	if len(report.FailureReasons) != 2 {
		t.Fatalf("failure reasons = %d, want 2", len(report.FailureReasons))
	}
	if report.FailureReasons[0].ErrorCode != "ERR_IMAGE_GEN" || report.FailureReasons[0].Count != 2 {
		t.Errorf("ranking wrong: %+v", report.FailureReasons)
	}
}
