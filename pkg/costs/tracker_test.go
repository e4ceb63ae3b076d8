package costs

import (
	"math"
	"testing"

	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTrackerPricing(t *testing.T) {
	pricing := Pricing{
		LLMInputPer1KTokens:    0.001,
		LLMOutputPer1KTokens:   0.002,
		TTSPer1KCharacters:     0.01,
		TranscriptionPerMinute: 0.006,
		ImagePerImage:          0.05,
		StoragePerGB:           0.02,
	}

	tests := []struct {
		name     string
		track    func(tr *Tracker) float64
		wantCost float64
	}{
		{"llm tokens", func(tr *Tracker) float64 { return tr.TrackLLMTokens("script", 2000, 1000) }, 0.004},
		{"tts characters", func(tr *Tracker) float64 { return tr.TrackTTSCharacters("narration", 500) }, 0.005},
		{"transcription rounds up", func(tr *Tracker) float64 { return tr.TrackTranscriptionMs("align", 61000) }, 0.012},
		{"images", func(tr *Tracker) float64 { return tr.TrackImages("slots", 6) }, 0.3},
		{"storage", func(tr *Tracker) float64 { return tr.TrackStorageBytes("upload", 1<<30) }, 0.02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("job-1", pricing)
			got := tt.track(tr)
			if !almostEqual(got, tt.wantCost) {
				t.Errorf("incremental cost = %v, want %v", got, tt.wantCost)
			}
			if !almostEqual(tr.TotalCost(), tt.wantCost) {
				t.Errorf("TotalCost() = %v, want %v", tr.TotalCost(), tt.wantCost)
			}
		})
	}
}

func TestTrackerTotalIsSumOfEntries(t *testing.T) {
	tr := NewTracker("job-1", DefaultPricing())
	tr.TrackLLMTokens("script", 1500, 800)
	tr.TrackTTSCharacters("narration", 4200)
	tr.TrackTranscriptionMs("align", 65000)
	tr.TrackImages("slots", 8)
	tr.TrackStorageBytes("upload", 15<<20)

	var sum float64
	for _, e := range tr.Entries() {
		sum += e.CostUsd
	}
	if !almostEqual(tr.TotalCost(), sum) {
		t.Errorf("TotalCost() = %v, want sum of entries %v", tr.TotalCost(), sum)
	}

	summary := tr.GetSummary()
	if summary.Entries != 5 {
		t.Errorf("Entries = %d, want 5", summary.Entries)
	}
	if !almostEqual(summary.TotalUsd, sum) {
		t.Errorf("Summary.TotalUsd = %v, want %v", summary.TotalUsd, sum)
	}
	if summary.ByService[models.CostServiceGemini] <= 0 {
		t.Error("expected gemini costs in the breakdown")
	}

	// Recorded entries are immutable: a mutated copy must not leak back
	entries := tr.Entries()
	entries[0].CostUsd = 9999
	if almostEqual(tr.TotalCost(), 9999) || tr.TotalCost() > sum+1 {
		t.Error("mutating a returned entry changed the tracker's state")
	}
}

func TestTrackerFlushOnce(t *testing.T) {
	st := store.NewMemoryStore()
	tr := NewTracker("job-1", DefaultPricing())
	tr.TrackImages("slots", 2)

	if err := tr.Flush(st); err != nil {
		t.Fatalf("first Flush failed: %v", err)
	}
	if err := tr.Flush(st); err == nil {
		t.Fatal("second Flush should fail")
	}

	entries, err := st.GetCostEntries("job-1")
	if err != nil {
		t.Fatalf("GetCostEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("persisted entries = %d, want 1", len(entries))
	}
}

func TestLoadPricingFallsBack(t *testing.T) {
	pricing, err := LoadPricing("")
	if err != nil {
		t.Fatalf("LoadPricing(\"\") failed: %v", err)
	}
	if pricing != DefaultPricing() {
		t.Errorf("empty path should return defaults, got %+v", pricing)
	}
}
