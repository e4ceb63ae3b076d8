package costs

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

// Tracker accumulates the dollar cost of every external call one job makes.
// Entries are append-only and immutable; they are flushed to durable storage
// exactly once, at job completion, never incrementally.
type Tracker struct {
	mu      sync.Mutex
	jobID   string
	pricing Pricing
	entries []*models.CostEntry
	flushed bool
}

// NewTracker creates a cost tracker for one job
func NewTracker(jobID string, pricing Pricing) *Tracker {
	return &Tracker{
		jobID:   jobID,
		pricing: pricing,
	}
}

func (t *Tracker) append(service models.CostService, operation string, costUsd float64, meta map[string]float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, &models.CostEntry{
		JobID:     t.jobID,
		Service:   service,
		Operation: operation,
		CostUsd:   costUsd,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	})
	return costUsd
}

// TrackLLMTokens records an LLM completion priced per input/output token
func (t *Tracker) TrackLLMTokens(operation string, inputTokens, outputTokens int) float64 {
	cost := float64(inputTokens)/1000*t.pricing.LLMInputPer1KTokens +
		float64(outputTokens)/1000*t.pricing.LLMOutputPer1KTokens
	return t.append(models.CostServiceOpenAI, operation, cost, map[string]float64{
		"input_tokens":  float64(inputTokens),
		"output_tokens": float64(outputTokens),
	})
}

// TrackTTSCharacters records a text-to-speech call priced per character
func (t *Tracker) TrackTTSCharacters(operation string, characters int) float64 {
	cost := float64(characters) / 1000 * t.pricing.TTSPer1KCharacters
	return t.append(models.CostServiceOpenAI, operation, cost, map[string]float64{
		"characters": float64(characters),
	})
}

// TrackTranscriptionMs records a transcription call priced per audio-minute,
// rounded up to whole minutes the way the provider bills.
func (t *Tracker) TrackTranscriptionMs(operation string, audioMs int64) float64 {
	minutes := math.Ceil(float64(audioMs) / 60000)
	cost := minutes * t.pricing.TranscriptionPerMinute
	return t.append(models.CostServiceOpenAI, operation, cost, map[string]float64{
		"audio_ms": float64(audioMs),
	})
}

// TrackImages records an image-generation call priced per image
func (t *Tracker) TrackImages(operation string, count int) float64 {
	cost := float64(count) * t.pricing.ImagePerImage
	return t.append(models.CostServiceGemini, operation, cost, map[string]float64{
		"images": float64(count),
	})
}

// TrackStorageBytes records bytes uploaded or transferred
func (t *Tracker) TrackStorageBytes(operation string, bytes int64) float64 {
	cost := float64(bytes) / (1 << 30) * t.pricing.StoragePerGB
	return t.append(models.CostServiceStorage, operation, cost, map[string]float64{
		"bytes": float64(bytes),
	})
}

// TotalCost returns the sum of every entry recorded so far
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, e := range t.entries {
		total += e.CostUsd
	}
	return total
}

// Summary is the per-job cost rollup
type Summary struct {
	TotalUsd  float64                        `json:"total_usd"`
	ByService map[models.CostService]float64 `json:"by_service"`
	Entries   int                            `json:"entries"`
}

// GetSummary returns total cost plus a breakdown by service
func (t *Tracker) GetSummary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	summary := Summary{ByService: make(map[models.CostService]float64)}
	for _, e := range t.entries {
		summary.TotalUsd += e.CostUsd
		summary.ByService[e.Service] += e.CostUsd
		summary.Entries++
	}
	return summary
}

// Entries returns a copy of the recorded entries
func (t *Tracker) Entries() []*models.CostEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*models.CostEntry, len(t.entries))
	for i, e := range t.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Flush writes all entries to the store in one append. Calling it twice is
// an error: the single flush at job end is what keeps a crashing worker from
// leaving half a breakdown behind.
func (t *Tracker) Flush(st store.Store) error {
	t.mu.Lock()
	if t.flushed {
		t.mu.Unlock()
		return fmt.Errorf("cost tracker for job %s already flushed", t.jobID)
	}
	entries := t.entries
	t.flushed = true
	t.mu.Unlock()

	return st.AppendCostEntries(entries)
}
