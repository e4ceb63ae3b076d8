package metrics

import (
	"sort"

	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

// StepAggregate summarizes the history of one step across many jobs
type StepAggregate struct {
	Step        string  `json:"step"`
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
	AvgMs       float64 `json:"avg_ms"`
	MedianMs    int64   `json:"median_ms"`
	P95Ms       int64   `json:"p95_ms"`
}

// FailureReason is one (error code, count) pair in the ranked failure list
type FailureReason struct {
	ErrorCode string          `json:"error_code"`
	Category  FailureCategory `json:"category"`
	Count     int             `json:"count"`
}

// Report is the read-only analytics rollup over persisted step metrics.
// It is computed from already-durable data and is not part of the live
// runner path.
type Report struct {
	Steps          []StepAggregate `json:"steps"`
	FailureReasons []FailureReason `json:"failure_reasons"`
}

// BuildReport aggregates the full step-metric history from the store
func BuildReport(st store.Store) (*Report, error) {
	history, err := st.GetAllStepMetrics()
	if err != nil {
		return nil, err
	}
	return buildReport(history), nil
}

func buildReport(history []*models.StepMetric) *Report {
	byStep := make(map[string][]*models.StepMetric)
	stepOrder := []string{}
	failureCounts := make(map[string]int)

	for _, m := range history {
		if m.Status == models.StepStatusSkipped {
			continue // resume fast-forwards say nothing about step health
		}
		if _, seen := byStep[m.Step]; !seen {
			stepOrder = append(stepOrder, m.Step)
		}
		byStep[m.Step] = append(byStep[m.Step], m)
		if m.Status == models.StepStatusFailed && m.ErrorCode != "" {
			failureCounts[m.ErrorCode]++
		}
	}

	report := &Report{}
	for _, step := range stepOrder {
		attempts := byStep[step]
		agg := StepAggregate{Step: step, Attempts: len(attempts)}

		durations := make([]int64, 0, len(attempts))
		var totalMs int64
		for _, m := range attempts {
			switch m.Status {
			case models.StepStatusSuccess:
				agg.Successes++
			case models.StepStatusFailed:
				agg.Failures++
			}
			durations = append(durations, m.DurationMs)
			totalMs += m.DurationMs
		}

		sort.Slice(durations, func(i, k int) bool { return durations[i] < durations[k] })
		agg.SuccessRate = float64(agg.Successes) / float64(agg.Attempts)
		agg.AvgMs = float64(totalMs) / float64(agg.Attempts)
		agg.MedianMs = percentile(durations, 50)
		agg.P95Ms = percentile(durations, 95)
		report.Steps = append(report.Steps, agg)
	}

	for code, count := range failureCounts {
		report.FailureReasons = append(report.FailureReasons, FailureReason{
			ErrorCode: code,
			Category:  CategoryForErrorCode(code),
			Count:     count,
		})
	}
	sort.Slice(report.FailureReasons, func(i, k int) bool {
		if report.FailureReasons[i].Count != report.FailureReasons[k].Count {
			return report.FailureReasons[i].Count > report.FailureReasons[k].Count
		}
		return report.FailureReasons[i].ErrorCode < report.FailureReasons[k].ErrorCode
	})

	return report
}

// percentile returns the nearest-rank percentile of sorted durations
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
