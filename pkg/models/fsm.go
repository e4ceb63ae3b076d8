package models

import (
	"fmt"
)

// statusOrder gives every pipeline status its position in the fixed
// forward-moving sequence. FAILED is reachable from any live status and
// deliberately has no position here.
var statusOrder = map[JobStatus]int{
	JobStatusQueued:        0,
	JobStatusScripting:     1,
	JobStatusVoiceGen:      2,
	JobStatusAlignment:     3,
	JobStatusVisualPlan:    4,
	JobStatusImageGen:      5,
	JobStatusTimelineBuild: 6,
	JobStatusRendering:     7,
	JobStatusPackaging:     8,
	JobStatusReady:         9,
}

// StageStatuses lists the pipeline statuses in execution order,
// QUEUED excluded, READY included as the terminal success status.
var StageStatuses = []JobStatus{
	JobStatusScripting,
	JobStatusVoiceGen,
	JobStatusAlignment,
	JobStatusVisualPlan,
	JobStatusImageGen,
	JobStatusTimelineBuild,
	JobStatusRendering,
	JobStatusPackaging,
	JobStatusReady,
}

// StatusIndex returns the position of a status in the forward sequence,
// or -1 for FAILED and unknown statuses.
func StatusIndex(status JobStatus) int {
	idx, ok := statusOrder[status]
	if !ok {
		return -1
	}
	return idx
}

// ValidateTransition checks that a status change obeys the strictly
// forward-moving pipeline. Re-entering the current status is allowed:
// a resume restarts the stage the job was in when it was interrupted.
func ValidateTransition(from, to JobStatus) error {
	if IsTerminalState(from) {
		return fmt.Errorf("job is terminal in %s, no transition to %s allowed", from, to)
	}

	if to == JobStatusFailed {
		return nil // any live status can fail
	}

	fromIdx, ok := statusOrder[from]
	if !ok {
		return fmt.Errorf("unknown source status: %s", from)
	}
	toIdx, ok := statusOrder[to]
	if !ok {
		return fmt.Errorf("unknown target status: %s", to)
	}

	if toIdx < fromIdx {
		return fmt.Errorf("invalid transition from %s to %s: pipeline only moves forward", from, to)
	}
	return nil
}

// ValidateProgress enforces the monotone progress invariant.
func ValidateProgress(current, next int) error {
	if next < 0 || next > 100 {
		return fmt.Errorf("progress %d out of range 0-100", next)
	}
	if next < current {
		return fmt.Errorf("progress may not decrease: %d -> %d", current, next)
	}
	return nil
}
