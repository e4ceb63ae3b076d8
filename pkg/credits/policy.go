package credits

import (
	"math"

	"github.com/clipforge/clipforge/pkg/models"
)

// Ledger is the external credit-ledger capability. Reservations happen
// before the runner starts; the runner only ever releases or finalizes.
type Ledger interface {
	ReleaseCredits(jobID string) error
	FinalizeCredits(userID, jobID string, finalCost int) error
}

// Policy decides whether reserved credits are refunded on failure.
// The threshold is configurable because where exactly the "real expense
// already incurred" line sits is a product decision, not mechanism.
type Policy struct {
	RefundThreshold models.JobStatus
}

// DefaultPolicy refunds failures before image generation: once TTS,
// transcription and image calls have been paid for on the user's behalf,
// the reservation stays spent.
func DefaultPolicy() Policy {
	return Policy{RefundThreshold: models.JobStatusImageGen}
}

// ShouldRefund is a pure function of the failed job's (status, progress).
// Refund is granted iff the job failed strictly before the threshold stage.
func (p Policy) ShouldRefund(status models.JobStatus, progress int) bool {
	idx := models.StatusIndex(status)
	if idx < 0 {
		// FAILED or unknown carries no stage position; be generous.
		return true
	}
	return idx < models.StatusIndex(p.RefundThreshold)
}

// FinalCredits computes the cost of a completed job from its narration
// duration: one credit per started minute, minimum one.
func FinalCredits(narrationDurationMs int64) int {
	credits := int(math.Ceil(float64(narrationDurationMs) / 60000))
	if credits < 1 {
		credits = 1
	}
	return credits
}
