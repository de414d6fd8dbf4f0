package domain

// JobStatus enumerates analysis lifecycle states. The pipeline only ever
// produces JobStatusDone and JobStatusFailed; the remaining values are shared
// with the gateway that tracks jobs before they reach this service.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// ConfidenceTier expresses how much trust the service places in its own
// verdict, independent of the verdict's direction.
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

// Valid reports whether t is one of the three known tiers.
func (t ConfidenceTier) Valid() bool {
	switch t {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	default:
		return false
	}
}
