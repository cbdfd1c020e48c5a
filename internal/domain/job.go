package domain

import "time"

// JobStatus is the provider-side state of a batch job
type JobStatus string

const (
	JobSubmitted  JobStatus = "submitted"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
	JobExpired    JobStatus = "expired"

	// JobIndeterminate is assigned locally when polling ran out before a terminal status
	JobIndeterminate JobStatus = "indeterminate"
)

// NormalizeJobStatus maps provider vocabularies onto JobStatus
func NormalizeJobStatus(s string) JobStatus {
	switch s {
	case "validating":
		return JobSubmitted
	case "in_progress", "finalizing", "cancelling":
		return JobInProgress
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	case "cancelled":
		return JobCancelled
	case "expired":
		return JobExpired
	default:
		return JobStatus(s)
	}
}

// IsTerminal returns true once the provider will not change the status any more
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobExpired:
		return true
	}
	return false
}

// RequestCounts mirrors the provider's per-job progress counters
type RequestCounts struct {
	Total     int
	Completed int
	Failed    int
}

// BatchJob is a submitted group of work items. It lives for one chunk's lifecycle.
type BatchJob struct {
	JobID            string
	InputArtifactID  string
	OutputArtifactID string // set on success
	ErrorArtifactID  string // set on partial or total failure
	Status           JobStatus
	Counts           RequestCounts
	CreatedAt        time.Time

	// IDMap maps correlation IDs to work item IDs for this job only
	IDMap map[string]int
}
