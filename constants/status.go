package constants

// JobStatus is the canonical status for an extraction job.
type JobStatus string

// Stable values (store these exact strings in the DB and on the wire).
const (
	JobStatusPending    JobStatus = "pending"    // created, engine call not yet started
	JobStatusProcessing JobStatus = "processing" // engine call in flight
	JobStatusCompleted  JobStatus = "completed"  // terminal success (payload re-writable via result edit)
	JobStatusFailed     JobStatus = "failed"     // terminal failure
)

// Terminal reports whether a status admits no further automatic transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
