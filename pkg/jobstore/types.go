package jobstore

import "time"

// Status is the lifecycle state of a delayed job.
//
// NOTE: These values are persisted in the delayed_job table and are part of
// the stable storage contract.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusQueued   Status = "QUEUED"
	StatusRunning  Status = "RUNNING"
	StatusError    Status = "ERROR"
	StatusFinished Status = "FINISHED"
	StatusUnknown  Status = "UNKNOWN"
)

// Terminal reports whether the status ends a single execution. ERROR jobs
// may still be re-queued by a later submission.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusFinished
}

// Job is a row in the delayed_job table.
//
// The id is a content-derived key (see registry.JobID), so two submissions
// with identical inputs land on the same row.
type Job struct {
	ID                string
	Type              string
	Status            Status
	Progress          int
	StatusLog         string
	StatusDescription string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	ExpiresAt  *time.Time

	// RawParams is the canonical JSON serialisation of the submission
	// parameters used in identity.
	RawParams string

	DockerImageURL string
	RunDirPath     string
	OutputDirPath  string

	NumFailures int

	// LSFJobID and LSFHost record the remote cluster assignment. LSFJobID
	// is zero until the cluster acknowledges the submission.
	LSFJobID int64
	LSFHost  string

	// RequirementsParams holds extra cluster-submit flags computed by the
	// job type's requirements script, if any.
	RequirementsParams string
}

// InputFile is a row in the input_file table. FieldKey is the submission
// form field the file arrived under; it keys the input download endpoint.
type InputFile struct {
	JobID        string
	FieldKey     string
	InternalPath string
}

// OutputFile is a row in the output_file table.
type OutputFile struct {
	JobID        string
	InternalPath string
	PublicURL    string
}
