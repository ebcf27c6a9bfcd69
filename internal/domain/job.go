package domain

import "time"

// JobKind enumerates the generation job categories tracked by the gateway.
type JobKind string

const (
	JobKindVideo JobKind = "video"
	JobKindImage JobKind = "image"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions may occur.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
// Terminal states admit no transitions; a failed job is retried by creating a
// fresh record, never by resurrecting the old one.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	}
	return false
}

// GenerationJob is the unit of work tracked across submission and display.
// RecordID is assigned by the backend job store and keys the feed; ExecutionID
// is assigned by the execution engine and keys status polling. Both are kept.
type GenerationJob struct {
	RecordID     string
	ExecutionID  string
	Kind         JobKind
	Status       JobStatus
	WorkflowName string
	EngineURL    string

	InputImageURLs []string
	InputAudioURLs []string
	InputVideoURLs []string

	OutputURLs []string
	Width      int
	Height     int
	Parameters map[string]any

	ErrorMessage string
	CreatedAt    time.Time
	Duration     time.Duration
}

// ResultURL returns the primary durable output, or "" when none exists.
func (j *GenerationJob) ResultURL() string {
	durable := FilterDurableURLs(j.OutputURLs)
	if len(durable) == 0 {
		return ""
	}
	return durable[0]
}
