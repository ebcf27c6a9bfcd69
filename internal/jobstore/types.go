package jobstore

import (
	"time"

	"gengate/internal/domain"
)

// JobRecord is the wire representation of a persisted generation job.
type JobRecord struct {
	ID           string           `json:"id"`
	ExecutionID  string           `json:"execution_id"`
	Kind         domain.JobKind   `json:"kind"`
	Status       domain.JobStatus `json:"status"`
	WorkflowName string           `json:"workflow_name"`
	EngineURL    string           `json:"engine_url"`

	InputImageURLs []string `json:"input_image_urls,omitempty"`
	InputAudioURLs []string `json:"input_audio_urls,omitempty"`
	InputVideoURLs []string `json:"input_video_urls,omitempty"`

	OutputURLs []string       `json:"output_urls,omitempty"`
	Width      int            `json:"width,omitempty"`
	Height     int            `json:"height,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
}

// ToDomain converts the wire record into the domain job.
func (r *JobRecord) ToDomain() *domain.GenerationJob {
	return &domain.GenerationJob{
		RecordID:       r.ID,
		ExecutionID:    r.ExecutionID,
		Kind:           r.Kind,
		Status:         r.Status,
		WorkflowName:   r.WorkflowName,
		EngineURL:      r.EngineURL,
		InputImageURLs: r.InputImageURLs,
		InputAudioURLs: r.InputAudioURLs,
		InputVideoURLs: r.InputVideoURLs,
		OutputURLs:     r.OutputURLs,
		Width:          r.Width,
		Height:         r.Height,
		Parameters:     r.Parameters,
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt,
		Duration:       time.Duration(r.DurationMS) * time.Millisecond,
	}
}

// CreateJobRequest carries the kind-specific fields for a new record.
type CreateJobRequest struct {
	ExecutionID    string         `json:"execution_id"`
	Kind           domain.JobKind `json:"kind"`
	WorkflowName   string         `json:"workflow_name"`
	EngineURL      string         `json:"engine_url"`
	InputImageURLs []string       `json:"input_image_urls,omitempty"`
	InputAudioURLs []string       `json:"input_audio_urls,omitempty"`
	InputVideoURLs []string       `json:"input_video_urls,omitempty"`
	Width          int            `json:"width,omitempty"`
	Height         int            `json:"height,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// ListQuery filters a collection listing. A single workflow name is filtered
// server-side; multi-name filtering happens in the feed aggregator.
type ListQuery struct {
	Kind          domain.JobKind
	WorkflowName  string
	Offset        int
	Limit         int
	CompletedOnly bool
}
