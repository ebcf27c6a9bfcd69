package submit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gengate/internal/comfy"
	"gengate/internal/domain"
	"gengate/internal/infra"
	"gengate/internal/jobstore"
	"gengate/internal/media"
	"gengate/internal/telemetry"
	"gengate/internal/workflow"
)

// Engine is the slice of the execution engine client the adapter needs.
type Engine interface {
	Health(ctx context.Context, baseURL string) (*comfy.EngineStatus, error)
	UploadMedia(ctx context.Context, baseURL, filename, mime string, data []byte) (string, error)
	SubmitPrompt(ctx context.Context, baseURL string, workflow map[string]any) (string, error)
}

// RecordStore is the slice of the job store client the adapter needs.
type RecordStore interface {
	CreateJob(ctx context.Context, req jobstore.CreateJobRequest) (string, error)
	MarkProcessing(ctx context.Context, kind domain.JobKind, executionID string) error
	FailJob(ctx context.Context, kind domain.JobKind, executionID, message string) error
}

// Adapter turns user media and parameters into an accepted engine execution
// plus a backend job record. Failures before the record exists abort cleanly;
// failures after always finalize the record to a terminal state.
type Adapter struct {
	engine   Engine
	store    RecordStore
	registry *workflow.Registry
	logger   *infra.Logger
}

// NewAdapter constructs an Adapter.
func NewAdapter(engine Engine, store RecordStore, registry *workflow.Registry, logger *infra.Logger) *Adapter {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Adapter{engine: engine, store: store, registry: registry, logger: logger}
}

// Submission identifies an accepted job across both collaborators.
type Submission struct {
	RecordID    string
	ExecutionID string
	Kind        domain.JobKind
	EngineURL   string
	OutputNode  string
	StartedAt   time.Time
}

// SubjectMedia pairs one mask with its audio clip for a lipsync submission.
type SubjectMedia struct {
	Mask      domain.Mask
	AudioName string
	AudioData []byte
	AudioMIME string
	Start     time.Duration
	Length    time.Duration
}

// LipsyncRequest carries the inputs of a multi-person lipsync submission.
type LipsyncRequest struct {
	EngineURL    string
	ImageDataURL string
	ImageName    string
	Width        int
	Height       int
	Prompt       string
	TrimToAudio  bool
	Subjects     []SubjectMedia
}

// SubmitLipsync runs the full lipsync submission flow. The subject limit is
// validated before any network traffic; the engine health probe runs before
// any upload.
func (a *Adapter) SubmitLipsync(ctx context.Context, req LipsyncRequest) (*Submission, error) {
	if len(req.Subjects) == 0 {
		return nil, fmt.Errorf("submit: %w: at least one subject", domain.ErrMissingInput)
	}
	if len(req.Subjects) > domain.MaxSubjects {
		return nil, fmt.Errorf("submit: %d subjects requested: %w", len(req.Subjects), domain.ErrTooManySubjects)
	}
	if req.ImageDataURL == "" {
		return nil, fmt.Errorf("submit: %w: source image", domain.ErrMissingInput)
	}
	for i, s := range req.Subjects {
		if len(s.AudioData) == 0 {
			return nil, fmt.Errorf("submit: %w: audio for subject %d", domain.ErrMissingInput, i+1)
		}
	}
	width, height := req.Width, req.Height
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 360
	}

	tpl, err := a.registry.Get("lipsync_multitalk")
	if err != nil {
		return nil, err
	}

	if _, err := a.engine.Health(ctx, req.EngineURL); err != nil {
		return nil, fmt.Errorf("submit: %w: %v", domain.ErrEngineUnreachable, err)
	}

	imageData, _, err := media.DecodeDataURL(req.ImageDataURL)
	if err != nil {
		return nil, fmt.Errorf("submit: source image: %w", err)
	}
	imageName := req.ImageName
	if imageName == "" {
		imageName = "source-" + uuid.NewString()[:8] + ".png"
	}
	asset, err := media.PrepareImage(imageName, imageData, width, height)
	if err != nil {
		return nil, fmt.Errorf("submit: prepare source image: %w", err)
	}

	uploadedImage, err := a.engine.UploadMedia(ctx, req.EngineURL, asset.Filename, asset.MIME, asset.Data)
	if err != nil {
		return nil, fmt.Errorf("submit: upload source image: %w", err)
	}

	subjects := make([]domain.Subject, 0, len(req.Subjects))
	audioNames := make([]string, 0, len(req.Subjects))
	for i, s := range req.Subjects {
		name := s.AudioName
		if name == "" {
			name = fmt.Sprintf("voice-%d-%s.wav", i+1, uuid.NewString()[:8])
		}
		mime := s.AudioMIME
		if mime == "" {
			mime = "audio/wav"
		}
		uploaded, err := a.engine.UploadMedia(ctx, req.EngineURL, name, mime, s.AudioData)
		if err != nil {
			return nil, fmt.Errorf("submit: upload audio for subject %d: %w", i+1, err)
		}
		audioNames = append(audioNames, uploaded)
		subjects = append(subjects, domain.Subject{
			Mask: s.Mask,
			Track: domain.Track{
				ID:       fmt.Sprintf("track-%d", i+1),
				Filename: uploaded,
				Start:    s.Start,
				Length:   s.Length,
				MaskID:   s.Mask.ID,
			},
		})
	}

	params, err := workflow.LipsyncParams(uploadedImage, width, height, req.Prompt, req.TrimToAudio, subjects)
	if err != nil {
		return nil, err
	}
	graph, err := tpl.Fill(params)
	if err != nil {
		return nil, err
	}

	return a.finishSubmission(ctx, finishRequest{
		engineURL:    req.EngineURL,
		kind:         domain.JobKindVideo,
		workflowName: tpl.Name,
		outputNode:   tpl.OutputNode,
		graph:        graph,
		width:        width,
		height:       height,
		imageInputs:  []string{uploadedImage},
		audioInputs:  audioNames,
		// Stored as template tokens so a retry can refill the same graph;
		// uploaded media filenames stay valid on the engine.
		parameters: params,
	})
}

// ImageRequest carries the inputs of an image-kind submission
// (text-to-image or style transfer).
type ImageRequest struct {
	EngineURL    string
	WorkflowName string
	// SourceDataURL is required by workflows that restyle an uploaded image.
	SourceDataURL string
	SourceName    string
	Width         int
	Height        int
	Params        map[string]any
}

// SubmitImage runs an image-kind submission through the named template.
func (a *Adapter) SubmitImage(ctx context.Context, req ImageRequest) (*Submission, error) {
	tpl, err := a.registry.Get(req.WorkflowName)
	if err != nil {
		return nil, err
	}

	if _, err := a.engine.Health(ctx, req.EngineURL); err != nil {
		return nil, fmt.Errorf("submit: %w: %v", domain.ErrEngineUnreachable, err)
	}

	params := make(map[string]any, len(req.Params)+1)
	for k, v := range req.Params {
		params[k] = v
	}

	var imageInputs []string
	if req.SourceDataURL != "" {
		data, _, err := media.DecodeDataURL(req.SourceDataURL)
		if err != nil {
			return nil, fmt.Errorf("submit: source image: %w", err)
		}
		name := req.SourceName
		if name == "" {
			name = "source-" + uuid.NewString()[:8] + ".png"
		}
		maxW, maxH := req.Width, req.Height
		if maxW <= 0 {
			maxW = 2048
		}
		if maxH <= 0 {
			maxH = 2048
		}
		asset, err := media.PrepareImage(name, data, maxW, maxH)
		if err != nil {
			return nil, fmt.Errorf("submit: prepare source image: %w", err)
		}
		uploaded, err := a.engine.UploadMedia(ctx, req.EngineURL, asset.Filename, asset.MIME, asset.Data)
		if err != nil {
			return nil, fmt.Errorf("submit: upload source image: %w", err)
		}
		params["IMAGE_FILENAME"] = uploaded
		imageInputs = []string{uploaded}
	}

	graph, err := tpl.Fill(params)
	if err != nil {
		return nil, err
	}

	return a.finishSubmission(ctx, finishRequest{
		engineURL:    req.EngineURL,
		kind:         domain.JobKindImage,
		workflowName: tpl.Name,
		outputNode:   tpl.OutputNode,
		graph:        graph,
		width:        req.Width,
		height:       req.Height,
		imageInputs:  imageInputs,
		parameters:   params,
	})
}

type finishRequest struct {
	engineURL    string
	kind         domain.JobKind
	workflowName string
	outputNode   string
	graph        map[string]any
	width        int
	height       int
	imageInputs  []string
	audioInputs  []string
	parameters   map[string]any
}

// finishSubmission submits the filled graph and creates the job record. The
// record is created only after the engine accepts the prompt, so every
// rejection path leaves no dangling record behind.
func (a *Adapter) finishSubmission(ctx context.Context, req finishRequest) (*Submission, error) {
	executionID, err := a.engine.SubmitPrompt(ctx, req.engineURL, req.graph)
	if err != nil {
		return nil, fmt.Errorf("submit: engine rejected prompt: %w", err)
	}

	recordID, err := a.store.CreateJob(ctx, jobstore.CreateJobRequest{
		ExecutionID:    executionID,
		Kind:           req.kind,
		WorkflowName:   req.workflowName,
		EngineURL:      req.engineURL,
		InputImageURLs: req.imageInputs,
		InputAudioURLs: req.audioInputs,
		Width:          req.width,
		Height:         req.height,
		Parameters:     req.parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("submit: create job record: %w", err)
	}

	if err := a.store.MarkProcessing(ctx, req.kind, executionID); err != nil {
		// The record exists and the engine is already working; a failed
		// processing write is degraded bookkeeping, not a failed job.
		a.logger.Warn().Err(err).Str("execution_id", executionID).Msg("submit: mark processing failed")
	}

	telemetry.JobsSubmitted.WithLabelValues(string(req.kind)).Inc()
	a.logger.Info().
		Str("record_id", recordID).
		Str("execution_id", executionID).
		Str("workflow", req.workflowName).
		Msg("submit: job accepted")

	return &Submission{
		RecordID:    recordID,
		ExecutionID: executionID,
		Kind:        req.kind,
		EngineURL:   req.engineURL,
		OutputNode:  req.outputNode,
		StartedAt:   time.Now(),
	}, nil
}

// FinalizeFailure marks an existing record failed with the captured message,
// swallowing the write's own failure. Every post-creation failure path funnels
// through here so no record is left processing.
func (a *Adapter) FinalizeFailure(ctx context.Context, kind domain.JobKind, executionID, message string) {
	if err := a.store.FailJob(ctx, kind, executionID, message); err != nil {
		a.logger.Error().Err(err).Str("execution_id", executionID).Msg("submit: failure write failed")
		return
	}
	telemetry.JobsFailed.WithLabelValues(string(kind)).Inc()
}
