package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gengate/internal/domain"
	"gengate/internal/media"
	"gengate/internal/submit"
)

type mediaPayload struct {
	DataURL string `json:"data_url"`
	Name    string `json:"name"`
}

type maskPayload struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
}

type subjectPayload struct {
	Mask      maskPayload  `json:"mask"`
	Audio     mediaPayload `json:"audio"`
	StartSec  float64      `json:"start_sec"`
	LengthSec float64      `json:"length_sec"`
}

type videoJobRequest struct {
	EngineURL   string           `json:"engine_url"`
	Image       mediaPayload     `json:"image"`
	Width       int              `json:"width"`
	Height      int              `json:"height"`
	Prompt      string           `json:"prompt"`
	TrimToAudio bool             `json:"trim_to_audio"`
	Subjects    []subjectPayload `json:"subjects"`
}

// VideoJobSubmit accepts a multi-person lipsync job. The response returns as
// soon as the engine accepts the prompt; tracking continues in the background.
func (a *App) VideoJobSubmit(w http.ResponseWriter, r *http.Request) {
	var req videoJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.Subjects) > domain.MaxSubjects {
		a.error(w, http.StatusUnprocessableEntity, "too_many_subjects", "at most 4 subjects per job")
		return
	}

	subjects := make([]submit.SubjectMedia, 0, len(req.Subjects))
	for i, s := range req.Subjects {
		audio, _, err := media.DecodeDataURL(s.Audio.DataURL)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "audio for subject "+strconv.Itoa(i+1)+" is not decodable")
			return
		}
		subjects = append(subjects, submit.SubjectMedia{
			Mask: domain.Mask{
				ID:    s.Mask.ID,
				Label: s.Mask.Label,
				X:     s.Mask.X,
				Y:     s.Mask.Y,
				W:     s.Mask.W,
				H:     s.Mask.H,
			},
			AudioName: s.Audio.Name,
			AudioData: audio,
			Start:     secondsToDuration(s.StartSec),
			Length:    secondsToDuration(s.LengthSec),
		})
	}

	sub, err := a.Pipeline.RunLipsync(r.Context(), a.trackCtx(), submit.LipsyncRequest{
		EngineURL:    a.engineURL(req.EngineURL),
		ImageDataURL: req.Image.DataURL,
		ImageName:    req.Image.Name,
		Width:        req.Width,
		Height:       req.Height,
		Prompt:       req.Prompt,
		TrimToAudio:  req.TrimToAudio,
		Subjects:     subjects,
	})
	if err != nil {
		a.submitError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, submissionResponse(sub))
}

type imageJobRequest struct {
	EngineURL   string         `json:"engine_url"`
	Workflow    string         `json:"workflow"`
	SourceImage mediaPayload   `json:"source_image"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Params      map[string]any `json:"params"`
}

// ImageJobSubmit accepts a text-to-image or style-transfer job.
func (a *App) ImageJobSubmit(w http.ResponseWriter, r *http.Request) {
	var req imageJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Workflow == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "workflow is required")
		return
	}

	sub, err := a.Pipeline.RunImage(r.Context(), a.trackCtx(), submit.ImageRequest{
		EngineURL:     a.engineURL(req.EngineURL),
		WorkflowName:  req.Workflow,
		SourceDataURL: req.SourceImage.DataURL,
		SourceName:    req.SourceImage.Name,
		Width:         req.Width,
		Height:        req.Height,
		Params:        req.Params,
	})
	if err != nil {
		a.submitError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, submissionResponse(sub))
}

// JobStatus returns the stored record for one execution. The store is the
// source of truth; background tracking keeps it current.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "kind must be video or image")
		return
	}
	executionID := chi.URLParam(r, "execution_id")
	if executionID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "execution_id required")
		return
	}

	rec, err := a.Records.GetByExecutionID(r.Context(), kind, executionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusBadGateway, "store_unavailable", "job store did not respond")
		return
	}

	job := rec.ToDomain()
	a.json(w, http.StatusOK, map[string]any{
		"record_id":     job.RecordID,
		"execution_id":  job.ExecutionID,
		"kind":          job.Kind,
		"status":        job.Status,
		"workflow_name": job.WorkflowName,
		"result_url":    job.ResultURL(),
		"output_urls":   domain.FilterDurableURLs(job.OutputURLs),
		"error_message": job.ErrorMessage,
		"created_at":    job.CreatedAt,
		"duration_ms":   job.Duration.Milliseconds(),
	})
}

// JobRetry resubmits a failed job as a brand-new submission. The failed
// record keeps its terminal state.
func (a *App) JobRetry(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "kind must be video or image")
		return
	}
	executionID := chi.URLParam(r, "execution_id")

	rec, err := a.Records.GetByExecutionID(r.Context(), kind, executionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusBadGateway, "store_unavailable", "job store did not respond")
		return
	}
	if rec.Status != domain.JobStatusFailed {
		a.error(w, http.StatusConflict, "not_retryable", "only failed jobs can be retried")
		return
	}

	sub, err := a.Pipeline.Retry(r.Context(), a.trackCtx(), submit.RetrySource{
		Kind:           rec.Kind,
		WorkflowName:   rec.WorkflowName,
		EngineURL:      a.engineURL(rec.EngineURL),
		Width:          rec.Width,
		Height:         rec.Height,
		InputImageURLs: rec.InputImageURLs,
		InputAudioURLs: rec.InputAudioURLs,
		Parameters:     rec.Parameters,
	})
	if err != nil {
		a.submitError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, submissionResponse(sub))
}

// submitError maps submission failures onto HTTP statuses.
func (a *App) submitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTooManySubjects):
		a.error(w, http.StatusUnprocessableEntity, "too_many_subjects", err.Error())
	case errors.Is(err, domain.ErrMissingInput):
		a.error(w, http.StatusBadRequest, "missing_input", err.Error())
	case errors.Is(err, domain.ErrEngineUnreachable):
		a.error(w, http.StatusBadGateway, "engine_unreachable", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: submission failed")
		a.error(w, http.StatusInternalServerError, "internal", "submission failed")
	}
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
