package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gengate/internal/comfy"
	"gengate/internal/domain"
	"gengate/internal/feed"
	"gengate/internal/infra"
	"gengate/internal/jobstore"
	"gengate/internal/submit"
	"gengate/internal/workflow"
)

// Pipeline runs submissions end to end.
type Pipeline interface {
	RunLipsync(ctx context.Context, trackCtx context.Context, req submit.LipsyncRequest) (*submit.Submission, error)
	RunImage(ctx context.Context, trackCtx context.Context, req submit.ImageRequest) (*submit.Submission, error)
	Retry(ctx context.Context, trackCtx context.Context, rec submit.RetrySource) (*submit.Submission, error)
}

// Engine probes the execution engine.
type Engine interface {
	Health(ctx context.Context, baseURL string) (*comfy.EngineStatus, error)
}

// Records reads job records from the backend store.
type Records interface {
	GetByExecutionID(ctx context.Context, kind domain.JobKind, executionID string) (*jobstore.JobRecord, error)
}

type App struct {
	Cfg      *infra.Config
	Logger   *infra.Logger
	Pipeline Pipeline
	Engine   Engine
	Records  Records
	Feed     feed.Fetcher
	Registry *workflow.Registry

	// TrackCtx outlives individual requests so background trackers survive
	// the submitting request's cancellation. Defaults to context.Background.
	TrackCtx context.Context
}

func (a *App) trackCtx() context.Context {
	if a.TrackCtx != nil {
		return a.TrackCtx
	}
	return context.Background()
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]any{
		"success": false,
		"error":   errCode,
		"message": msg,
	})
}

// engineURL falls back to the configured default when the request omits one.
func (a *App) engineURL(requested string) string {
	if requested != "" {
		return requested
	}
	return a.Cfg.DefaultEngineURL
}

type jobResponse struct {
	RecordID    string `json:"record_id"`
	ExecutionID string `json:"execution_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
}

func submissionResponse(sub *submit.Submission) jobResponse {
	return jobResponse{
		RecordID:    sub.RecordID,
		ExecutionID: sub.ExecutionID,
		Kind:        string(sub.Kind),
		Status:      string(domain.JobStatusProcessing),
		StartedAt:   sub.StartedAt.UTC().Format(time.RFC3339),
	}
}

// parseKind maps a path segment to a job kind.
func parseKind(raw string) (domain.JobKind, bool) {
	switch raw {
	case "video":
		return domain.JobKindVideo, true
	case "image":
		return domain.JobKindImage, true
	default:
		return "", false
	}
}
