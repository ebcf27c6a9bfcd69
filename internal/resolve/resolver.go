package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"gengate/internal/comfy"
	"gengate/internal/domain"
	"gengate/internal/infra"
	"gengate/internal/jobstore"
	"gengate/internal/telemetry"
)

// RecordStore is the slice of the job store client the resolver needs.
type RecordStore interface {
	GetByExecutionID(ctx context.Context, kind domain.JobKind, executionID string) (*jobstore.JobRecord, error)
	CompleteJob(ctx context.Context, kind domain.JobKind, executionID string, outputURLs []string, duration time.Duration) error
	FailJob(ctx context.Context, kind domain.JobKind, executionID, message string) error
}

// Resolver turns a terminal success response into durable result URLs and
// finalizes the job record. Resolving the same execution twice causes no
// duplicate side effects.
type Resolver struct {
	store  RecordStore
	logger *infra.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(store RecordStore, logger *infra.Logger) *Resolver {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Resolver{store: store, logger: logger}
}

// Result is the resolved artifact set of a completed job.
type Result struct {
	URL     string
	AllURLs []string
}

// Resolve builds fetchable URLs for the job's outputs and completes the
// record. If persisting the completion fails, the record is marked failed
// with a descriptive message rather than left processing, and the persistence
// error is returned.
func (r *Resolver) Resolve(ctx context.Context, kind domain.JobKind, engineURL, executionID string, outputs []comfy.OutputRef, started time.Time) (*Result, error) {
	if len(outputs) == 0 {
		return nil, errors.New("resolve: no outputs to resolve")
	}

	// Idempotence: a record that already reached completed keeps its stored
	// result; no second write is issued.
	if rec, err := r.store.GetByExecutionID(ctx, kind, executionID); err == nil {
		if rec.Status == domain.JobStatusCompleted {
			r.logger.Debug().Str("execution_id", executionID).Msg("resolve: record already completed")
			return &Result{URL: rec.ToDomain().ResultURL(), AllURLs: rec.OutputURLs}, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn().Err(err).Str("execution_id", executionID).Msg("resolve: status lookup failed, proceeding with completion write")
	}

	urls := make([]string, 0, len(outputs))
	for _, ref := range outputs {
		viewURL, err := comfy.ViewURL(engineURL, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve: build view url: %w", err)
		}
		urls = append(urls, viewURL)
	}
	durable := domain.FilterDurableURLs(urls)
	if len(durable) == 0 {
		message := "no durable result url could be resolved"
		r.failBestEffort(ctx, kind, executionID, message)
		return nil, errors.New("resolve: " + message)
	}

	var duration time.Duration
	if !started.IsZero() {
		duration = time.Since(started)
	}
	if err := r.store.CompleteJob(ctx, kind, executionID, durable, duration); err != nil {
		message := fmt.Sprintf("result resolved but persisting completion failed: %v", err)
		r.failBestEffort(ctx, kind, executionID, message)
		return nil, fmt.Errorf("resolve: persist completion: %w", err)
	}
	telemetry.JobsCompleted.WithLabelValues(string(kind)).Inc()
	r.logger.Info().
		Str("execution_id", executionID).
		Str("result_url", durable[0]).
		Int("outputs", len(durable)).
		Msg("resolve: job completed")
	return &Result{URL: durable[0], AllURLs: durable}, nil
}

// failBestEffort finalizes the record as failed, swallowing the secondary
// error: a record must never stay processing because the failure write also
// failed.
func (r *Resolver) failBestEffort(ctx context.Context, kind domain.JobKind, executionID, message string) {
	if err := r.store.FailJob(ctx, kind, executionID, message); err != nil {
		r.logger.Error().Err(err).Str("execution_id", executionID).Msg("resolve: failure write failed")
		return
	}
	telemetry.JobsFailed.WithLabelValues(string(kind)).Inc()
}
