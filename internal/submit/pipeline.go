package submit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gengate/internal/comfy"
	"gengate/internal/domain"
	"gengate/internal/infra"
	"gengate/internal/poll"
	"gengate/internal/resolve"
)

// Watcher drives status polling for one submitted execution.
type Watcher interface {
	Watch(ctx context.Context, engineURL, executionID, outputNode string, timeout time.Duration) *poll.Handle
}

// Finisher turns terminal engine outputs into persisted results.
type Finisher interface {
	Resolve(ctx context.Context, kind domain.JobKind, engineURL, executionID string, outputs []comfy.OutputRef, started time.Time) (*resolve.Result, error)
}

// Pipeline runs a submission end to end: accept the job, then track it in the
// background until the record reaches a terminal state. Every failure after
// the record exists finalizes it as failed; nothing is left processing.
type Pipeline struct {
	adapter      *Adapter
	watcher      Watcher
	finisher     Finisher
	videoTimeout time.Duration
	imageTimeout time.Duration
	logger       *infra.Logger

	wg sync.WaitGroup
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Adapter      *Adapter
	Watcher      Watcher
	Finisher     Finisher
	VideoTimeout time.Duration
	ImageTimeout time.Duration
	Logger       *infra.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	videoTimeout := opts.VideoTimeout
	if videoTimeout <= 0 {
		videoTimeout = 10 * time.Minute
	}
	imageTimeout := opts.ImageTimeout
	if imageTimeout <= 0 {
		imageTimeout = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = opts.Adapter.logger
	}
	return &Pipeline{
		adapter:      opts.Adapter,
		watcher:      opts.Watcher,
		finisher:     opts.Finisher,
		videoTimeout: videoTimeout,
		imageTimeout: imageTimeout,
		logger:       logger,
	}
}

// RunLipsync submits a lipsync job and tracks it in the background. The
// returned submission is available immediately; the record reaches a terminal
// state asynchronously.
func (p *Pipeline) RunLipsync(ctx context.Context, trackCtx context.Context, req LipsyncRequest) (*Submission, error) {
	sub, err := p.adapter.SubmitLipsync(ctx, req)
	if err != nil {
		return nil, err
	}
	p.track(trackCtx, sub)
	return sub, nil
}

// RunImage submits an image job and tracks it in the background.
func (p *Pipeline) RunImage(ctx context.Context, trackCtx context.Context, req ImageRequest) (*Submission, error) {
	sub, err := p.adapter.SubmitImage(ctx, req)
	if err != nil {
		return nil, err
	}
	p.track(trackCtx, sub)
	return sub, nil
}

// track watches the execution until a terminal event and finalizes the
// record. trackCtx outlives the submitting request.
func (p *Pipeline) track(trackCtx context.Context, sub *Submission) {
	timeout := p.imageTimeout
	if sub.Kind == domain.JobKindVideo {
		timeout = p.videoTimeout
	}
	handle := p.watcher.Watch(trackCtx, sub.EngineURL, sub.ExecutionID, sub.OutputNode, timeout)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for ev := range handle.Events() {
			switch ev.Status {
			case domain.JobStatusCompleted:
				if _, err := p.finisher.Resolve(trackCtx, sub.Kind, sub.EngineURL, sub.ExecutionID, ev.Outputs, sub.StartedAt); err != nil {
					p.logger.Error().Err(err).Str("execution_id", sub.ExecutionID).Msg("pipeline: resolving result failed")
				}
				return
			case domain.JobStatusFailed:
				p.adapter.FinalizeFailure(trackCtx, sub.Kind, sub.ExecutionID, ev.Message)
				return
			default:
				p.logger.Debug().
					Str("execution_id", sub.ExecutionID).
					Str("status", string(ev.Status)).
					Msg("pipeline: progress")
			}
		}
		// channel closed without a terminal event: the watch was cancelled
		// (shutdown). Finalize so the record is not left processing; nothing
		// resumes tracking after a restart. The write runs on a fresh
		// context because trackCtx is already cancelled here.
		finalCtx, cancel := context.WithTimeout(context.WithoutCancel(trackCtx), 10*time.Second)
		defer cancel()
		p.adapter.FinalizeFailure(finalCtx, sub.Kind, sub.ExecutionID, "tracking aborted before a terminal state")
	}()
}

// Wait blocks until every background tracker has exited. Used on shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Retry resubmits a failed job as a brand-new submission built from the
// stored record's inputs. The failed record keeps its terminal state; the
// retry gets a fresh record and execution id.
func (p *Pipeline) Retry(ctx context.Context, trackCtx context.Context, rec RetrySource) (*Submission, error) {
	tpl, err := p.adapter.registry.Get(rec.WorkflowName)
	if err != nil {
		return nil, err
	}

	if _, err := p.adapter.engine.Health(ctx, rec.EngineURL); err != nil {
		return nil, fmt.Errorf("submit: %w: %v", domain.ErrEngineUnreachable, err)
	}

	params := make(map[string]any, len(rec.Parameters))
	for k, v := range rec.Parameters {
		params[k] = v
	}
	graph, err := tpl.Fill(params)
	if err != nil {
		return nil, err
	}

	sub, err := p.adapter.finishSubmission(ctx, finishRequest{
		engineURL:    rec.EngineURL,
		kind:         rec.Kind,
		workflowName: tpl.Name,
		outputNode:   tpl.OutputNode,
		graph:        graph,
		width:        rec.Width,
		height:       rec.Height,
		imageInputs:  rec.InputImageURLs,
		audioInputs:  rec.InputAudioURLs,
		parameters:   rec.Parameters,
	})
	if err != nil {
		return nil, err
	}
	p.track(trackCtx, sub)
	return sub, nil
}

// RetrySource is the slice of a stored record a retry is rebuilt from.
type RetrySource struct {
	Kind           domain.JobKind
	WorkflowName   string
	EngineURL      string
	Width          int
	Height         int
	InputImageURLs []string
	InputAudioURLs []string
	Parameters     map[string]any
}
