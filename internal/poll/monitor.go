package poll

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gengate/internal/comfy"
	"gengate/internal/domain"
	"gengate/internal/infra"
	"gengate/internal/telemetry"
)

// HistoryFetcher is the slice of the engine client the monitor needs.
type HistoryFetcher interface {
	History(ctx context.Context, baseURL, executionID string) (*comfy.History, error)
}

// Event is the typed progress report delivered while a job is watched.
// Events for one job arrive in poll order; after a terminal event the
// channel is closed and nothing further is delivered.
type Event struct {
	Status  domain.JobStatus
	Message string
	Outputs []comfy.OutputRef
}

// Monitor drives status polling for submitted jobs. Each watched job runs a
// single scheduled loop with one timer handle; at most one history request is
// in flight per job at any time. Loops for different jobs interleave freely.
type Monitor struct {
	engine   HistoryFetcher
	interval time.Duration
	logger   *infra.Logger
}

// Options configures a Monitor.
type Options struct {
	Engine   HistoryFetcher
	Interval time.Duration
	Logger   *infra.Logger
}

// NewMonitor constructs a Monitor with the configured poll interval.
func NewMonitor(opts Options) *Monitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Monitor{engine: opts.Engine, interval: interval, logger: logger}
}

// Handle controls one watch loop. Cancel stops the loop; once Cancel returns
// no further events are delivered, even for responses already in flight.
type Handle struct {
	events chan Event
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Events returns the channel on which progress is delivered. The channel is
// closed when the loop ends for any reason.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Cancel stops the watch loop. It is safe to call repeatedly and never panics.
func (h *Handle) Cancel() {
	h.once.Do(h.cancel)
	<-h.done
}

// Watch begins polling the execution id until a terminal state or the
// wall-clock timeout. outputNode designates the workflow's output slot; when
// set, only that node's artifacts count as the job's result.
func (m *Monitor) Watch(ctx context.Context, engineURL, executionID, outputNode string, timeout time.Duration) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		events: make(chan Event, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go m.run(ctx, h, engineURL, executionID, outputNode, timeout)
	return h
}

func (m *Monitor) run(ctx context.Context, h *Handle, engineURL, executionID, outputNode string, timeout time.Duration) {
	telemetry.WatchersActive.Inc()
	defer telemetry.WatchersActive.Dec()
	defer close(h.events)
	defer close(h.done)

	started := time.Now()
	deadline := started.Add(timeout)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if time.Now().After(deadline) {
			telemetry.PollTimeouts.Inc()
			m.logger.Warn().
				Str("execution_id", executionID).
				Dur("elapsed", time.Since(started)).
				Msg("poll: timed out waiting for terminal state")
			m.emit(ctx, h, Event{
				Status:  domain.JobStatusFailed,
				Message: fmt.Sprintf("timed out after %s waiting for result", timeout),
			})
			return
		}

		telemetry.PollTicks.Inc()
		history, err := m.engine.History(ctx, engineURL, executionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient failure: swallow and retry on the next tick.
			m.logger.Debug().Err(err).Str("execution_id", executionID).Msg("poll: history fetch failed, retrying")
			timer.Reset(m.interval)
			continue
		}

		switch history.State {
		case comfy.StateError:
			m.emit(ctx, h, Event{Status: domain.JobStatusFailed, Message: history.Message})
			return
		case comfy.StateSuccess:
			outputs := history.OutputsFor(outputNode)
			if len(outputs) == 0 {
				// Completed without artifacts in the designated slot: keep
				// waiting until the node reports or the timeout fires.
				m.emit(ctx, h, Event{Status: domain.JobStatusProcessing, Message: "finishing: waiting for output artifacts"})
				timer.Reset(m.interval)
				continue
			}
			m.emit(ctx, h, Event{Status: domain.JobStatusCompleted, Message: "generation complete", Outputs: outputs})
			return
		default:
			m.emit(ctx, h, Event{
				Status:  domain.JobStatusProcessing,
				Message: fmt.Sprintf("processing (%s elapsed)", time.Since(started).Round(time.Second)),
			})
			timer.Reset(m.interval)
		}
	}
}

// emit delivers an event unless the loop has been cancelled. Delivery after
// cancellation is suppressed even when the triggering response was already in
// flight.
func (m *Monitor) emit(ctx context.Context, h *Handle, ev Event) {
	select {
	case <-ctx.Done():
	case h.events <- ev:
	}
}
