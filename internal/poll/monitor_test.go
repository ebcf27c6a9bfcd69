package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gengate/internal/comfy"
	"gengate/internal/domain"
)

type scriptedEngine struct {
	calls     atomic.Int64
	responses []*comfy.History
	errs      []error
	final     *comfy.History
	finalErr  error
}

func (s *scriptedEngine) History(ctx context.Context, baseURL, executionID string) (*comfy.History, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.responses) {
		var err error
		if n < len(s.errs) {
			err = s.errs[n]
		}
		return s.responses[n], err
	}
	return s.final, s.finalErr
}

func running() *comfy.History { return &comfy.History{State: comfy.StateRunning} }

func collectTerminal(t *testing.T, h *Handle, within time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("no terminal event within %s (got %d events)", within, len(events))
		}
	}
}

func TestWatchReachesCompletedWithDesignatedOutputs(t *testing.T) {
	engine := &scriptedEngine{
		responses: []*comfy.History{running(), running()},
		final: &comfy.History{
			State: comfy.StateSuccess,
			Outputs: map[string][]comfy.OutputRef{
				"131": {{Filename: "out.mp4", Subfolder: "video", Type: "output"}},
				"17":  {{Filename: "debug.png", Type: "temp"}},
			},
		},
	}
	m := NewMonitor(Options{Engine: engine, Interval: 5 * time.Millisecond})
	h := m.Watch(context.Background(), "https://engine.example.com", "exec-1", "131", time.Second)

	events := collectTerminal(t, h, time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.JobStatusCompleted, last.Status)
	require.Len(t, last.Outputs, 1)
	assert.Equal(t, "out.mp4", last.Outputs[0].Filename)

	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, domain.JobStatusProcessing, ev.Status, "non-terminal events report processing")
	}
}

func TestWatchReportsEngineError(t *testing.T) {
	engine := &scriptedEngine{
		final: &comfy.History{State: comfy.StateError, Message: "CUDA out of memory"},
	}
	m := NewMonitor(Options{Engine: engine, Interval: 5 * time.Millisecond})
	h := m.Watch(context.Background(), "https://engine.example.com", "exec-2", "", time.Second)

	events := collectTerminal(t, h, time.Second)
	last := events[len(events)-1]
	assert.Equal(t, domain.JobStatusFailed, last.Status)
	assert.Equal(t, "CUDA out of memory", last.Message)
}

func TestWatchSwallowsTransientErrors(t *testing.T) {
	engine := &scriptedEngine{
		responses: []*comfy.History{nil, nil},
		errs:      []error{errors.New("connection reset"), errors.New("gateway timeout")},
		final: &comfy.History{
			State:   comfy.StateSuccess,
			Outputs: map[string][]comfy.OutputRef{"9": {{Filename: "img.png", Type: "output"}}},
		},
	}
	m := NewMonitor(Options{Engine: engine, Interval: 5 * time.Millisecond})
	h := m.Watch(context.Background(), "https://engine.example.com", "exec-3", "9", time.Second)

	events := collectTerminal(t, h, time.Second)
	last := events[len(events)-1]
	assert.Equal(t, domain.JobStatusCompleted, last.Status)
	for _, ev := range events {
		assert.NotEqual(t, domain.JobStatusFailed, ev.Status, "transient errors must not surface")
	}
}

func TestWatchTimesOutAndStopsPolling(t *testing.T) {
	engine := &scriptedEngine{final: running()}
	m := NewMonitor(Options{Engine: engine, Interval: 10 * time.Millisecond})
	h := m.Watch(context.Background(), "https://engine.example.com", "exec-4", "", 60*time.Millisecond)

	start := time.Now()
	events := collectTerminal(t, h, time.Second)
	elapsed := time.Since(start)

	last := events[len(events)-1]
	assert.Equal(t, domain.JobStatusFailed, last.Status)
	assert.Contains(t, last.Message, "timed out")
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "must not fail before the ceiling")

	after := engine.calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, engine.calls.Load(), "no requests may be issued after timeout")
}

func TestCancelSuppressesFurtherEvents(t *testing.T) {
	engine := &scriptedEngine{final: running()}
	m := NewMonitor(Options{Engine: engine, Interval: 5 * time.Millisecond})
	h := m.Watch(context.Background(), "https://engine.example.com", "exec-5", "", time.Minute)

	// Let the loop make progress, then cancel mid-flight.
	<-h.Events()
	h.Cancel()

	// Cancel waits for the loop to exit, so the channel is closed and drained.
	for ev := range h.Events() {
		_ = ev
	}
	after := engine.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, engine.calls.Load(), "no requests after cancellation")

	assert.NotPanics(t, func() { h.Cancel() }, "repeat cancel is safe")
}

func TestEventsArriveInPollOrder(t *testing.T) {
	engine := &scriptedEngine{
		responses: []*comfy.History{running(), running(), running()},
		final: &comfy.History{
			State:   comfy.StateSuccess,
			Outputs: map[string][]comfy.OutputRef{"9": {{Filename: "a.png", Type: "output"}}},
		},
	}
	m := NewMonitor(Options{Engine: engine, Interval: time.Millisecond})
	h := m.Watch(context.Background(), "https://engine.example.com", "exec-6", "9", time.Second)

	events := collectTerminal(t, h, time.Second)
	require.GreaterOrEqual(t, len(events), 2)
	for i, ev := range events {
		if i < len(events)-1 {
			assert.Equal(t, domain.JobStatusProcessing, ev.Status, "event %d", i)
		} else {
			assert.Equal(t, domain.JobStatusCompleted, ev.Status)
		}
	}
}
