package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gengate/internal/domain"
	"gengate/internal/jobstore"
)

type fakeSource struct {
	mu      sync.Mutex
	records map[domain.JobKind][]jobstore.JobRecord
	errs    map[domain.JobKind]error
	queries []jobstore.ListQuery
}

func (f *fakeSource) List(_ context.Context, q jobstore.ListQuery) ([]jobstore.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := f.errs[q.Kind]; err != nil {
		return nil, err
	}
	return f.records[q.Kind], nil
}

func videoRecord(id string, createdAt time.Time) jobstore.JobRecord {
	return jobstore.JobRecord{
		ID:           id,
		ExecutionID:  "exec-" + id,
		Kind:         domain.JobKindVideo,
		Status:       domain.JobStatusCompleted,
		WorkflowName: "lipsync_multitalk",
		OutputURLs:   []string{"http://engine:8188/view?filename=" + id + ".mp4&type=output"},
		CreatedAt:    createdAt,
	}
}

func imageRecord(id string, createdAt time.Time) jobstore.JobRecord {
	return jobstore.JobRecord{
		ID:           id,
		ExecutionID:  "exec-" + id,
		Kind:         domain.JobKindImage,
		Status:       domain.JobStatusCompleted,
		WorkflowName: "image_generate",
		OutputURLs:   []string{"http://engine:8188/view?filename=" + id + ".png&type=output"},
		CreatedAt:    createdAt,
	}
}

func TestFetchMergesNewestFirstAcrossCollections(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{records: map[domain.JobKind][]jobstore.JobRecord{
		domain.JobKindVideo: {videoRecord("v1", base)},
		domain.JobKindImage: {imageRecord("i1", base.Add(10*time.Second))},
	}}
	agg := NewAggregator(source, 3, nil)

	page, err := agg.Fetch(context.Background(), Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "i1", page.Items[0].RecordID)

	page, err = agg.Fetch(context.Background(), Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "i1", page.Items[0].RecordID)
	assert.Equal(t, "v1", page.Items[1].RecordID)
	assert.False(t, page.Partial)
}

func TestFetchRequestsOversizedWindow(t *testing.T) {
	source := &fakeSource{}
	agg := NewAggregator(source, 3, nil)

	_, err := agg.Fetch(context.Background(), Query{Limit: 10, Offset: 5})
	require.NoError(t, err)

	require.Len(t, source.queries, 2)
	for _, q := range source.queries {
		assert.Equal(t, 45, q.Limit) // (5+10)*3
	}
}

func TestFetchSingleWorkflowPushedToStore(t *testing.T) {
	source := &fakeSource{}
	agg := NewAggregator(source, 1, nil)

	_, err := agg.Fetch(context.Background(), Query{Limit: 5, WorkflowNames: []string{"image_generate"}})
	require.NoError(t, err)
	for _, q := range source.queries {
		assert.Equal(t, "image_generate", q.WorkflowName)
	}
}

func TestFetchSeveralWorkflowsFilteredClientSide(t *testing.T) {
	base := time.Now().UTC()
	other := imageRecord("i2", base.Add(time.Minute))
	other.WorkflowName = "style_transfer"
	source := &fakeSource{records: map[domain.JobKind][]jobstore.JobRecord{
		domain.JobKindVideo: {videoRecord("v1", base)},
		domain.JobKindImage: {imageRecord("i1", base.Add(time.Second)), other},
	}}
	agg := NewAggregator(source, 1, nil)

	page, err := agg.Fetch(context.Background(), Query{
		Limit:         10,
		WorkflowNames: []string{"lipsync_multitalk", "image_generate"},
	})
	require.NoError(t, err)

	for _, q := range source.queries {
		assert.Empty(t, q.WorkflowName, "several names never reach the store query")
	}
	require.Len(t, page.Items, 2)
	assert.Equal(t, "i1", page.Items[0].RecordID)
	assert.Equal(t, "v1", page.Items[1].RecordID)
}

func TestFetchOneFailingSourceDegrades(t *testing.T) {
	base := time.Now().UTC()
	source := &fakeSource{
		records: map[domain.JobKind][]jobstore.JobRecord{
			domain.JobKindImage: {imageRecord("i1", base)},
		},
		errs: map[domain.JobKind]error{
			domain.JobKindVideo: errors.New("store returned 502"),
		},
	}
	agg := NewAggregator(source, 2, nil)

	page, err := agg.Fetch(context.Background(), Query{Limit: 5})
	require.NoError(t, err)
	assert.True(t, page.Partial)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "i1", page.Items[0].RecordID)
}

func TestFetchBothSourcesFailing(t *testing.T) {
	boom := errors.New("store down")
	source := &fakeSource{errs: map[domain.JobKind]error{
		domain.JobKindVideo: boom,
		domain.JobKindImage: boom,
	}}
	agg := NewAggregator(source, 2, nil)

	_, err := agg.Fetch(context.Background(), Query{Limit: 5})
	require.ErrorIs(t, err, ErrAllSourcesFailed)
}

func TestFetchExcludesTransientOnlyResults(t *testing.T) {
	base := time.Now().UTC()
	leaked := imageRecord("i-leak", base.Add(time.Hour))
	leaked.OutputURLs = []string{"blob:http://app.local/55c1d2", "data:image/png;base64,AAAA"}
	source := &fakeSource{records: map[domain.JobKind][]jobstore.JobRecord{
		domain.JobKindImage: {leaked, imageRecord("i1", base)},
	}}
	agg := NewAggregator(source, 1, nil)

	page, err := agg.Fetch(context.Background(), Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "i1", page.Items[0].RecordID)
}

func TestFetchOffsetBeyondMergedItems(t *testing.T) {
	source := &fakeSource{records: map[domain.JobKind][]jobstore.JobRecord{
		domain.JobKindImage: {imageRecord("i1", time.Now().UTC())},
	}}
	agg := NewAggregator(source, 1, nil)

	page, err := agg.Fetch(context.Background(), Query{Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}
