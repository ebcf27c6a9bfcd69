package feed

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"gengate/internal/domain"
	"gengate/internal/infra"
	"gengate/internal/jobstore"
)

// ErrAllSourcesFailed reports that neither collection could be listed. The
// caller should retry; the previous page stays valid.
var ErrAllSourcesFailed = errors.New("feed: all sources failed")

// Source lists job records from one backend collection.
type Source interface {
	List(ctx context.Context, q jobstore.ListQuery) ([]jobstore.JobRecord, error)
}

// Query selects a page of the merged feed. With exactly one workflow name the
// filter is pushed to the store; with several it is applied after fetching.
type Query struct {
	Limit         int
	Offset        int
	WorkflowNames []string
	CompletedOnly bool
}

// Item is one display candidate of the merged feed. URL is always durable;
// records whose outputs are all transient never become items.
type Item struct {
	RecordID     string
	ExecutionID  string
	Kind         domain.JobKind
	Status       domain.JobStatus
	WorkflowName string
	URL          string
	Width        int
	Height       int
	CreatedAt    time.Time
	Duration     time.Duration
}

// Page is one merged, sorted, truncated feed page. Partial marks a page built
// from a single surviving source.
type Page struct {
	Items   []Item
	Partial bool
}

// Aggregator merges the video and image collections into one feed. Both
// collections are fetched oversized so that a page boundary never hides newer
// items from the other collection, then merged, sorted newest first and cut
// to the requested window.
type Aggregator struct {
	store       Source
	fetchFactor int
	logger      *infra.Logger
}

// NewAggregator constructs an Aggregator. fetchFactor scales the per-source
// fetch size relative to the requested window; values below 1 are clamped.
func NewAggregator(store Source, fetchFactor int, logger *infra.Logger) *Aggregator {
	if fetchFactor < 1 {
		fetchFactor = 1
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Aggregator{store: store, fetchFactor: fetchFactor, logger: logger}
}

type sourceResult struct {
	kind    domain.JobKind
	records []jobstore.JobRecord
	err     error
}

// Fetch builds one feed page. The two collections are listed concurrently;
// one failing source degrades to a partial page, both failing returns
// ErrAllSourcesFailed.
func (a *Aggregator) Fetch(ctx context.Context, q Query) (*Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	fetchLimit := (q.Offset + limit) * a.fetchFactor

	listQuery := jobstore.ListQuery{
		Limit:         fetchLimit,
		CompletedOnly: q.CompletedOnly,
	}
	if len(q.WorkflowNames) == 1 {
		listQuery.WorkflowName = q.WorkflowNames[0]
	}

	results := make(chan sourceResult, 2)
	for _, kind := range []domain.JobKind{domain.JobKindVideo, domain.JobKindImage} {
		go func(kind domain.JobKind) {
			lq := listQuery
			lq.Kind = kind
			records, err := a.store.List(ctx, lq)
			results <- sourceResult{kind: kind, records: records, err: err}
		}(kind)
	}

	var records []jobstore.JobRecord
	var failed int
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			failed++
			a.logger.Warn().Err(res.err).Str("kind", string(res.kind)).Msg("feed: source failed")
			continue
		}
		records = append(records, res.records...)
	}
	if failed == 2 {
		return nil, ErrAllSourcesFailed
	}

	allow := workflowSet(q.WorkflowNames)
	items := make([]Item, 0, len(records))
	for i := range records {
		rec := &records[i]
		if allow != nil && !allow[rec.WorkflowName] {
			continue
		}
		item, ok := toItem(rec)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		// equal timestamps need a deterministic order across fetches
		return items[i].RecordID > items[j].RecordID
	})

	if q.Offset >= len(items) {
		items = nil
	} else {
		items = items[q.Offset:]
	}
	if len(items) > limit {
		items = items[:limit]
	}

	return &Page{Items: items, Partial: failed > 0}, nil
}

// workflowSet returns a client-side allow-list, or nil when the single-name
// case was already pushed to the store (or no filter was requested).
func workflowSet(names []string) map[string]bool {
	if len(names) < 2 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func toItem(rec *jobstore.JobRecord) (Item, bool) {
	job := rec.ToDomain()
	url := job.ResultURL()
	if job.Status == domain.JobStatusCompleted && url == "" {
		// completed without a durable output is not displayable
		return Item{}, false
	}
	return Item{
		RecordID:     job.RecordID,
		ExecutionID:  job.ExecutionID,
		Kind:         job.Kind,
		Status:       job.Status,
		WorkflowName: job.WorkflowName,
		URL:          url,
		Width:        job.Width,
		Height:       job.Height,
		CreatedAt:    job.CreatedAt,
		Duration:     job.Duration,
	}, true
}
