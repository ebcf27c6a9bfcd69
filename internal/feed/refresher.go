package feed

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gengate/internal/infra"
	"gengate/internal/telemetry"
)

// Fetcher builds one feed page.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) (*Page, error)
}

// Snapshot is the feed state at one applied refresh. Seq orders snapshots;
// consumers can ignore it and just take the latest.
type Snapshot struct {
	Seq       uint64
	Items     []Item
	Partial   bool
	FetchedAt time.Time
}

// Refresher keeps a feed page fresh on an interval. Every refresh is stamped
// with a monotonically increasing sequence number before the fetch starts;
// a response is applied only when its number is higher than the last applied
// one, so a slow in-flight refresh can never overwrite a newer page.
type Refresher struct {
	fetcher  Fetcher
	query    Query
	interval time.Duration
	logger   *infra.Logger

	seq atomic.Uint64

	mu          sync.Mutex
	lastApplied uint64
	current     Snapshot

	updates chan Snapshot
}

// NewRefresher constructs a Refresher for the given query.
func NewRefresher(fetcher Fetcher, query Query, interval time.Duration, logger *infra.Logger) *Refresher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Refresher{
		fetcher:  fetcher,
		query:    query,
		interval: interval,
		logger:   logger,
		updates:  make(chan Snapshot, 1),
	}
}

// Current returns the last applied snapshot. A zero Seq means no refresh has
// completed yet.
func (r *Refresher) Current() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Updates delivers applied snapshots, latest wins: a slow consumer only ever
// misses intermediate pages, never the newest one.
func (r *Refresher) Updates() <-chan Snapshot {
	return r.updates
}

// Run refreshes on the configured interval until ctx is cancelled. A single
// timer drives the loop; refreshes run in their own goroutine so a slow
// store cannot stall the schedule.
func (r *Refresher) Run(ctx context.Context) {
	r.RefreshNow(ctx)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			go r.RefreshNow(ctx)
			timer.Reset(r.interval)
		}
	}
}

// RefreshNow fetches a page immediately and applies it if it is still the
// newest response.
func (r *Refresher) RefreshNow(ctx context.Context) {
	seq := r.seq.Add(1)
	page, err := r.fetcher.Fetch(ctx, r.query)
	if err != nil {
		r.logger.Warn().Err(err).Uint64("seq", seq).Msg("feed: refresh failed")
		return
	}
	r.apply(seq, page)
}

func (r *Refresher) apply(seq uint64, page *Page) {
	r.mu.Lock()
	if seq <= r.lastApplied {
		r.mu.Unlock()
		telemetry.FeedStaleDrops.Inc()
		r.logger.Debug().Uint64("seq", seq).Msg("feed: stale response dropped")
		return
	}
	r.lastApplied = seq
	snapshot := Snapshot{
		Seq:       seq,
		Items:     page.Items,
		Partial:   page.Partial,
		FetchedAt: time.Now(),
	}
	r.current = snapshot
	r.mu.Unlock()

	telemetry.FeedRefreshes.Inc()

	// latest wins: displace an unconsumed older snapshot
	for {
		select {
		case r.updates <- snapshot:
			return
		default:
			select {
			case <-r.updates:
			default:
			}
		}
	}
}
