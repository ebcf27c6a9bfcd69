package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedFetcher blocks each Fetch call until its gate is released, returning
// the page queued for that call.
type gatedFetcher struct {
	mu    sync.Mutex
	calls int
	gates []chan *Page
}

func (g *gatedFetcher) Fetch(_ context.Context, _ Query) (*Page, error) {
	g.mu.Lock()
	idx := g.calls
	g.calls++
	gate := g.gates[idx]
	g.mu.Unlock()
	page, ok := <-gate
	if !ok {
		return nil, errors.New("fetch failed")
	}
	return page, nil
}

func TestRefresherAppliesFreshResponse(t *testing.T) {
	fetcher := &gatedFetcher{gates: []chan *Page{make(chan *Page, 1)}}
	fetcher.gates[0] <- &Page{Items: []Item{{RecordID: "a"}}}

	r := NewRefresher(fetcher, Query{Limit: 5}, time.Minute, nil)
	r.RefreshNow(context.Background())

	snap := r.Current()
	assert.Equal(t, uint64(1), snap.Seq)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "a", snap.Items[0].RecordID)

	select {
	case got := <-r.Updates():
		assert.Equal(t, snap.Seq, got.Seq)
	default:
		t.Fatal("expected an update to be delivered")
	}
}

func TestRefresherDropsStaleResponse(t *testing.T) {
	slow := make(chan *Page)
	fast := make(chan *Page, 1)
	fetcher := &gatedFetcher{gates: []chan *Page{slow, fast}}

	r := NewRefresher(fetcher, Query{Limit: 5}, time.Minute, nil)

	done := make(chan struct{})
	go func() {
		r.RefreshNow(context.Background()) // seq 1, blocked on slow gate
		close(done)
	}()

	// wait until the slow refresh has taken its sequence number
	require.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.calls == 1
	}, time.Second, time.Millisecond)

	fast <- &Page{Items: []Item{{RecordID: "new"}}}
	r.RefreshNow(context.Background()) // seq 2 completes first

	snap := r.Current()
	assert.Equal(t, uint64(2), snap.Seq)

	slow <- &Page{Items: []Item{{RecordID: "old"}}}
	<-done

	snap = r.Current()
	assert.Equal(t, uint64(2), snap.Seq, "stale response must not be applied")
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "new", snap.Items[0].RecordID)
}

func TestRefresherFailedFetchKeepsCurrent(t *testing.T) {
	ok := make(chan *Page, 1)
	ok <- &Page{Items: []Item{{RecordID: "a"}}}
	failing := make(chan *Page)
	close(failing)
	fetcher := &gatedFetcher{gates: []chan *Page{ok, failing}}

	r := NewRefresher(fetcher, Query{Limit: 5}, time.Minute, nil)
	r.RefreshNow(context.Background())
	r.RefreshNow(context.Background())

	snap := r.Current()
	assert.Equal(t, uint64(1), snap.Seq)
	require.Len(t, snap.Items, 1)
}

func TestRefresherUpdatesLatestWins(t *testing.T) {
	first := make(chan *Page, 1)
	second := make(chan *Page, 1)
	first <- &Page{Items: []Item{{RecordID: "a"}}}
	second <- &Page{Items: []Item{{RecordID: "b"}}}
	fetcher := &gatedFetcher{gates: []chan *Page{first, second}}

	r := NewRefresher(fetcher, Query{Limit: 5}, time.Minute, nil)
	r.RefreshNow(context.Background())
	r.RefreshNow(context.Background()) // displaces the unconsumed snapshot

	got := <-r.Updates()
	assert.Equal(t, "b", got.Items[0].RecordID)
	select {
	case extra := <-r.Updates():
		t.Fatalf("unexpected second update: %+v", extra)
	default:
	}
}
