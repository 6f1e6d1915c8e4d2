package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	events  []Event
	cutoffs []time.Time
	err     error
}

func (s *fakeStore) Insert(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return s.err
}

func (s *fakeStore) Query(_ context.Context, f Filter) ([]Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...), len(s.events), s.err
}

func (s *fakeStore) Stats(context.Context, time.Time, int) (*Stats, error) {
	return &Stats{TotalToday: len(s.events)}, s.err
}

func (s *fakeStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	if s.err != nil {
		return 0, s.err
	}
	var kept []Event
	var n int64
	for _, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

func TestRetention_Sweep(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{events: []Event{
		{Action: "old", CreatedAt: now.Add(-100 * 24 * time.Hour)},
		{Action: "recent", CreatedAt: now.Add(-time.Hour)},
	}}
	r := &Retention{Store: store, now: func() time.Time { return now }}

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, store.events, 1)
	assert.Equal(t, "recent", store.events[0].Action)
	assert.Equal(t, now.Add(-DefaultRetention), store.cutoffs[0])
}

func TestRetention_RunStopsOnCancel(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	r := &Retention{
		Store:    store,
		Interval: 5 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.cutoffs) >= 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRecorder_QueryAndStats(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(NewStoreSink(store, nil), store)
	r.Record(context.Background(), Entry{Action: ActionLoginFailed, Status: StatusFailure})

	page, err := r.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.CurrentPage)
	assert.Equal(t, ActionLoginFailed, page.Data[0].Action)

	stats, err := r.TodayStats(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, stats.TopActions)
}
