package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *captureSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDispatcher_CloseDrains(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 64}, sink)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{Action: ActionLoginSuccess})
	}
	d.Close()

	assert.Equal(t, int64(50), sink.count.Load())

	// Emit after Close writes through.
	d.Emit(context.Background(), Event{Action: ActionLoginSuccess})
	assert.Equal(t, int64(51), sink.count.Load())
	assert.Equal(t, uint64(1), d.WrittenThrough())
}

// stallFirstSink blocks the worker on its first event until released.
type stallFirstSink struct {
	release chan struct{}
	started atomic.Bool
	count   atomic.Int64
}

func (s *stallFirstSink) Emit(context.Context, Event) {
	if s.started.CompareAndSwap(false, true) {
		<-s.release
	}
	s.count.Add(1)
}

func TestDispatcher_FullQueueWithCancelledRequestKeepsEvent(t *testing.T) {
	sink := &stallFirstSink{release: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, EnqueueWait: 10 * time.Millisecond}, sink)

	d.Emit(context.Background(), Event{Action: ActionLoginFailed})
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	d.Emit(context.Background(), Event{Action: ActionLoginFailed})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, Event{Action: ActionMaliciousPayloadDetected})
	assert.Equal(t, uint64(1), d.WrittenThrough())
	assert.Equal(t, uint64(0), d.Dropped())

	close(sink.release)
	d.Close()
	assert.Equal(t, int64(3), sink.count.Load())
}

func TestDispatcher_DropIfFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, sink)

	// The worker blocks on the first event; one more fills the buffer.
	d.Emit(context.Background(), Event{})
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	d.Emit(context.Background(), Event{})
	d.Emit(context.Background(), Event{})
	d.Emit(context.Background(), Event{})

	assert.Equal(t, uint64(2), d.Dropped())
	close(sink.gate)
	d.Close()
}

func TestRecorder_RecordRedactsAndStamps(t *testing.T) {
	sink := &captureSink{}
	r := NewRecorder(sink, nil)
	actor := uuid.New()

	r.Record(context.Background(), Entry{
		Action:    ActionPasswordChanged,
		ActorID:   &actor,
		ActorName: "alice",
		Details:   map[string]any{"currentPassword": "x", "ip": "1.2.3.4"},
		Request:   RequestInfo{IP: "1.2.3.4", Method: "POST", Endpoint: "/api/auth/change-password"},
	})

	events := sink.Events()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, StatusSuccess, e.Status, "status defaults to success")
	assert.Equal(t, RedactedValue, e.Details["currentPassword"])
	assert.Equal(t, "/api/auth/change-password", e.Endpoint)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestNewPage(t *testing.T) {
	f := Filter{Page: 2, Limit: 10}
	p := NewPage(make([]Event, 10), 25, f)
	assert.Equal(t, 10, p.Count)
	assert.Equal(t, 25, p.Total)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 2, p.CurrentPage)

	empty := NewPage(nil, 0, Filter{Page: 1, Limit: 10})
	assert.NotNil(t, empty.Data)
	assert.Equal(t, 0, empty.TotalPages)
}

func TestFilter_Normalize(t *testing.T) {
	f := Filter{Page: 0, Limit: 5000}
	f.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, MaxPageSize, f.Limit)
	assert.Equal(t, 0, f.Offset())
}

func TestStartOfDayUTC(t *testing.T) {
	loc := time.FixedZone("NPT", 5*3600+45*60)
	t0 := time.Date(2026, 3, 2, 3, 0, 0, 0, loc) // 2026-03-01 21:15 UTC
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), StartOfDayUTC(t0))
}
