package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is what callers hand to Record.
type Entry struct {
	Action    string
	ActorID   *uuid.UUID
	ActorName string
	Details   map[string]any
	Status    Status
	Request   RequestInfo
}

// Recorder is the audit trail facade used by handlers and middleware.
type Recorder struct {
	sink  Sink
	store Store
	now   func() time.Time
}

// NewRecorder builds a recorder. sink is usually a *Dispatcher; store
// serves Query and Stats and may be nil when only logging is wanted.
func NewRecorder(sink Sink, store Store) *Recorder {
	return &Recorder{sink: sink, store: store, now: time.Now}
}

// Record redacts the entry and hands it to the sink. It never fails the caller.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.sink == nil {
		return
	}
	status := e.Status
	if status == "" {
		status = StatusSuccess
	}
	r.sink.Emit(ctx, Event{
		ID:        uuid.New(),
		Action:    e.Action,
		ActorID:   e.ActorID,
		ActorName: e.ActorName,
		Details:   Redact(e.Details),
		IP:        e.Request.IP,
		UserAgent: e.Request.UserAgent,
		Method:    e.Request.Method,
		Endpoint:  e.Request.Endpoint,
		Status:    status,
		CreatedAt: r.now().UTC(),
	})
}

// Query returns one page of events matching f.
func (r *Recorder) Query(ctx context.Context, f Filter) (*Page, error) {
	f.Normalize()
	events, total, err := r.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return NewPage(events, total, f), nil
}

// TodayStats aggregates events since midnight UTC.
func (r *Recorder) TodayStats(ctx context.Context) (*Stats, error) {
	stats, err := r.store.Stats(ctx, StartOfDayUTC(r.now()), 5)
	if err != nil {
		return nil, err
	}
	if stats.TopActions == nil {
		stats.TopActions = []ActionCount{}
	}
	return stats, nil
}
