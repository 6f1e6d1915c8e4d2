package audit

import (
	"context"
	"log/slog"
)

// Sink receives events from the dispatcher.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// StoreSink writes events to a Store. Write failures are logged and dropped.
type StoreSink struct {
	store  Store
	logger *slog.Logger
}

func NewStoreSink(store Store, logger *slog.Logger) *StoreSink {
	return &StoreSink{store: store, logger: logger}
}

func (s *StoreSink) Emit(ctx context.Context, e Event) {
	if err := s.store.Insert(ctx, &e); err != nil && s.logger != nil {
		s.logger.Error("failed to persist audit event", "error", err, "action", e.Action)
	}
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, e Event) {
	level := slog.LevelInfo
	switch e.Status {
	case StatusWarning:
		level = slog.LevelWarn
	case StatusFailure:
		level = slog.LevelError
	}
	attrs := []any{
		"action", e.Action,
		"status", e.Status,
		"ip", e.IP,
		"method", e.Method,
		"endpoint", e.Endpoint,
	}
	if e.ActorID != nil {
		attrs = append(attrs, "actor_id", e.ActorID.String(), "actor_name", e.ActorName)
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, "details", e.Details)
	}
	s.logger.Log(ctx, level, "audit", attrs...)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}
