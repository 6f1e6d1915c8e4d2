package background

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_WaitForTasks(t *testing.T) {
	r := NewRunner(nil, time.Second)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		r.Go("count", func(ctx context.Context) error {
			n.Add(1)
			return nil
		})
	}
	require.NoError(t, r.Wait(context.Background()))
	assert.Equal(t, int32(10), n.Load())
}

func TestRunner_LogsFailuresAndPanics(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(slog.New(slog.NewTextHandler(&buf, nil)), time.Second)

	r.Go("mail", func(ctx context.Context) error { return errors.New("smtp down") })
	r.Go("boom", func(ctx context.Context) error { panic("oops") })
	require.NoError(t, r.Wait(context.Background()))

	assert.Contains(t, buf.String(), "smtp down")
	assert.Contains(t, buf.String(), "oops")
}

func TestRunner_TaskTimeout(t *testing.T) {
	r := NewRunner(nil, 10*time.Millisecond)
	var cancelled atomic.Bool
	r.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	require.NoError(t, r.Wait(context.Background()))
	assert.True(t, cancelled.Load())
}

func TestRunner_WaitRespectsContext(t *testing.T) {
	r := NewRunner(nil, time.Minute)
	release := make(chan struct{})
	r.Go("blocked", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, r.Wait(context.Background()))
}
