package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultEnqueueWait = time.Second
	defaultSinkTimeout = 5 * time.Second
)

// DispatcherConfig tunes the queue between request handlers and the sink.
type DispatcherConfig struct {
	BufferSize int
	// DropIfFull trades completeness for latency: a full queue drops the
	// event and counts it.
	DropIfFull bool
	// EnqueueWait bounds how long Emit waits for room before writing the
	// event itself (default 1s). Ignored with DropIfFull.
	EnqueueWait time.Duration
	// SinkTimeout bounds a single sink write on the worker (default 5s).
	SinkTimeout time.Duration
}

// Dispatcher writes audit events on a background worker so a slow store
// does not hold up the response.
//
// Outside DropIfFull no event is lost: a cancelled request context does not
// abandon the enqueue, and an event that cannot be queued in time, or that
// arrives after Close, is written on the caller's goroutine instead.
type Dispatcher struct {
	cfg  DispatcherConfig
	sink Sink

	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	dropped      atomic.Uint64
	writeThrough atomic.Uint64
}

func NewDispatcher(cfg DispatcherConfig, sink Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = defaultEnqueueWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		stop:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.queue:
			d.write(context.Background(), e)
		case <-d.stop:
			for {
				select {
				case e := <-d.queue:
					d.write(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(parent context.Context, e Event) {
	ctx, cancel := context.WithTimeout(parent, d.cfg.SinkTimeout)
	defer cancel()
	d.sink.Emit(ctx, e)
}

// Emit hands e to the worker.
func (d *Dispatcher) Emit(ctx context.Context, e Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// The event outlives the request that produced it.
	ctx = context.WithoutCancel(ctx)

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.writeThrough.Add(1)
		d.write(ctx, e)
		return
	}
	queued := d.enqueue(e)
	d.mu.RUnlock()

	if !queued && !d.cfg.DropIfFull {
		d.writeThrough.Add(1)
		d.write(ctx, e)
	}
}

// enqueue runs under the read lock so Close cannot stop the worker while
// an event is on its way into the queue.
func (d *Dispatcher) enqueue(e Event) bool {
	select {
	case d.queue <- e:
		return true
	default:
	}
	if d.cfg.DropIfFull {
		d.dropped.Add(1)
		return false
	}

	timer := time.NewTimer(d.cfg.EnqueueWait)
	defer timer.Stop()
	select {
	case d.queue <- e:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops the worker once every queued event has been written. Events
// emitted afterwards are written synchronously.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stop)
	d.wg.Wait()
}

// Dropped returns the number of events discarded by DropIfFull.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// WrittenThrough returns the number of events written on the caller's
// goroutine because the queue was full or closed.
func (d *Dispatcher) WrittenThrough() uint64 {
	if d == nil {
		return 0
	}
	return d.writeThrough.Load()
}
