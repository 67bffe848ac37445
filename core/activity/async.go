package activity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"merchant-guard/core/utils"
)

var ErrRecorderClosed = errors.New("activity recorder closed")

// AsyncRecorder hands attempts to a single worker through a bounded queue.
// When the queue is full the attempt is dropped and counted; the caller never blocks.
type AsyncRecorder struct {
	next    Recorder
	queue   chan Attempt
	timeout time.Duration
	logger  *utils.Logger

	dropped atomic.Int64
	written atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncRecorder(next Recorder, buffer int, timeout time.Duration, logger *utils.Logger) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	r := &AsyncRecorder{
		next:    next,
		queue:   make(chan Attempt, buffer),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *AsyncRecorder) Record(_ context.Context, a Attempt) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRecorderClosed
	}
	select {
	case r.queue <- a:
		return nil
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warnf("ACCESS recorder queue full, dropped=%d", n)
		}
		return nil
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for a := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.next.Record(ctx, a); err != nil {
			r.logger.Errorf("ACCESS record failed guard=%s: %v", a.Guard, err)
		} else {
			r.written.Add(1)
		}
		cancel()
	}
}

// Close stops accepting attempts and waits for the queue to drain.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) Dropped() int64 { return r.dropped.Load() }

func (r *AsyncRecorder) Written() int64 { return r.written.Load() }

func (r *AsyncRecorder) QueueLen() int { return len(r.queue) }
