package uploader

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Queued runs an Uploader behind a bounded queue drained by a background
// goroutine, so the producer (download + repair) and the consumer (part
// flushes) proceed concurrently. The queue capacity is the backpressure
// valve: the producer can run ahead by at most QueueDepth chunks before
// Enqueue blocks.
type Queued struct {
	u     *Uploader
	queue chan []byte
	g     *errgroup.Group

	mu       sync.Mutex
	workerErr error
	failed    chan struct{}
}

// QueueDepth is the default queue capacity, in chunks. Small by design;
// the whole point is bounding memory to a few chunks.
const QueueDepth = 2

// StartQueued begins the upload session and starts the background flush
// worker. depth <= 0 uses QueueDepth.
func StartQueued(ctx context.Context, sink Sink, cfg Config, depth int) (*Queued, error) {
	if depth <= 0 {
		depth = QueueDepth
	}

	u := New(sink, cfg)
	if err := u.Begin(ctx); err != nil {
		return nil, err
	}

	q := &Queued{
		u:      u,
		queue:  make(chan []byte, depth),
		failed: make(chan struct{}),
	}
	q.g, _ = errgroup.WithContext(ctx)
	q.g.Go(func() error {
		for data := range q.queue {
			if q.err() != nil {
				continue // drain so the producer never deadlocks
			}
			if _, err := u.Write(ctx, data); err != nil {
				q.fail(err)
			}
		}
		return q.err()
	})
	return q, nil
}

// Enqueue hands one block of produced bytes to the flush worker. It blocks
// while QueueDepth chunks are already in flight, and fails fast once the
// worker has failed. The data slice is owned by the uploader after the
// call.
func (q *Queued) Enqueue(ctx context.Context, data []byte) error {
	select {
	case q.queue <- data:
		return nil
	case <-q.failed:
		return q.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue, waits for the worker to drain it, flushes the
// final partial chunk and completes the object. Returns the total bytes
// committed.
func (q *Queued) Stop(ctx context.Context) (int64, error) {
	close(q.queue)
	if err := q.g.Wait(); err != nil {
		return q.u.Committed(), fmt.Errorf("uploader: flush worker: %w", err)
	}
	return q.u.Stop(ctx)
}

// Abort abandons the session; used on pipeline failure.
func (q *Queued) Abort(ctx context.Context) error {
	close(q.queue)
	_ = q.g.Wait()
	return q.u.Abort(ctx)
}

// Committed returns the bytes committed to the sink so far.
func (q *Queued) Committed() int64 {
	return q.u.Committed()
}

// Checksum returns the xxh3 hash of every byte enqueued and written.
func (q *Queued) Checksum() uint64 {
	return q.u.Checksum()
}

// Parts returns the number of parts flushed. Only stable after Stop.
func (q *Queued) Parts() int {
	return q.u.Parts()
}

func (q *Queued) err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.workerErr
}

func (q *Queued) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.workerErr == nil {
		q.workerErr = err
		close(q.failed)
	}
}
