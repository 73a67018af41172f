package uploader

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"
)

// Lifecycle states. Write is only valid in stateActive; Stop moves to
// stateClosed after the final flush. The uploader assumes single-threaded
// lifecycle ownership; calling Stop twice is a caller bug.
const (
	stateCreated = iota
	stateActive
	stateClosed
)

// Config tunes an Uploader. Zero values get defaults: 64 MiB chunks, 2
// retries per part flush, 2s retry backoff.
type Config struct {
	// ChunkSize is the flush threshold and nominal part size.
	ChunkSize int

	// PartRetries is how many times a failed part flush is retried in
	// place before the transfer fails. This is the one retry intrinsic to
	// the engine: a lost upload offset cannot be recovered by the caller.
	PartRetries int

	// RetryBackoff is the pause between part flush retries.
	RetryBackoff time.Duration

	Logger zerolog.Logger
}

// Uploader buffers produced bytes and flushes chunk-sized parts to a Sink.
//
// Write blocks until the buffer is below one chunk, which backpressures the
// producer whenever the download outruns the destination. Not safe for
// concurrent use; the Queued wrapper provides the producer/consumer split.
type Uploader struct {
	sink      Sink
	chunkSize int
	retries   int
	backoff   time.Duration
	log       zerolog.Logger

	// sleep is injectable to make retry tests fast.
	sleep func(time.Duration)

	state int
	buf   bytes.Buffer
	parts int
	hash  xxh3.Hasher

	// committed is atomic: the queued wrapper reports progress from the
	// producer side while the flush worker advances it.
	committed atomic.Int64
}

// New constructs an Uploader over sink, applying Config defaults.
func New(sink Sink, cfg Config) *Uploader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64 * 1024 * 1024
	}
	if cfg.PartRetries < 0 {
		cfg.PartRetries = 0
	} else if cfg.PartRetries == 0 {
		cfg.PartRetries = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Uploader{
		sink:      sink,
		chunkSize: cfg.ChunkSize,
		retries:   cfg.PartRetries,
		backoff:   cfg.RetryBackoff,
		log:       cfg.Logger,
		sleep:     time.Sleep,
	}
}

// Begin opens the upload session. Failure is wrapped in ErrUploadInit and
// aborts the whole pipeline.
func (u *Uploader) Begin(ctx context.Context) error {
	if u.state != stateCreated {
		return fmt.Errorf("uploader: Begin called in state %d", u.state)
	}
	if err := u.sink.Begin(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadInit, err)
	}
	u.state = stateActive
	return nil
}

// Write appends data to the internal buffer and flushes one chunk-sized
// part at a time while the buffer holds at least one chunk. The call
// returns only when the buffer is below the threshold again, so the
// producer cannot outrun the sink by more than one chunk here. Returns the
// bytes committed to the sink so far.
func (u *Uploader) Write(ctx context.Context, data []byte) (int64, error) {
	if u.state != stateActive {
		return u.committed.Load(), fmt.Errorf("uploader: Write called in state %d", u.state)
	}

	u.buf.Write(data)
	_, _ = u.hash.Write(data)

	for u.buf.Len() >= u.chunkSize {
		if err := u.flushPart(ctx, u.buf.Next(u.chunkSize)); err != nil {
			return u.committed.Load(), err
		}
	}
	return u.committed.Load(), nil
}

// Stop flushes any remaining buffered bytes as the final (possibly short,
// possibly empty) part and completes the destination object. An empty
// report still produces the object: one empty part is written so the
// destination exists.
func (u *Uploader) Stop(ctx context.Context) (int64, error) {
	if u.state != stateActive {
		return u.committed.Load(), fmt.Errorf("uploader: Stop called in state %d", u.state)
	}
	u.state = stateClosed

	if u.buf.Len() > 0 || u.parts == 0 {
		if err := u.flushPart(ctx, u.buf.Next(u.buf.Len())); err != nil {
			return u.committed.Load(), err
		}
	}
	if err := u.sink.Complete(ctx); err != nil {
		return u.committed.Load(), fmt.Errorf("uploader: complete: %w", err)
	}
	u.log.Info().
		Int64("bytes", u.committed.Load()).
		Int("parts", u.parts).
		Msg("upload stopped, final write count")
	return u.committed.Load(), nil
}

// Abort abandons the session after a pipeline failure. The destination is
// left in whatever state the store leaves aborted uploads in.
func (u *Uploader) Abort(ctx context.Context) error {
	u.state = stateClosed
	return u.sink.Abort(ctx)
}

// Committed returns the bytes committed to the sink so far.
func (u *Uploader) Committed() int64 {
	return u.committed.Load()
}

// Checksum returns the xxh3 hash of every byte accepted by Write, for
// idempotent re-run comparison in the transfer catalog.
func (u *Uploader) Checksum() uint64 {
	return u.hash.Sum64()
}

// Parts returns the number of parts flushed so far. Only stable once the
// upload has stopped.
func (u *Uploader) Parts() int {
	return u.parts
}

// flushPart writes one part, recovering transient failures in place by
// re-writing the same part number after a backoff.
func (u *Uploader) flushPart(ctx context.Context, data []byte) error {
	u.parts++
	var lastErr error
	for attempt := 0; attempt <= u.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			u.log.Warn().
				Int("part", u.parts).
				Int("attempt", attempt).
				Err(lastErr).
				Msg("recovering part upload")
			u.sleep(u.backoff)
		}
		if err := u.sink.WritePart(ctx, u.parts, data); err != nil {
			lastErr = err
			continue
		}
		u.committed.Add(int64(len(data)))
		u.log.Debug().
			Int("part", u.parts).
			Int64("bytes", u.committed.Load()).
			Msg("part written")
		return nil
	}
	return fmt.Errorf("uploader: part %d failed after %d attempts: %w",
		u.parts, u.retries+1, lastErr)
}
