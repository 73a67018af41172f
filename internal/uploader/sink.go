// Package uploader commits cleaned report bytes to the destination object
// store, decoupling the download/repair producer from the (higher-latency)
// upload via a bounded hand-off.
//
// Memory is the design constraint: total buffered bytes stay bounded by a
// small constant multiple of the chunk size no matter how large the report
// is. The Write path provides the backpressure (it blocks until the
// internal buffer drops below one chunk) and the queued variant adds a
// bounded channel so the producer can run ahead by a few chunks at most.
package uploader

import (
	"context"
	"errors"
)

// ErrUploadInit marks a failure to open the upload session against the
// destination. It is fatal: the pipeline aborts the transfer without
// retrying, leaving any partial object for next-run cleanup.
var ErrUploadInit = errors.New("uploader: upload session init failed")

// Sink is one resumable upload session against an object store. Parts are
// numbered from 1 and committed in order; re-writing a part number after a
// failed attempt must be safe (that is the recovery mechanism for transient
// flush errors).
//
// A Sink belongs to exactly one transfer: Begin once, WritePart in
// ascending order, then exactly one of Complete or Abort.
type Sink interface {
	Begin(ctx context.Context) error
	WritePart(ctx context.Context, partNumber int, data []byte) error
	Complete(ctx context.Context) error
	Abort(ctx context.Context) error
}
