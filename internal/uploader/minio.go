package uploader

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// ObjectStoreSink is a Sink backed by an S3-compatible object store,
// implemented over the store's native multipart upload session. Each part
// is one chunk from the uploader; re-putting a part number after a failed
// attempt overwrites it server-side, which is what makes the in-place
// retry safe.
//
// Note the store's minimum part size (5 MiB for every part but the last)
// sets a floor on usable chunk sizes; the default 64 MiB chunk is well
// clear of it.
type ObjectStoreSink struct {
	core   *minio.Core
	bucket string
	object string
	log    zerolog.Logger

	uploadID string
	parts    []minio.CompletePart
}

// NewObjectStoreSink returns a sink writing to bucket/object via core.
func NewObjectStoreSink(core *minio.Core, bucket, object string, log zerolog.Logger) *ObjectStoreSink {
	return &ObjectStoreSink{
		core:   core,
		bucket: bucket,
		object: object,
		log:    log,
	}
}

// Begin opens the multipart upload session.
func (s *ObjectStoreSink) Begin(ctx context.Context) error {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, s.object,
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("new multipart upload %s/%s: %w", s.bucket, s.object, err)
	}
	s.uploadID = uploadID
	s.log.Info().Str("bucket", s.bucket).Str("object", s.object).Msg("upload session opened")
	return nil
}

// WritePart uploads one part. Called again with the same part number after
// a failure, it replaces the previous attempt.
func (s *ObjectStoreSink) WritePart(ctx context.Context, partNumber int, data []byte) error {
	part, err := s.core.PutObjectPart(ctx, s.bucket, s.object, s.uploadID,
		partNumber, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectPartOptions{})
	if err != nil {
		return fmt.Errorf("put part %d: %w", partNumber, err)
	}

	done := minio.CompletePart{PartNumber: part.PartNumber, ETag: part.ETag}
	if partNumber <= len(s.parts) {
		s.parts[partNumber-1] = done // retried part
	} else {
		s.parts = append(s.parts, done)
	}
	return nil
}

// Complete commits the object from its uploaded parts.
func (s *ObjectStoreSink) Complete(ctx context.Context) error {
	_, err := s.core.CompleteMultipartUpload(ctx, s.bucket, s.object,
		s.uploadID, s.parts, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

// Abort abandons the session, discarding uploaded parts.
func (s *ObjectStoreSink) Abort(ctx context.Context) error {
	if s.uploadID == "" {
		return nil
	}
	return s.core.AbortMultipartUpload(ctx, s.bucket, s.object, s.uploadID)
}
