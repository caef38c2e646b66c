// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// MinioDeadLetterSink implements [DeadLetterSink] against an S3-compatible
// object store via minio-go, a teacher dependency otherwise unused by the
// domain. One object is written per {topic}/{partition}/{offset} key.
type MinioDeadLetterSink struct {
	client *minio.Client
	bucket string
}

// NewMinioDeadLetterSink builds a [MinioDeadLetterSink] over bucket.
func NewMinioDeadLetterSink(client *minio.Client, bucket string) *MinioDeadLetterSink {
	return &MinioDeadLetterSink{client: client, bucket: bucket}
}

// Put implements [DeadLetterSink].
func (s *MinioDeadLetterSink) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("sync: dead letter upload failed: %w", err)
	}
	return nil
}
