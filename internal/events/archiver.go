package events

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Archiver ships rotated audit log segments to an S3 bucket, for
// long-term replication-event retention beyond whatever local retention
// the ledger database keeps. Best effort: a failed upload is logged and
// its rotated segment is left on disk without a retry, never propagated up
// to the dispatcher's hot path.
type S3Archiver struct {
	log      zerolog.Logger
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Archiver builds an archiver over client for bucket, prefixing every
// object key with prefix (e.g. the environment name).
func NewS3Archiver(client *s3.Client, bucket, prefix string, log zerolog.Logger) *S3Archiver {
	return &S3Archiver{
		log:      log.With().Str("component", "event_archiver").Logger(),
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

// Archive uploads body under key (joined to the configured prefix).
func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte) error {
	fullKey := key
	if a.prefix != "" {
		fullKey = a.prefix + "/" + key
	}

	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("archive %s to s3://%s/%s: %w", key, a.bucket, fullKey, err)
	}
	a.log.Debug().Str("key", fullKey).Int("bytes", len(body)).Msg("archived audit segment")
	return nil
}
