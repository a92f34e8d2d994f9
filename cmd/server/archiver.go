package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/events"
)

// buildArchiver loads the default AWS credential chain and builds an S3
// archiver for the configured bucket. Only called when archive_s3_bucket is
// set; archival is a best-effort supplemented feature, never required for
// the replication core to run.
func buildArchiver(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*events.S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ArchiveS3Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return events.NewS3Archiver(client, cfg.ArchiveS3Bucket, "replication-core", log), nil
}
