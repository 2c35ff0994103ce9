// Package s3 mirrors staged entries to an S3 bucket, grounded on the
// teacher's shared/infrastructure/storage/adapters/s3/s3.go client. This
// is the optional secondary durability copy described in §11.1 of
// SPEC_FULL: local disk stays authoritative, S3 is best-effort.
package s3

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/1kimnet/geo-ingest/internal/model"
	"github.com/1kimnet/geo-ingest/internal/observability"
)

// Config configures the optional mirror. Zero value (empty Bucket)
// disables it at the call site.
type Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// Mirror copies StagedEntry payloads and .meta sidecars to S3 after the
// local write already succeeded.
type Mirror struct {
	client  *s3.Client
	bucket  string
	logger  observability.Logger
	metrics observability.Metrics
}

// New builds a Mirror from cfg, mirroring the teacher's buildAWSConfig
// credential resolution (static credentials when provided, otherwise the
// default provider chain).
func New(ctx context.Context, cfg Config, logger observability.Logger, metrics observability.Metrics) (*Mirror, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3 mirror: failed to build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Mirror{client: client, bucket: cfg.Bucket, logger: logger, metrics: metrics}, nil
}

// Put mirrors entry's payload under <authority>/<sourceId>/<canonicalName>
// and its .meta sidecar alongside it. Failure is logged and counted but
// never returned as fatal: the caller continues regardless.
func (m *Mirror) Put(ctx context.Context, entry model.StagedEntry) {
	start := time.Now()
	key := fmt.Sprintf("%s/%s/%s", entry.Authority, entry.SourceID, entry.CanonicalName)

	if err := m.putFile(ctx, key, entry.Path); err != nil {
		m.logger.Warn("s3 mirror put failed", "key", key, "error", err.Error())
		m.metrics.IncrementCounter("s3_mirror_put_errors_total", map[string]string{"authority": entry.Authority})
		return
	}

	if metaPath := metaSidecarPath(entry); metaPath != "" {
		if err := m.putFile(ctx, key+".meta", metaPath); err != nil {
			m.logger.Warn("s3 mirror meta put failed", "key", key, "error", err.Error())
		}
	}

	m.metrics.RecordHistogram("s3_mirror_put_duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{"authority": entry.Authority})
}

func (m *Mirror) putFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}

func metaSidecarPath(entry model.StagedEntry) string {
	dir := dirOf(entry.Path)
	if dir == "" {
		return ""
	}
	return dir + "/" + entry.CanonicalName + ".meta"
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
