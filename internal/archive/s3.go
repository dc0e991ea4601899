// Package archive uploads the artifacts of a sync run (log file and report)
// to an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	Region   string
	Bucket   string
	Prefix   string
	Endpoint string // optional, for MinIO and other S3-compatible stores
}

// Uploader writes run artifacts under <prefix>/<runID>/
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// New builds an uploader on the default AWS credential chain
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func NewWithClient(client *s3.Client, bucket, prefix string, logger *slog.Logger) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (u *Uploader) key(runID, name string) string {
	return path.Join(u.prefix, runID, name)
}

func (u *Uploader) put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}

// Archive uploads report as report.json and, when logPath is set, the run log.
// It returns the object keys written.
func (u *Uploader) Archive(ctx context.Context, runID, logPath string, report any) ([]string, error) {
	var keys []string

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	reportKey := u.key(runID, "report.json")
	if err := u.put(ctx, reportKey, "application/json", body); err != nil {
		return nil, err
	}
	keys = append(keys, reportKey)

	if logPath != "" {
		content, err := os.ReadFile(logPath)
		if err != nil {
			return keys, fmt.Errorf("read run log: %w", err)
		}
		logKey := u.key(runID, filepath.Base(logPath))
		if err := u.put(ctx, logKey, "text/plain", content); err != nil {
			return keys, err
		}
		keys = append(keys, logKey)
	}

	u.logger.Info("Run archived", "bucket", u.bucket, "objects", len(keys))
	return keys, nil
}
