// Package publish uploads export bundles to S3-compatible storage.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Paintersrp/quill/internal/config"
	"github.com/Paintersrp/quill/internal/export"
)

// ErrNoBucket is returned when publishing is requested without a bucket.
var ErrNoBucket = errors.New("no export bucket configured")

// Uploader is the part of manager.Uploader the publisher uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type Publisher struct {
	bucket   string
	prefix   string
	uploader Uploader
	logger   *slog.Logger
}

// New builds a publisher from the export settings, loading AWS credentials
// from the default chain.
func New(ctx context.Context, cfg config.ExportConfig, logger *slog.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, ErrNoBucket
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewWithUploader(cfg, manager.NewUploader(s3.NewFromConfig(awsCfg)), logger), nil
}

func NewWithUploader(cfg config.ExportConfig, up Uploader, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		uploader: up,
		logger:   logger,
	}
}

// Key is the object key a result is stored under.
func (p *Publisher) Key(res *export.Result) string {
	return path.Join(p.prefix, res.Filename)
}

// Publish uploads res and returns its location.
func (p *Publisher) Publish(ctx context.Context, res *export.Result) (string, error) {
	if p.bucket == "" {
		return "", ErrNoBucket
	}

	key := p.Key(res)
	out, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(res.Data),
		ContentType: aws.String(res.MimeType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", key, p.bucket, err)
	}

	location := out.Location
	if location == "" {
		location = fmt.Sprintf("s3://%s/%s", p.bucket, key)
	}
	p.logger.Info("export published", "bucket", p.bucket, "key", key, "bytes", len(res.Data))
	return location, nil
}
