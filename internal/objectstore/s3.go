// Package objectstore persists chart captures to S3.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// keyTimeLayout renders the capture time as dd-mm-yyyy hh:mm:ss.
const keyTimeLayout = "02-01-2006 15:04:05"

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Persister uploads captures to a bucket and locates them by the URL S3
// reports for the uploaded object.
type S3Persister struct {
	bucket   string
	prefix   string
	uploader uploader
}

// NewS3Persister builds an uploader from the default AWS credential chain
// (environment, shared config, instance role).
func NewS3Persister(ctx context.Context, bucket, prefix string) (*S3Persister, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	slog.Info("s3 persister ready", "bucket", bucket, "prefix", prefix, "region", cfg.Region)
	return &S3Persister{bucket: bucket, prefix: prefix, uploader: manager.NewUploader(client)}, nil
}

// Key is the object key for a capture of symbol taken at at.
func (p *S3Persister) Key(symbol string, at time.Time) string {
	name := symbol + "-" + at.Format(keyTimeLayout) + ".png"
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

func (p *S3Persister) Store(ctx context.Context, image []byte, symbol string, at time.Time) (string, error) {
	key := p.Key(symbol, at)
	out, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(image),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("error saving screenshot in AWS S3: %w", err)
	}
	slog.Debug("s3 object uploaded", "bucket", p.bucket, "key", key, "location", out.Location)
	return out.Location, nil
}
