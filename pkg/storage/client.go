// Package storage is the legacy storage backend: direct S3 writes to the
// historical bucket. The new multi-variant path never touches it, but
// references stored before the migration keep resolving through here.
package storage

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mediaforge/uploadkit/pkg/errors"
)

// Client provides S3 operations against the legacy bucket.
type Client struct {
	s3Client      *s3.Client
	bucket        string
	publicBaseURL string
}

// NewClient creates a legacy storage client. Credentials come from the
// default AWS chain; publicBaseURL is the address old references resolve
// through.
func NewClient(ctx context.Context, bucket, region, publicBaseURL string) (*Client, error) {
	slog.Info("legacy_storage_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{
		s3Client:      s3.NewFromConfig(cfg),
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Upload writes data to the legacy bucket under key.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	slog.Info("legacy_upload_start", "bucket", c.bucket, "key", key, "size_kb", len(data)/1024)

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.E(errors.KindCancelled, "legacy upload cancelled", ctx.Err())
		}
		slog.Error("legacy_put_object_failed", "key", key, "error", err)
		return errors.E(errors.KindTransient, "failed to put object", err)
	}

	slog.Info("legacy_upload_complete", "key", key)
	return nil
}

// Exists checks whether an object is present in the legacy bucket.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") {
			slog.Info("legacy_object_not_found", "key", key)
			return false, nil
		}
		slog.Error("legacy_head_object_failed", "key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	return true, nil
}

// Delete removes an object from the legacy bucket.
func (c *Client) Delete(ctx context.Context, key string) error {
	slog.Info("legacy_delete", "bucket", c.bucket, "key", key)

	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("legacy_delete_failed", "key", key, "error", err)
		return errors.E(errors.KindTransient, "failed to delete object", err)
	}
	return nil
}

// PublicURL forms the publicly resolvable address for a legacy key.
func (c *Client) PublicURL(key string) string {
	return c.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}
