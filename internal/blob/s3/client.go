// Package s3blob archives derived-state snapshots to object storage using AWS
// SDK v2. S3-compatible providers such as MinIO and Cloudflare R2 work via
// a custom endpoint.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const appID = "futarchyd"

// ClientConfig holds the snapshot bucket connection settings.
type ClientConfig struct {
	// Endpoint is empty for AWS S3, e.g. "localhost:9000" for MinIO.
	Endpoint string
	Region   string
	Bucket   string
	// Prefix is the key prefix the health check lists under.
	Prefix string
	// AccessKey and SecretKey fall back to the default AWS credential chain
	// (environment, shared config, instance role) when both are empty.
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
	// MaxAttempts bounds SDK retries per request; zero keeps the SDK default.
	MaxAttempts int
}

// Client is a connection to the snapshot bucket.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New creates a Client. Region defaults to us-east-1, which MinIO and R2
// accept.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return nil, fmt.Errorf("s3blob: access key and secret key must be set together")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithAppID(appID),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.MaxAttempts > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Client{s3: client, bucket: cfg.Bucket, prefix: snapshotPrefix(cfg.Prefix)}, nil
}

// Health lists at most one key under the snapshot prefix. That needs the
// same read permission the archiver uses to find the latest snapshot, which
// HeadBucket alone does not prove.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(c.prefix + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("s3blob: health s3://%s/%s: %w", c.bucket, c.prefix, err)
	}
	return nil
}

// normaliseEndpoint adds a scheme to a bare host:port endpoint.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" && parsed.Host != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
