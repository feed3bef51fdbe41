package source

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labqc/dnamonitor/pkg/config"
)

// Compile-time interface check.
var _ Fetcher = (*s3Fetcher)(nil)

type s3Fetcher struct {
	client  *s3.Client
	bucket  string
	key     string
	timeout time.Duration
	maxSize int64
}

func newS3Fetcher(
	cfg *config.S3Config, timeout time.Duration, maxSize int64,
) *s3Fetcher {
	return &s3Fetcher{
		client:  newS3Client(cfg),
		bucket:  cfg.Bucket,
		key:     cfg.Key,
		timeout: timeout,
		maxSize: maxSize,
	}
}

func (f *s3Fetcher) Key() string {
	return "s3://" + f.bucket + "/" + f.key
}

// Fetch reads the workbook object. A missing object is an error.
func (f *s3Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting object %q: %w", f.key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := readLimited(out.Body, f.maxSize)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", f.key, err)
	}

	return data, nil
}

func newS3Client(cfg *config.S3Config) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			o.UsePathStyle = cfg.ForcePathStyle

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}
