package schemaloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/contractshield/pdp/pkg/schema"
)

// S3Config configures the S3-backed schema loader.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO, LocalStack, ...)
	Prefix   string // optional key prefix
}

// S3 returns a Loader that resolves a ref of the form "s3://key" (or a bare
// key) against cfg.Bucket, with cfg.Prefix prepended.
func S3(ctx context.Context, cfg S3Config) (schema.Loader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("schemaloader: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return func(ctx context.Context, ref string) ([]byte, error) {
		key := cfg.Prefix + strings.TrimPrefix(ref, "s3://")
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("schemaloader: s3 get %q: %w", ref, err)
		}
		defer func() { _ = out.Body.Close() }()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, out.Body); err != nil {
			return nil, fmt.Errorf("schemaloader: s3 read %q: %w", ref, err)
		}
		return buf.Bytes(), nil
	}, nil
}
