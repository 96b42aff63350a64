//go:build gcp

package schemaloader

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/contractshield/pdp/pkg/schema"
)

// GCSConfig configures the GCS-backed schema loader.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCS returns a Loader that resolves a ref of the form "gs://object" (or a
// bare object name) against cfg.Bucket, using application default
// credentials.
func GCS(ctx context.Context, cfg GCSConfig) (schema.Loader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("schemaloader: create GCS client: %w", err)
	}

	return func(ctx context.Context, ref string) ([]byte, error) {
		object := cfg.Prefix + strings.TrimPrefix(ref, "gs://")
		reader, err := client.Bucket(cfg.Bucket).Object(object).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("schemaloader: gcs get %q: %w", ref, err)
		}
		defer func() { _ = reader.Close() }()

		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("schemaloader: gcs read %q: %w", ref, err)
		}
		return data, nil
	}, nil
}
