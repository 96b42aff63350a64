// Package schemaloader provides reference schema_loader(ref) implementations
// for the contract stage (spec §4.4): filesystem, S3, and GCS. Each returns
// a schema.Loader closure that pkg/schema.Cache calls on a cache miss.
// Grounded on the teacher's pkg/artifacts (s3_store.go, gcs_store.go) for
// the cloud-backend shapes, and pkg/policyloader/loader.go for the
// filesystem-read idiom.
package schemaloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/contractshield/pdp/pkg/schema"
)

// FS returns a Loader that resolves refs as paths relative to root. A ref
// that attempts to escape root via ".." is rejected.
func FS(root string) schema.Loader {
	return func(_ context.Context, ref string) ([]byte, error) {
		rel := strings.TrimPrefix(ref, "file://")
		clean := filepath.Clean(rel)
		if strings.HasPrefix(clean, "..") {
			return nil, fmt.Errorf("schemaloader: ref %q escapes root", ref)
		}
		path := filepath.Join(root, clean)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("schemaloader: read %s: %w", path, err)
		}
		return data, nil
	}
}
