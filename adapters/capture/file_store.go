package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/satriahrh/arunika/interpreter/domain/repositories"
)

// FileStore reads and deletes segment files on the local filesystem. URIs
// may be plain paths or file:// URLs.
type FileStore struct{}

var _ repositories.SegmentStore = FileStore{}

// Read implements repositories.SegmentStore
func (FileStore) Read(ctx context.Context, uri string) ([]byte, error) {
	data, err := os.ReadFile(localPath(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to read segment: %w", err)
	}
	return data, nil
}

// Delete implements repositories.SegmentStore. Missing files are not an error.
func (FileStore) Delete(ctx context.Context, uri string) error {
	err := os.Remove(localPath(uri))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	return nil
}

func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
