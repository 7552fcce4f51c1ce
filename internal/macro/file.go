package macro

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencnc/cncstream/internal/protocol"
)

// FileReader reads a G-code file from a confined root directory for the loadfile command,
// rejecting any path that would escape the root.
type FileReader struct {
	Root string
}

func NewFileReader(root string) *FileReader {
	return &FileReader{Root: root}
}

func (r *FileReader) LoadFile(ctx context.Context, path string) (string, string, error) {
	full := filepath.Join(r.Root, path)
	if !strings.HasPrefix(full, filepath.Clean(r.Root)+string(filepath.Separator)) && full != filepath.Clean(r.Root) {
		return "", "", fmt.Errorf("macro: loadfile %q: escapes root %q", path, r.Root)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", "", fmt.Errorf("macro: loadfile %q: %w", path, err)
	}

	name := filepath.Base(path)
	return name, string(data), nil
}

var _ protocol.FileLoader = (*FileReader)(nil)
