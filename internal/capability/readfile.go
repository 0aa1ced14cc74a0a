package capability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loopagent/loopagent/internal/chain"
)

// maxFileBytes caps how much file content a single read returns.
const maxFileBytes = 64 * 1024

// FileReader reads files restricted to a configured root directory.
type FileReader struct {
	root string
}

func NewFileReader(root string) *FileReader {
	return &FileReader{root: root}
}

// Descriptor returns the read_file capability descriptor.
func (f *FileReader) Descriptor() chain.Descriptor {
	return chain.Descriptor{
		Name:        "read_file",
		Description: "Read the contents of a file under the configured root directory",
		Args: []chain.ArgSpec{
			{Name: "file_path", Type: "string", Description: "Path of the file to read, relative to the root", Required: true},
		},
	}
}

// Invoke reads the file. Paths escaping the root are rejected.
func (f *FileReader) Invoke(_ context.Context, args map[string]any) (map[string]any, error) {
	rel, ok := args["file_path"].(string)
	if !ok || rel == "" {
		return nil, fmt.Errorf("file_path must be a non-empty string")
	}
	if f.root == "" {
		return nil, fmt.Errorf("file reads are not configured")
	}

	root, err := filepath.Abs(f.root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	path := filepath.Join(root, filepath.FromSlash(rel))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return nil, fmt.Errorf("file_path %q escapes the allowed root", rel)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	truncated := false
	if len(data) > maxFileBytes {
		data = data[:maxFileBytes]
		truncated = true
	}

	return map[string]any{
		"success":   true,
		"file_path": rel,
		"content":   string(data),
		"truncated": truncated,
	}, nil
}

// RegisterFileReader registers the read_file capability.
func RegisterFileReader(reg *chain.Registry, f *FileReader) error {
	return reg.Register(f.Descriptor(), f.Invoke)
}
