// Package artifact provides the long-response spill boundary: when an actor
// reply exceeds the room's configured byte budget, the full text is handed
// off to an Executor and a short pointer replaces it in chat.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Executor persists a full response somewhere addressable and returns a URL
// (or URL-shaped identifier) a human can follow to read it in full.
type Executor interface {
	Execute(ctx context.Context, fullResponse string) (url string, err error)
}

// FileExecutor writes overflow responses to a local directory, grounded on
// the teacher's file-backed store convention for on-disk persistence.
type FileExecutor struct {
	dir     string
	baseURL string
}

// NewFileExecutor returns an Executor writing into dir. baseURL prefixes the
// returned artifact identifier (e.g. "file://" or an http(s) base this
// directory is served under).
func NewFileExecutor(dir, baseURL string) *FileExecutor {
	return &FileExecutor{dir: dir, baseURL: baseURL}
}

func (f *FileExecutor) Execute(ctx context.Context, fullResponse string) (string, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: mkdir %s: %w", f.dir, err)
	}

	name := uuid.NewString() + ".txt"
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(fullResponse), 0o644); err != nil {
		return "", fmt.Errorf("artifact: write %s: %w", path, err)
	}

	return f.baseURL + "/" + name, nil
}
